package api

import (
	"errors"
	"fmt"
	"strings"

	"aigateway/internal/chat"
)

// validateGenerate checks request fields the gateway cannot repair.
func validateGenerate(req generateRequest) error {
	if len(req.Messages) == 0 {
		return errors.New("messages are required")
	}
	nonBlank := 0
	for i, msg := range req.Messages {
		if !chat.ValidRole(msg.Role) {
			return fmt.Errorf("messages[%d].role %q is not one of system, user, assistant", i, msg.Role)
		}
		if strings.TrimSpace(msg.Content) != "" {
			nonBlank++
		}
	}
	if nonBlank == 0 {
		return errors.New("at least one message must have content")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return errors.New("temperature must be between 0 and 2")
	}
	if req.MaxTokens != nil && *req.MaxTokens < 1 {
		return errors.New("max_tokens must be >= 1")
	}
	if req.Budget != nil {
		if req.Budget.InputTokens < 1 {
			return errors.New("budget.input_tokens must be >= 1")
		}
		if req.Budget.KeepLastTurns < 0 {
			return errors.New("budget.keep_last_turns must be >= 0")
		}
	}
	return nil
}
