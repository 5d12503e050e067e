package api

import (
	"encoding/json"
	"net/http"

	"aigateway/internal/chat"
	"aigateway/internal/tier"
)

type generateRequest struct {
	Tier           string         `json:"tier"`
	CaseID         string         `json:"case_id,omitempty"`
	RoundID        string         `json:"round_id,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Messages       []chat.Message `json:"messages"`
	Temperature    *float64       `json:"temperature,omitempty"`
	MaxTokens      *int           `json:"max_tokens,omitempty"`
	RollingSummary string         `json:"rolling_summary,omitempty"`
	Budget         *tier.Budget   `json:"budget,omitempty"`
}

type generateResponse struct {
	Content           string     `json:"content"`
	Model             string     `json:"model"`
	Tier              string     `json:"tier"`
	RequestID         string     `json:"request_id,omitempty"`
	OperationID       string     `json:"operation_id"`
	Attempts          int        `json:"attempts"`
	RePruned          bool       `json:"re_pruned"`
	RemainingSessions int64      `json:"remaining_sessions"`
	Prune             pruneStats `json:"prune"`
}

type pruneStats struct {
	TokensBefore     int  `json:"estimated_tokens_before"`
	TokensAfter      int  `json:"estimated_tokens_after"`
	MessagesBefore   int  `json:"message_count_before"`
	MessagesAfter    int  `json:"message_count_after"`
	SummaryTruncated bool `json:"summary_truncated"`
}

type healthResponse struct {
	Status          string `json:"status"`
	UpstreamEnabled bool   `json:"upstream_enabled"`
}

type errorResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message,omitempty"`
	RemainingSessions *int64 `json:"remaining_sessions,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeErrorResponse(w, status, errorResponse{Error: code})
}

func writeErrorResponse(w http.ResponseWriter, status int, payload errorResponse) {
	writeBytes(w, status, mustJSON(payload))
}

func writeGenerateResponse(w http.ResponseWriter, status int, payload generateResponse) {
	writeBytes(w, status, mustJSON(payload))
}

func writeHealthResponse(w http.ResponseWriter, status int, payload healthResponse) {
	writeBytes(w, status, mustJSON(payload))
}

func writeBytes(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func mustJSON(payload any) []byte {
	data, _ := json.Marshal(payload)
	return data
}
