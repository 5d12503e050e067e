package chat

import "strings"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat turn sent to the upstream provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System builds a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User builds a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant builds an assistant message.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ValidRole reports whether the role is one the upstream accepts.
func ValidRole(role Role) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Sanitize drops blank messages and trims the content of the rest.
// The input slice is not modified.
func Sanitize(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		out = append(out, Message{Role: msg.Role, Content: content})
	}
	return out
}

// SplitSystem separates the first system message from the conversation turns.
// Later system messages are dropped so the pruned payload carries one system prompt.
func SplitSystem(messages []Message) (string, []Message) {
	system := ""
	found := false
	turns := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if !found {
				system = msg.Content
				found = true
			}
			continue
		}
		turns = append(turns, msg)
	}
	return system, turns
}

// Clone returns a copy of the message slice.
func Clone(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
