package domain

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message.
type Message struct {
	ID        string           `json:"id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
}

// MessageMetadata carries a UI action suggested by the assistant,
// e.g. action "navigate" with target "/domains/financial/cashflow".
type MessageMetadata struct {
	Action string `json:"action,omitempty"`
	Target string `json:"target,omitempty"`
}
