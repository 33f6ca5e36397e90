package domain

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single chat message.
type Message struct {
	ID        string    `json:"message_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Turn is a role/content pair sent as conversation context.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// HistoryEntry is a stored message as returned by the history endpoint.
type HistoryEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Section is one rendered block of a completed assistant message.
// Sections are assigned once when the message is finalized.
type Section struct {
	ID        string `json:"section_id"`
	MessageID string `json:"message_id"`
	Ordinal   int    `json:"ordinal"`
	Kind      string `json:"kind"`
	HTML      string `json:"html"`
	Text      string `json:"text"`
}
