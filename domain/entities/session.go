package entities

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session's conversation history. Messages are
// immutable once appended; streaming partials live outside the history until
// finalized.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the ordered message history of one live session. It lives
// only for the duration of the connection; nothing is persisted.
type Conversation struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []Message `json:"messages"`
}

// NewConversation creates an empty history for a session.
func NewConversation(sessionID string) *Conversation {
	return &Conversation{
		SessionID: sessionID,
		CreatedAt: time.Now(),
		Messages:  make([]Message, 0),
	}
}

// Append adds a message to the history.
func (c *Conversation) Append(role Role, content string) Message {
	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
	c.Messages = append(c.Messages, msg)
	return msg
}

// History returns a snapshot copy of the messages, safe to hand to a
// capability call while the session keeps appending.
func (c *Conversation) History() []Message {
	out := make([]Message, len(c.Messages))
	copy(out, c.Messages)
	return out
}

// Clear drops all messages, keeping the conversation usable.
func (c *Conversation) Clear() {
	c.Messages = c.Messages[:0]
}

// Len returns the number of messages in the history.
func (c *Conversation) Len() int {
	return len(c.Messages)
}
