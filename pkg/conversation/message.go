package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/go-go-golems/parley/pkg/content"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one committed turn payload: a role, a structured content body,
// a creation timestamp, and a stable identifier. Messages are immutable once
// appended to a State; creation order is recoverable by CreatedAt with the ID
// as tie-break.
type Message struct {
	ID        uuid.UUID                  `json:"id"`
	Role      Role                       `json:"role"`
	Content   *content.StructuredContent `json:"content"`
	CreatedAt time.Time                  `json:"createdAt"`
}

type MessageOption func(*Message)

func WithID(id uuid.UUID) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithCreatedAt(t time.Time) MessageOption {
	return func(m *Message) {
		m.CreatedAt = t
	}
}

func NewMessage(role Role, body *content.StructuredContent, options ...MessageOption) Message {
	if body == nil {
		body = content.NewStructuredContent()
	}
	ret := Message{
		ID:        uuid.New(),
		Role:      role,
		Content:   body,
		CreatedAt: time.Now(),
	}
	for _, option := range options {
		option(&ret)
	}
	return ret
}

// NewTextMessage wraps a plain string as a single text unit at position 0.
func NewTextMessage(role Role, text string, options ...MessageOption) Message {
	body := content.NewStructuredContent().Insert(0, content.NewTextUnit(text))
	return NewMessage(role, body, options...)
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	m.Content = m.Content.Clone()
	return m
}
