package conversation

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// State is the accumulated, ordered message history of one conversation.
// Messages is append-only after creation: no position is ever removed or
// reordered post-commit, and UpdatedAt is monotonically non-decreasing.
//
// The durable copy owned by the history store is the source of truth across
// process restarts; an in-memory State is a cache that must always be
// reloadable from the store or reconstructible as empty.
type State struct {
	ID           string    `json:"conversationId"`
	SystemPrompt *string   `json:"systemPrompt"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func NewState(id string) *State {
	now := time.Now()
	return &State{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AppendMessage adds a message to the end of the history and bumps UpdatedAt.
// UpdatedAt never moves backwards even if the clock does.
func (s *State) AppendMessage(msgs ...Message) {
	s.Messages = append(s.Messages, msgs...)
	if now := time.Now(); now.After(s.UpdatedAt) {
		s.UpdatedAt = now
	}
}

// SetSystemPrompt sets the prompt if none is present yet and reports whether
// it was applied. The system prompt is fixed at the first turn: later values
// are ignored, which is the documented policy rather than an oversight.
func (s *State) SetSystemPrompt(prompt string) bool {
	if s.SystemPrompt != nil {
		return false
	}
	s.SystemPrompt = &prompt
	return true
}

// Clone returns a deep copy suitable for snapshot reads.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := &State{
		ID:        s.ID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if s.SystemPrompt != nil {
		prompt := *s.SystemPrompt
		out.SystemPrompt = &prompt
	}
	if len(s.Messages) > 0 {
		out.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			out.Messages[i] = m.Clone()
		}
	}
	return out
}

// Validate checks the invariants a persisted record must satisfy on read:
// a non-empty id, valid roles and content units, and message timestamps in
// non-decreasing order.
func (s *State) Validate() error {
	if s == nil {
		return errors.New("conversation state is nil")
	}
	if s.ID == "" {
		return errors.New("conversation state has empty id")
	}
	var prev time.Time
	for i, m := range s.Messages {
		if !m.Role.Valid() {
			return errors.Errorf("message %d has invalid role %q", i, m.Role)
		}
		if m.ID == uuid.Nil {
			return errors.Errorf("message %d has empty id", i)
		}
		if err := m.Content.Validate(); err != nil {
			return errors.Wrapf(err, "message %d has invalid content", i)
		}
		if m.CreatedAt.Before(prev) {
			return errors.Errorf("message %d is out of order", i)
		}
		prev = m.CreatedAt
	}
	if s.UpdatedAt.Before(s.CreatedAt) {
		return errors.New("updatedAt precedes createdAt")
	}
	return nil
}
