package history

import (
	"context"
	"fmt"

	"github.com/go-go-golems/parley/pkg/conversation"
)

// Store is the durable persistence boundary for conversation state.
//
// Implementations must be safe for concurrent calls across distinct ids and
// must serialize concurrent calls on the same id. The orchestrator's
// per-conversation lock is the primary guard; the store's own serialization
// is defense in depth, not a substitute.
type Store interface {
	// Load returns the persisted state for id, or a freshly initialized
	// empty state if none exists. A missing id is never an error; a stored
	// record that cannot be parsed into a valid state fails with
	// *CorruptError.
	Load(ctx context.Context, id string) (*conversation.State, error)

	// Append durably adds the messages to the persisted state and updates
	// UpdatedAt. A non-nil systemPrompt is recorded in the same commit if the
	// stored state has none yet; a prompt that is already stored is never
	// overwritten. The batch is atomic: either the prompt and every message
	// are visible on the next Load, or the store is left exactly as it was.
	Append(ctx context.Context, id string, systemPrompt *string, msgs ...conversation.Message) error

	// Snapshot returns a read-only copy unaffected by concurrent Append
	// calls on the same id.
	Snapshot(ctx context.Context, id string) (*conversation.State, error)
}

// CorruptError reports a persisted record that exists but cannot be parsed
// into a valid conversation state. The record is unusable until manually
// repaired; other conversation ids are unaffected.
type CorruptError struct {
	ID  string
	Err error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt conversation record %q: %v", e.ID, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}
