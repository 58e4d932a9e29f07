package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/parley/pkg/conversation"
)

// FileStore persists one JSON document per conversation id under a root
// directory. Appends are committed by writing the full document to a
// temporary file and renaming it over the old one, so a crash mid-write
// leaves the previous record intact.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// commitHook runs after the temp file is written but before the rename.
	// Used by tests to inject crashes between write and commit.
	commitHook func() error
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("storage directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create storage directory %s", dir)
	}
	return &FileStore{
		dir:   dir,
		locks: map[string]*sync.Mutex{},
	}, nil
}

// lockFor returns the mutex for the given id, lazily created; there is never
// more than one lock per id.
func (s *FileStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *FileStore) path(id string) string {
	// Conversation ids are caller-chosen strings; keep them from escaping
	// the storage directory.
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
	return filepath.Join(s.dir, safe+".json")
}

func (s *FileStore) Load(ctx context.Context, id string) (*conversation.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()
	return s.loadLocked(id)
}

func (s *FileStore) loadLocked(id string) (*conversation.State, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return conversation.NewState(id), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read conversation %s", id)
	}
	state := &conversation.State{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, &CorruptError{ID: id, Err: err}
	}
	if err := state.Validate(); err != nil {
		return nil, &CorruptError{ID: id, Err: err}
	}
	return state, nil
}

func (s *FileStore) Append(ctx context.Context, id string, systemPrompt *string, msgs ...conversation.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msgs) == 0 && systemPrompt == nil {
		return nil
	}
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	state, err := s.loadLocked(id)
	if err != nil {
		return err
	}
	if systemPrompt != nil {
		state.SetSystemPrompt(*systemPrompt)
	}
	state.AppendMessage(msgs...)

	if err := s.writeLocked(id, state); err != nil {
		return err
	}
	log.Debug().
		Str("conversation_id", id).
		Int("appended", len(msgs)).
		Int("total", len(state.Messages)).
		Msg("appended messages to conversation record")
	return nil
}

func (s *FileStore) writeLocked(id string, state *conversation.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to marshal conversation %s", id)
	}

	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(s.path(id))+".*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for conversation %s", id)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return errors.Wrapf(err, "failed to write conversation %s", id)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.Wrapf(err, "failed to sync conversation %s", id)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "failed to close temp file for conversation %s", id)
	}

	if s.commitHook != nil {
		if err := s.commitHook(); err != nil {
			_ = os.Remove(tmpName)
			return err
		}
	}

	if err := os.Rename(tmpName, s.path(id)); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "failed to commit conversation %s", id)
	}
	return nil
}

func (s *FileStore) Snapshot(ctx context.Context, id string) (*conversation.State, error) {
	// Load already returns a fresh copy parsed from disk under the per-id
	// lock, so the result cannot be affected by later appends.
	return s.Load(ctx, id)
}
