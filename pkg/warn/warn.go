package warn

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Registry deduplicates warnings by key so a given condition is logged once
// per process (or once per Reset). It is explicit, injected state rather than
// a package-level global, so tests can reset it between runs.
type Registry struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	logger zerolog.Logger
}

type Option func(*Registry)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func NewRegistry(options ...Option) *Registry {
	ret := &Registry{
		seen:   map[string]struct{}{},
		logger: log.Logger,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Once reports whether key has not been seen before, marking it as seen.
func (r *Registry) Once(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; ok {
		return false
	}
	r.seen[key] = struct{}{}
	return true
}

// Warnf logs the formatted message at warn level the first time key is seen;
// later calls with the same key are dropped.
func (r *Registry) Warnf(key string, format string, args ...interface{}) {
	if !r.Once(key) {
		return
	}
	r.logger.Warn().Str("warn_key", key).Msg(fmt.Sprintf(format, args...))
}

// Reset clears the seen set.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = map[string]struct{}{}
}
