package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/parley/pkg/content"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/inference"
)

// Invoker is a deterministic model backend that echoes the positional
// structure of its input. It needs no network and doubles as the concurrency
// instrument for tests: every call is recorded with its start and end time,
// and the maximum number of overlapping calls is tracked.
type Invoker struct {
	delay time.Duration
	fail  error

	mu        sync.Mutex
	calls     []Call
	active    int
	maxActive int
}

// Call records one Invoke execution window.
type Call struct {
	Start      time.Time
	End        time.Time
	HistoryLen int
}

var _ inference.Invoker = (*Invoker)(nil)

type Option func(*Invoker)

// WithDelay makes every call hold the invocation window open for d,
// so overlap is observable.
func WithDelay(d time.Duration) Option {
	return func(i *Invoker) {
		i.delay = d
	}
}

// WithFailure makes every call fail with err after the delay.
func WithFailure(err error) Option {
	return func(i *Invoker) {
		i.fail = err
	}
}

func NewInvoker(options ...Option) *Invoker {
	ret := &Invoker{}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (i *Invoker) Invoke(ctx context.Context, req inference.Request) (*inference.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	idx := i.enter(req)
	defer i.leave(idx)

	if i.delay > 0 {
		select {
		case <-time.After(i.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if i.fail != nil {
		return nil, i.fail
	}

	return &inference.Response{Text: renderResponse(req)}, nil
}

func (i *Invoker) enter(req inference.Request) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.active++
	if i.active > i.maxActive {
		i.maxActive = i.active
	}
	i.calls = append(i.calls, Call{Start: time.Now(), HistoryLen: len(req.History)})
	return len(i.calls) - 1
}

func (i *Invoker) leave(idx int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.active--
	i.calls[idx].End = time.Now()
}

// Calls returns a copy of the recorded invocation windows.
func (i *Invoker) Calls() []Call {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]Call, len(i.calls))
	copy(out, i.calls)
	return out
}

// MaxConcurrent reports the largest number of calls that were ever inside
// Invoke at the same instant.
func (i *Invoker) MaxConcurrent() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.maxActive
}

func renderResponse(req inference.Request) string {
	parts := []string{"I analyzed your content in the specified order:"}
	for _, pu := range req.NewContent.Materialize() {
		switch pu.Kind {
		case content.KindText:
			parts = append(parts, fmt.Sprintf("Position %d: Text - %s", pu.Position, pu.Text))
		case content.KindImage:
			parts = append(parts, fmt.Sprintf("Position %d: Image - %s", pu.Position, pu.ImageRef))
		case content.KindStructured:
			parts = append(parts, fmt.Sprintf("Position %d: JSON with %d fields", pu.Position, len(pu.Structured)))
		}
	}
	userTurns := 0
	for _, msg := range req.History {
		if msg.Role == conversation.RoleUser {
			userTurns++
		}
	}
	if userTurns > 0 {
		parts = append(parts, fmt.Sprintf("This is interaction #%d.", userTurns+1))
	}
	return strings.Join(parts, " ")
}
