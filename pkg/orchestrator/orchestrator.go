package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/go-go-golems/parley/pkg/content"
	"github.com/go-go-golems/parley/pkg/conversation"
	"github.com/go-go-golems/parley/pkg/history"
	"github.com/go-go-golems/parley/pkg/inference"
	"github.com/go-go-golems/parley/pkg/warn"
)

var (
	// ErrConversationBusy is returned in strict mode when another turn of
	// the same conversation is already in flight.
	ErrConversationBusy = errors.New("conversation busy")
	// ErrTimeout is returned when the caller-supplied deadline expires while
	// waiting on the model backend. The remote call is abandoned, not
	// aborted; nothing is committed.
	ErrTimeout = errors.New("model invocation timed out")
)

const DefaultMaxConcurrent = 5

// Orchestrator drives the turn pipeline: validate input, assemble the prompt
// view from the stored history, invoke the model backend, and commit the
// user and assistant messages as one atomic batch.
//
// Turns of the same conversation are mutually exclusive; turns of distinct
// conversations run in parallel up to a global admission limit.
type Orchestrator struct {
	store    history.Store
	invoker  inference.Invoker
	sem      *semaphore.Weighted
	strict   bool
	warnings *warn.Registry

	mu    sync.Mutex
	locks map[string]chan struct{}
}

type Option func(*Orchestrator)

// WithMaxConcurrent bounds how many Chat calls may be past admission at the
// same time, across all conversations. Default is 5.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithStrictBusy makes a second concurrent Chat call on the same
// conversation fail with ErrConversationBusy instead of queuing.
func WithStrictBusy() Option {
	return func(o *Orchestrator) {
		o.strict = true
	}
}

// WithWarnRegistry injects the warn-once registry used for policy warnings.
func WithWarnRegistry(r *warn.Registry) Option {
	return func(o *Orchestrator) {
		o.warnings = r
	}
}

func NewOrchestrator(store history.Store, invoker inference.Invoker, options ...Option) *Orchestrator {
	ret := &Orchestrator{
		store:   store,
		invoker: invoker,
		sem:     semaphore.NewWeighted(DefaultMaxConcurrent),
		locks:   map[string]chan struct{}{},
	}
	for _, option := range options {
		option(ret)
	}
	if ret.warnings == nil {
		ret.warnings = warn.NewRegistry()
	}
	return ret
}

// Result is the outcome of one successful turn.
type Result struct {
	ConversationID string
	Response       conversation.Message
	MessageCount   int
	InputPreview   string
}

type chatOptions struct {
	systemPrompt *string
	deadline     time.Duration
}

type ChatOption func(*chatOptions)

// WithSystemPrompt supplies the conversation's system prompt. It only takes
// effect on a conversation that has none yet; the system prompt is fixed at
// the first turn, and later differing values are ignored by design.
func WithSystemPrompt(prompt string) ChatOption {
	return func(o *chatOptions) {
		o.systemPrompt = &prompt
	}
}

// WithDeadline bounds the model invocation. On expiry Chat returns
// ErrTimeout and commits nothing.
func WithDeadline(d time.Duration) ChatOption {
	return func(o *chatOptions) {
		o.deadline = d
	}
}

// Chat runs one conversation turn. An empty id starts a new conversation.
// Empty content is valid input; whether it is meaningful is the caller's
// policy. On any failure the persisted state is exactly what it was before
// the call.
func (o *Orchestrator) Chat(ctx context.Context, id string, body *content.StructuredContent, options ...ChatOption) (*Result, error) {
	opts := chatOptions{}
	for _, option := range options {
		option(&opts)
	}
	if body == nil {
		body = content.NewStructuredContent()
	}
	if err := body.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}

	release, err := o.acquireConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "admission wait aborted")
	}
	defer o.sem.Release(1)

	log.Debug().Str("conversation_id", id).Msg("turn admitted")

	// Assembling
	state, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if opts.systemPrompt != nil {
		if !state.SetSystemPrompt(*opts.systemPrompt) && *state.SystemPrompt != *opts.systemPrompt {
			o.warnings.Warnf("system-prompt-ignored:"+id,
				"system prompt is fixed at the first turn; ignoring new value for conversation %s", id)
		}
	}

	userMsg := conversation.NewMessage(conversation.RoleUser, body)
	req := inference.Request{
		SystemPrompt: state.SystemPrompt,
		History:      state.Messages,
		NewContent:   body,
	}

	// Invoking
	resp, err := o.invoke(ctx, id, req, opts.deadline)
	if err != nil {
		return nil, err
	}

	// Committing
	assistantMsg := conversation.NewMessage(conversation.RoleAssistant, assistantContent(resp))
	if err := o.store.Append(ctx, id, state.SystemPrompt, userMsg, assistantMsg); err != nil {
		return nil, errors.Wrapf(err, "failed to commit turn for conversation %s", id)
	}

	log.Info().
		Str("conversation_id", id).
		Int("message_count", len(state.Messages)+2).
		Msg("turn committed")

	return &Result{
		ConversationID: id,
		Response:       assistantMsg,
		MessageCount:   len(state.Messages) + 2,
		InputPreview:   body.DisplayText(),
	}, nil
}

func (o *Orchestrator) invoke(ctx context.Context, id string, req inference.Request, deadline time.Duration) (*inference.Response, error) {
	invokeCtx := ctx
	if deadline > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	resp, err := o.invoker.Invoke(invokeCtx, req)
	if err != nil {
		if deadline > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, errors.Wrapf(ErrTimeout, "conversation %s", id)
		}
		return nil, errors.Wrapf(err, "conversation %s", id)
	}
	if resp == nil || (resp.Text == "" && resp.Structured == nil) {
		return nil, errors.Wrapf(inference.NewPermanentError(nil, "response carries neither text nor structured payload"),
			"conversation %s", id)
	}
	return resp, nil
}

func assistantContent(resp *inference.Response) *content.StructuredContent {
	if resp.Structured != nil {
		return resp.Structured
	}
	return content.NewStructuredContent().Insert(0, content.NewTextUnit(resp.Text))
}

// Export renders the conversation's persisted state as a YAML document.
func (o *Orchestrator) Export(ctx context.Context, id string) ([]byte, error) {
	state, err := o.store.Snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	return history.ExportYAML(state)
}

// acquireConversation takes the per-conversation lock. The lock channel is
// lazily created and never duplicated for an id. Queued waiters respect ctx;
// in strict mode contention fails fast with ErrConversationBusy.
func (o *Orchestrator) acquireConversation(ctx context.Context, id string) (func(), error) {
	o.mu.Lock()
	l, ok := o.locks[id]
	if !ok {
		l = make(chan struct{}, 1)
		o.locks[id] = l
	}
	o.mu.Unlock()

	select {
	case l <- struct{}{}:
	default:
		if o.strict {
			return nil, errors.Wrapf(ErrConversationBusy, "conversation %s", id)
		}
		select {
		case l <- struct{}{}:
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "conversation %s lock wait aborted", id)
		}
	}
	return func() { <-l }, nil
}
