package inference

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/go-go-golems/parley/pkg/content"
	"github.com/go-go-golems/parley/pkg/conversation"
)

// Request is the assembled prompt view handed to a model backend: the
// conversation's system prompt, the committed history in order, and the new
// user content for this turn.
type Request struct {
	SystemPrompt *string
	History      []conversation.Message
	NewContent   *content.StructuredContent
}

// Response is the model backend's payload. At least one of Text and
// Structured is present; Structured passes through as the assistant content
// when set, otherwise Text becomes a single text unit at position 0.
type Response struct {
	Text       string
	Structured *content.StructuredContent
}

// Invoker is the external-collaborator boundary to a language model backend.
// The call may block for an unbounded, caller-configurable duration; it
// performs exactly one attempt, leaving retry composition to the caller so a
// non-idempotent remote call is never amplified behind its back.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// ErrorKind separates failures the caller may retry from those it must not.
type ErrorKind string

const (
	ErrorKindTransient ErrorKind = "transient"
	ErrorKindPermanent ErrorKind = "permanent"
)

// Error is a model-backend failure classified as transient or permanent.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model invocation failed (%s): %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("model invocation failed (%s): %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewTransientError(err error, message string) *Error {
	return &Error{Kind: ErrorKindTransient, Message: message, Err: err}
}

func NewPermanentError(err error, message string) *Error {
	return &Error{Kind: ErrorKindPermanent, Message: message, Err: err}
}

func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrorKindTransient
}

func IsPermanent(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrorKindPermanent
}
