package node

import (
	"errors"
	"fmt"
)

// Lifecycle errors.
var (
	ErrAlreadyExpanded = errors.New("node: already expanded")
	ErrNotExpanded     = errors.New("node: not expanded")
	ErrDestroyed       = errors.New("node: destroyed")
)

// ErrNoIndex is returned by ReplaceIndex when the last stack segment is not
// positional.
var ErrNoIndex = errors.New("node: no index to replace")

// ErrInvalidEvent marks an event whose parameters were rejected.
var ErrInvalidEvent = errors.New("node: invalid event")

// errForeignComponent is returned when a handler is bound to a component of
// a different type. The event is dropped like an unknown handler.
var errForeignComponent = errors.New("node: handler bound to foreign component")

// EventError reports a rejected event.
type EventError struct {
	ContextID string
	Handler   string
	Err       error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("node: invalid event for %s on %s: %v", e.Handler, e.ContextID, e.Err)
}

// Unwrap exposes both ErrInvalidEvent and the underlying cause.
func (e *EventError) Unwrap() []error {
	return []error{ErrInvalidEvent, e.Err}
}

// RenderError reports a failed component render or lifecycle hook.
type RenderError struct {
	SID   string
	Stack Stack
	Hook  string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("node: %s failed at %s (%s): %v", e.Hook, e.Stack, e.SID, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
