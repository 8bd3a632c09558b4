package session

import (
	"errors"
	"fmt"
)

var (
	// ErrDestroyed is returned by every operation on a destroyed session.
	ErrDestroyed = errors.New("session: destroyed")

	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("session: already initialized")

	// ErrNotInitialized is returned by cycle methods called before Init.
	ErrNotInitialized = errors.New("session: not initialized")

	// ErrRenderFailed is returned when rendering failed and the session
	// was destroyed as a consequence.
	ErrRenderFailed = errors.New("session: render failed")

	// ErrBadRequest is returned by Exchange when the request carried an
	// event that failed validation.
	ErrBadRequest = errors.New("session: bad request")
)

// SessionError records the session and operation an error came from.
type SessionError struct {
	ID  string
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.ID, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
