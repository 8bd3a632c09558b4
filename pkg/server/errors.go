package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for server and stream conditions.
var (
	// ErrNoApp is returned by New when no application factory is given.
	ErrNoApp = errors.New("server: no application")

	// ErrNoResolver is returned by New when no state resolver is given.
	ErrNoResolver = errors.New("server: no state resolver")

	// ErrTooManyStreams is returned when a client address already holds the
	// maximum number of streaming connections.
	ErrTooManyStreams = errors.New("server: too many streams from address")

	// ErrInvalidHandshake is returned when the first stream message is not an
	// init message.
	ErrInvalidHandshake = errors.New("server: invalid handshake")

	// ErrConnectionClosed is returned when the client closes the stream.
	ErrConnectionClosed = errors.New("server: connection closed")

	// ErrShuttingDown is returned for streams cut by a server shutdown.
	ErrShuttingDown = errors.New("server: shutting down")
)

// ProtocolError reports a malformed client message.
type ProtocolError struct {
	SessionID string
	Op        string
	Message   string
	Err       error
}

// Error returns the error message with session context.
func (e *ProtocolError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.SessionID == "" {
		return fmt.Sprintf("server: protocol error in %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("server: session %s: protocol error in %s: %s", e.SessionID, e.Op, msg)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}
