package session

import (
	"log/slog"
	"time"

	"github.com/vango-dev/livetree/pkg/node"
)

// Config configures a Session.
type Config struct {
	// Persistent marks a streaming session. Jobs and workers only run in
	// persistent sessions.
	Persistent bool

	// EnableWebSocket tells the page to open a streaming connection.
	EnableWebSocket bool

	// DisableHTTPRetry tells the page not to retry failed update requests.
	DisableHTTPRetry bool

	// WorkerGrace bounds how long Destroy waits for tasks.
	// Default: node.DefaultWorkerGrace.
	WorkerGrace time.Duration

	// Logger is enriched with the session id. Default: slog.Default().
	Logger *slog.Logger

	// Observer receives lifecycle measurements. Default: none.
	Observer Observer
}

// DefaultConfig returns a stateless configuration.
func DefaultConfig() Config {
	return Config{
		WorkerGrace: node.DefaultWorkerGrace,
	}
}

// Observer is notified of session activity. Implementations must be safe
// for concurrent use.
type Observer interface {
	// RenderDone reports an update pass that re-rendered roots subtrees.
	RenderDone(roots int, took time.Duration)

	// EventRejected reports an input event that failed validation.
	EventRejected(handler string)

	// TokenRejected reports a state token that did not resolve.
	TokenRejected()
}

type nopObserver struct{}

func (nopObserver) RenderDone(int, time.Duration) {}
func (nopObserver) EventRejected(string)          {}
func (nopObserver) TokenRejected()                {}
