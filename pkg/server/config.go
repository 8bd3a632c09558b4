package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/a-h/templ"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/livetree/pkg/node"
)

// StreamConfig holds configuration for streaming (websocket) connections.
type StreamConfig struct {
	// ReadTimeout is the maximum time to wait for a message or pong from the
	// client. Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HandshakeTimeout bounds the upgrade and the wait for the init message.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is the time between pings. Must be shorter than
	// ReadTimeout. Default: 25 seconds.
	HeartbeatInterval time.Duration

	// MaxMessageSize is the maximum size of an incoming message.
	// Default: 64KB.
	MaxMessageSize int64

	// EventRate is the sustained number of inbound messages per second a
	// connection may send; EventBurst is the bucket size.
	// Default: 50 per second, burst 100.
	EventRate  float64
	EventBurst int

	// ReadBufferSize and WriteBufferSize size the upgrader buffers.
	// Default: 4096.
	ReadBufferSize  int
	WriteBufferSize int

	// EnableCompression negotiates per-message compression.
	// Default: false.
	EnableCompression bool
}

// DefaultStreamConfig returns a StreamConfig with sensible defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 25 * time.Second,
		MaxMessageSize:    64 * 1024,
		EventRate:         50,
		EventBurst:        100,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
	}
}

// Config holds server configuration.
type Config struct {
	// Address is the TCP address to listen on. Default: ":8080".
	Address string

	// HTTP server timeouts. Defaults: 5s header, 30s read, 30s write,
	// 120s idle.
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// ShutdownTimeout bounds graceful shutdown. Default: 30 seconds.
	ShutdownTimeout time.Duration

	// MaxBodySize limits update request bodies. Default: 1MB.
	MaxBodySize int64

	// Stream configures websocket connections.
	Stream StreamConfig

	// CheckOrigin validates the Origin header of websocket upgrades.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers are
	// believed when resolving the client address.
	TrustedProxies []string

	// MaxStreamsPerIP caps concurrent streams per client address.
	// Zero means no limit.
	MaxStreamsPerIP int

	// EnableWebSocket tells rendered pages to switch to a stream.
	EnableWebSocket bool

	// DisableHTTPRetry tells rendered pages not to retry failed updates.
	DisableHTTPRetry bool

	// WorkerGrace bounds how long a closing session waits for its tasks.
	// Default: node.DefaultWorkerGrace.
	WorkerGrace time.Duration

	// ClientScript is a file served at ClientScriptPath and referenced from
	// every page. Empty disables both.
	ClientScript     string
	ClientScriptPath string

	// Title is the page title. Head is rendered at the end of <head>.
	Title string
	Head  templ.Component

	// Metrics records server and session measurements. Nil disables them.
	Metrics *Metrics

	// TracerProvider creates request spans. Default: the global provider.
	TracerProvider trace.TracerProvider

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		MaxBodySize:       1 << 20,
		Stream:            DefaultStreamConfig(),
		CheckOrigin:       SameOriginCheck,
		WorkerGrace:       node.DefaultWorkerGrace,
		ClientScriptPath:  "/live-client.js",
		Title:             "livetree",
	}
}

// SameOriginCheck accepts requests without an Origin header and those whose
// Origin host equals the request host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return u.Host == r.Host
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.TrustedProxies != nil {
		clone.TrustedProxies = append([]string(nil), c.TrustedProxies...)
	}
	return &clone
}

// WithAddress sets the listen address and returns the config for chaining.
func (c *Config) WithAddress(addr string) *Config {
	c.Address = addr
	return c
}

// WithWebSocket enables streaming pages and returns the config for chaining.
func (c *Config) WithWebSocket(enable bool) *Config {
	c.EnableWebSocket = enable
	return c
}

// WithMetrics sets the metrics sink and returns the config for chaining.
func (c *Config) WithMetrics(m *Metrics) *Config {
	c.Metrics = m
	return c
}

// WithLogger sets the logger and returns the config for chaining.
func (c *Config) WithLogger(l *slog.Logger) *Config {
	c.Logger = l
	return c
}

// withDefaults fills every unset field from DefaultConfig.
func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	out := c.Clone()
	d := DefaultConfig()
	if out.Address == "" {
		out.Address = d.Address
	}
	if out.ReadHeaderTimeout == 0 {
		out.ReadHeaderTimeout = d.ReadHeaderTimeout
	}
	if out.ReadTimeout == 0 {
		out.ReadTimeout = d.ReadTimeout
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.IdleTimeout == 0 {
		out.IdleTimeout = d.IdleTimeout
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = d.ShutdownTimeout
	}
	if out.MaxBodySize == 0 {
		out.MaxBodySize = d.MaxBodySize
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = d.CheckOrigin
	}
	if out.WorkerGrace == 0 {
		out.WorkerGrace = d.WorkerGrace
	}
	if out.ClientScriptPath == "" {
		out.ClientScriptPath = d.ClientScriptPath
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}

	s, ds := &out.Stream, d.Stream
	if s.ReadTimeout == 0 {
		s.ReadTimeout = ds.ReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = ds.WriteTimeout
	}
	if s.HandshakeTimeout == 0 {
		s.HandshakeTimeout = ds.HandshakeTimeout
	}
	if s.HeartbeatInterval == 0 {
		s.HeartbeatInterval = ds.HeartbeatInterval
	}
	if s.MaxMessageSize == 0 {
		s.MaxMessageSize = ds.MaxMessageSize
	}
	if s.EventRate == 0 {
		s.EventRate = ds.EventRate
	}
	if s.EventBurst == 0 {
		s.EventBurst = ds.EventBurst
	}
	if s.ReadBufferSize == 0 {
		s.ReadBufferSize = ds.ReadBufferSize
	}
	if s.WriteBufferSize == 0 {
		s.WriteBufferSize = ds.WriteBufferSize
	}
	return out
}
