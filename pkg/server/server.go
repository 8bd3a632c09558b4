package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/livetree/pkg/node"
	"github.com/vango-dev/livetree/pkg/session"
	"github.com/vango-dev/livetree/pkg/token"
)

// AppFunc builds the element tree of one session. It is called once per
// request or stream, so component values are never shared between clients.
type AppFunc func() node.Element

// Server serves an application over HTTP and websocket streams.
type Server struct {
	app      AppFunc
	resolver token.Resolver
	config   *Config
	logger   *slog.Logger
	metrics  *Metrics
	tracer   *tracer

	router         chi.Router
	upgrader       websocket.Upgrader
	trustedProxies *proxyMatcher
	streams        *streamLimiter

	// baseCtx parents every stream; cancel ends them on shutdown.
	baseCtx context.Context
	cancel  context.CancelFunc
	active  sync.WaitGroup

	mu         sync.Mutex
	httpServer *http.Server
	closing    bool
}

// New creates a Server. Unset config fields take their defaults.
func New(app AppFunc, resolver token.Resolver, config *Config) (*Server, error) {
	if app == nil {
		return nil, ErrNoApp
	}
	if resolver == nil {
		return nil, ErrNoResolver
	}
	config = config.withDefaults()
	logger := config.Logger.With("component", "server")

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		app:            app,
		resolver:       resolver,
		config:         config,
		logger:         logger,
		metrics:        config.Metrics,
		tracer:         newTracer(config.TracerProvider),
		trustedProxies: newProxyMatcher(config.TrustedProxies, logger),
		streams:        newStreamLimiter(config.MaxStreamsPerIP),
		baseCtx:        baseCtx,
		cancel:         cancel,
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout:  config.Stream.HandshakeTimeout,
		ReadBufferSize:    config.Stream.ReadBufferSize,
		WriteBufferSize:   config.Stream.WriteBufferSize,
		CheckOrigin:       config.CheckOrigin,
		EnableCompression: config.Stream.EnableCompression,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.config.ClientScript != "" {
		r.Get(s.config.ClientScriptPath, s.handleClientScript)
	}
	r.Get("/*", s.handleGet)
	r.Post("/*", s.handleUpdate)
	return r
}

// Router returns the underlying router so callers can mount extra routes,
// such as a metrics endpoint, before serving.
func (s *Server) Router() chi.Router { return s.router }

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.router }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Config returns the effective configuration.
func (s *Server) Config() *Config { return s.config }

// Streams returns the number of open streams.
func (s *Server) Streams() int { return s.streams.open() }

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleStream(w, r)
		return
	}
	s.handlePage(w, r)
}

func (s *Server) handleClientScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	http.ServeFile(w, r, s.config.ClientScript)
}

// newSession creates a session for one request or stream.
func (s *Server) newSession(persistent bool) *session.Session {
	cfg := session.Config{
		Persistent:       persistent,
		EnableWebSocket:  s.config.EnableWebSocket,
		DisableHTTPRetry: s.config.DisableHTTPRetry,
		WorkerGrace:      s.config.WorkerGrace,
		Logger:           s.config.Logger,
	}
	if s.metrics != nil {
		cfg.Observer = s.metrics
	}
	return session.New(s.app(), s.resolver, cfg)
}

// track registers a stream with shutdown. It fails once shutdown started.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.active.Add(1)
	return true
}

// Run listens on the configured address and serves until ctx is done, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down")
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops accepting requests, ends every stream and waits for them
// within the shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	srv := s.httpServer
	s.closing = true
	s.mu.Unlock()

	var err error
	if srv != nil {
		// Hijacked stream connections are not tracked by http.Server.
		err = srv.Shutdown(ctx)
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("streams still open after shutdown timeout", "streams", s.streams.open())
		if err == nil {
			err = ctx.Err()
		}
	}

	if err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}
	s.logger.Info("server shutdown complete")
	return nil
}
