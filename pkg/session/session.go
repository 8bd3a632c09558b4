package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-dev/livetree/pkg/events"
	"github.com/vango-dev/livetree/pkg/node"
	"github.com/vango-dev/livetree/pkg/state"
	"github.com/vango-dev/livetree/pkg/token"
)

// RootID is the element id wrapping the whole tree.
const RootID = "root"

// Phase is the lifecycle position of a session.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseIdle
	PhaseDestroyed
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseIdle:
		return "idle"
	case PhaseDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Update is the result of one render cycle.
type Update struct {
	StateToken string          `json:"state_token,omitempty"`
	Events     []events.Output `json:"events"`
	HTMLParts  []string        `json:"html_parts"`
}

// PageInit is the data a freshly loaded page boots from.
type PageInit struct {
	Path             string          `json:"path"`
	StateToken       string          `json:"state_token"`
	Events           []events.Output `json:"events"`
	EnableWebSocket  bool            `json:"enable_web_socket_state_updates,omitempty"`
	DisableHTTPRetry bool            `json:"disable_http_update_retry,omitempty"`
}

// Page is a full render with its boot data.
type Page struct {
	HTML string
	Init PageInit
}

// Session is one client's live component tree.
type Session struct {
	id       string
	config   Config
	resolver token.Resolver
	logger   *slog.Logger
	observer Observer

	signal *state.Signal
	store  *state.Store
	bus    *events.Bus
	rt     *node.Runtime
	root   node.Node

	mu        sync.Mutex
	phase     Phase
	lastToken string
	updated   []node.Node

	destroyOnce sync.Once
	done        chan struct{}
}

// New creates a session rendering app. Nothing is rendered until Init.
func New(app node.Element, resolver token.Resolver, cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	id := uuid.NewString()
	logger := cfg.Logger.With("session_id", id)

	signal := state.NewSignal()
	store := state.NewStore(state.WithSignal(signal))
	bus := events.NewBus(signal.Notify)
	rt := node.NewRuntime(store, bus, node.RuntimeConfig{
		Persistent:  cfg.Persistent,
		WorkerGrace: cfg.WorkerGrace,
		Logger:      logger,
	})

	root := node.El("live-meta", []node.Attr{node.A("id", RootID)}, app).
		ToNode(rt.RootContext().Sub(node.Name(RootID)))

	return &Session{
		id:       id,
		config:   cfg,
		resolver: resolver,
		logger:   logger,
		observer: cfg.Observer,
		signal:   signal,
		store:    store,
		bus:      bus,
		rt:       rt,
		root:     root,
		done:     make(chan struct{}),
	}
}

// ID returns the session id used in logs.
func (s *Session) ID() string { return s.id }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Persistent reports whether the session is streaming.
func (s *Session) Persistent() bool { return s.config.Persistent }

// Store exposes the state store, mainly for tests and tooling.
func (s *Session) Store() *state.Store { return s.store }

// Done is closed once the session is destroyed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Init resolves token into the store and expands the tree. An unusable
// token is logged and the session starts from empty state.
func (s *Session) Init(ctx context.Context, stateToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case PhaseDestroyed:
		return ErrDestroyed
	case PhaseIdle:
		return ErrAlreadyInitialized
	}

	if stateToken != "" {
		s.lastToken = stateToken
		data, err := s.resolver.Resolve(ctx, stateToken)
		if err != nil {
			s.logger.Warn("state token rejected, starting empty", "error", err)
			s.observer.TokenRejected()
			data = nil
		}
		s.store.Load(data)
	}

	start := time.Now()
	if err := s.root.Expand(ctx); err != nil {
		return s.failLocked(ctx, "init", err)
	}
	s.phase = PhaseIdle
	s.observer.RenderDone(1, time.Since(start))
	s.logger.Debug("session initialized", "components", s.rt.Components(), "persistent", s.config.Persistent)
	return nil
}

// SetLocation records the client location (path and query).
func (s *Session) SetLocation(location string) {
	s.store.Set(node.LocationKey, location)
}

// SetHeaders replaces the recorded request headers. Names are lower-cased
// and repeated values joined with newlines; headers absent from h are
// removed.
func (s *Session) SetHeaders(h http.Header) {
	next := make(map[string]string, len(h))
	for name, values := range h {
		next[node.HeaderKey(name)] = strings.Join(values, "\n")
	}
	for _, key := range s.store.Keys(node.HeaderKeyPrefix) {
		if _, ok := next[key]; !ok {
			s.store.Delete(key)
		}
	}
	for key, value := range next {
		s.store.Set(key, value)
	}
}

// HandleEvents dispatches every event to the tree. Events for unknown
// components or handlers are ignored. The returned error joins one error
// per rejected event; each matches node.ErrInvalidEvent.
func (s *Session) HandleEvents(ctx context.Context, evs []events.Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return err
	}

	var errs []error
	for _, ev := range evs {
		if err := s.root.HandleEvent(ctx, ev); err != nil {
			s.logger.Debug("event rejected", "context_id", ev.ContextID, "handler", ev.HandlerName, "error", err)
			s.observer.EventRejected(ev.HandlerName)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Update re-renders every invalidated subtree once. Orphaned instance state
// is purged and unreferenced ephemeral state dropped afterwards. A render
// failure destroys the session.
func (s *Session) Update(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return err
	}

	start := time.Now()
	roots := s.rt.UpdateRoots(s.store.PopPendingUpdates())
	for _, r := range roots {
		if err := r.Update(ctx); err != nil {
			return s.failLocked(ctx, "update", err)
		}
		s.updated = append(s.updated, r)
	}

	if purged := s.rt.SweepReleased(); len(purged) > 0 {
		s.logger.Debug("purged orphaned state", "keys", len(purged))
	}
	s.store.Cleanup()

	if len(roots) > 0 {
		s.observer.RenderDone(len(roots), time.Since(start))
	}
	return nil
}

// UpdatePending reports whether an Update would re-render anything.
func (s *Session) UpdatePending() bool {
	return s.store.Pending()
}

// StreamClosing reports whether an output event queued for the next render
// asks the client to leave streaming mode.
func (s *Session) StreamClosing() bool {
	return s.bus.Any(func(ev events.Output) bool {
		up, ok := ev.(events.UpgradeToStreaming)
		return ok && !up.Enabled
	})
}

// RenderUpdate serializes the output of the cycle: the whole tree when
// full is set, otherwise every subtree re-rendered since the last call, plus
// the queued output events and, when requested, a fresh state token.
func (s *Session) RenderUpdate(ctx context.Context, includeToken, full bool) (Update, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return Update{}, err
	}

	var out Update
	if includeToken {
		tok, err := s.refreshTokenLocked(ctx)
		if err != nil {
			return Update{}, err
		}
		out.StateToken = tok
	}

	if full {
		out.HTMLParts = []string{s.writeLocked(s.root)}
	} else {
		out.HTMLParts = s.partsLocked()
	}
	s.updated = nil
	out.Events = s.bus.Drain()
	return out, nil
}

// RenderPage renders the whole tree with the data a page boots from.
func (s *Session) RenderPage(ctx context.Context) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return Page{}, err
	}

	tok, err := s.refreshTokenLocked(ctx)
	if err != nil {
		return Page{}, err
	}
	html := s.writeLocked(s.root)
	s.updated = nil

	path := "/"
	if loc, ok := s.store.Peek(node.LocationKey); ok {
		if u, err := url.Parse(loc); err == nil && u.Path != "" {
			path = u.Path
		}
	}

	return Page{
		HTML: html,
		Init: PageInit{
			Path:             path,
			StateToken:       tok,
			Events:           s.bus.Drain(),
			EnableWebSocket:  s.config.EnableWebSocket,
			DisableHTTPRetry: s.config.DisableHTTPRetry,
		},
	}, nil
}

// Pending reports whether an update or an output event is waiting.
func (s *Session) Pending() bool {
	return s.store.Pending() || s.bus.Len() > 0
}

// Notify receives a value whenever work may have become pending. Wakeups
// coalesce and can be stale; check Pending after receiving.
func (s *Session) Notify() <-chan struct{} {
	return s.signal.C()
}

// Wait blocks until an update or output event is pending, the session is
// destroyed or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	for {
		if s.Pending() {
			return nil
		}
		select {
		case <-s.signal.C():
		case <-s.done:
			return ErrDestroyed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Destroy tears the tree down, cancels tasks and waits for them within the
// worker grace. It is safe to call more than once.
func (s *Session) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyLocked(ctx)
}

func (s *Session) destroyLocked(ctx context.Context) error {
	var err error
	s.destroyOnce.Do(func() {
		if s.phase != PhaseNew {
			err = s.root.Destroy(ctx)
		}
		s.rt.Close()
		s.phase = PhaseDestroyed
		s.updated = nil
		close(s.done)
		s.logger.Debug("session destroyed")
	})
	return err
}

func (s *Session) failLocked(ctx context.Context, op string, err error) error {
	s.logger.Error("render failed, destroying session", "op", op, "error", err)
	if derr := s.destroyLocked(ctx); derr != nil {
		s.logger.Warn("destroy after render failure", "error", derr)
	}
	return &SessionError{ID: s.id, Op: op, Err: fmt.Errorf("%w: %w", ErrRenderFailed, err)}
}

func (s *Session) readyLocked() error {
	switch s.phase {
	case PhaseDestroyed:
		return ErrDestroyed
	case PhaseNew:
		return ErrNotInitialized
	}
	return nil
}

func (s *Session) refreshTokenLocked(ctx context.Context) (string, error) {
	s.store.Cleanup()
	tok, err := s.resolver.CreateToken(ctx, s.store.Snapshot(), s.lastToken)
	if err != nil {
		return "", &SessionError{ID: s.id, Op: "token", Err: err}
	}
	s.lastToken = tok
	return tok, nil
}

// partsLocked renders the updated roots that are still mounted, once each,
// in update order.
func (s *Session) partsLocked() []string {
	parts := make([]string, 0, len(s.updated))
	seen := make(map[node.Node]struct{}, len(s.updated))
	for _, n := range s.updated {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		if live, ok := s.rt.Lookup(n.Context().SID()); !ok || live != n {
			continue
		}
		parts = append(parts, s.writeLocked(n))
	}
	return parts
}

func (s *Session) writeLocked(n node.Node) string {
	var b strings.Builder
	n.Write(&b)
	return b.String()
}
