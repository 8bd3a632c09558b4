package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vango-dev/livetree/pkg/events"
	"github.com/vango-dev/livetree/pkg/node"
	"github.com/vango-dev/livetree/pkg/session"
)

// Stream message types.
const (
	MessageInit   = "init"
	MessageUpdate = "update"
)

// clientMessage is any message a stream client sends. Init messages carry
// the token and the update flag; update messages carry events and the
// current location.
type clientMessage struct {
	Type               string         `json:"type"`
	StateToken         string         `json:"state_token,omitempty"`
	EnableStateUpdates bool           `json:"enable_state_updates,omitempty"`
	Events             []events.Input `json:"events,omitempty"`
	Location           string         `json:"location,omitempty"`
}

// serverMessage is an update pushed to a stream client.
type serverMessage struct {
	Type       string          `json:"type"`
	Events     []events.Output `json:"events"`
	HTMLParts  []string        `json:"html_parts"`
	StateToken string          `json:"state_token,omitempty"`
}

// stream is one websocket connection bound to a persistent session.
type stream struct {
	srv     *Server
	conn    *websocket.Conn
	sess    *session.Session
	logger  *slog.Logger
	limiter *rate.Limiter
	inbound chan clientMessage

	// stateUpdates asks for a fresh token with every update.
	stateUpdates bool

	readMu  sync.Mutex
	stopped bool
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		s.metrics.streamRejected("shutdown")
		s.logger.Debug("stream refused", "error", ErrShuttingDown)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	defer s.active.Done()

	addr := clientAddr(r, s.trustedProxies)
	if !s.streams.acquire(addr) {
		s.metrics.streamRejected("limit")
		s.logger.Warn("stream refused", "remote", addr, "error", ErrTooManyStreams)
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	defer s.streams.release(addr)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		s.metrics.streamRejected("upgrade")
		s.logger.Debug("websocket upgrade failed", "remote", addr, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.config.Stream.MaxMessageSize)

	start := time.Now()
	s.metrics.streamOpened()
	defer s.metrics.streamClosed()

	// The stream outlives the request context; shutdown cancels it.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	sess := s.newSession(true)
	defer sess.Destroy(context.Background())

	ctx, span := s.tracer.start(ctx, spanStream, sessionAttr(sess.ID()))
	st := &stream{
		srv:     s,
		conn:    conn,
		sess:    sess,
		logger:  s.logger.With("session_id", sess.ID(), "remote", addr),
		limiter: rate.NewLimiter(rate.Limit(s.config.Stream.EventRate), s.config.Stream.EventBurst),
		inbound: make(chan clientMessage, 16),
	}
	err = st.run(ctx, r)
	endSpan(span, err)

	code, text := closeCode(err)
	if code != 0 && s.baseCtx.Err() != nil {
		code, text = websocket.CloseGoingAway, "server shutting down"
	}
	if code != 0 {
		deadline := time.Now().Add(s.config.Stream.WriteTimeout)
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	}
	switch {
	case err == nil, errors.Is(err, ErrConnectionClosed):
		st.logger.Debug("stream closed", "duration", time.Since(start))
	default:
		st.logger.Warn("stream failed", "error", err, "duration", time.Since(start))
	}
	s.metrics.requestDone(kindStream, strconv.Itoa(closeStatus(code)), time.Since(start))
}

// run performs the handshake and then drives the stream until it ends.
func (st *stream) run(ctx context.Context, r *http.Request) error {
	cfg := st.srv.config.Stream

	st.conn.SetReadDeadline(time.Now().Add(cfg.HandshakeTimeout))
	var init clientMessage
	if err := st.conn.ReadJSON(&init); err != nil {
		return &ProtocolError{SessionID: st.sess.ID(), Op: MessageInit, Message: "unreadable init message", Err: err}
	}
	if init.Type != MessageInit {
		return &ProtocolError{SessionID: st.sess.ID(), Op: MessageInit, Message: "got " + strconv.Quote(init.Type), Err: ErrInvalidHandshake}
	}
	st.stateUpdates = init.EnableStateUpdates

	st.sess.SetLocation(r.URL.RequestURI())
	st.sess.SetHeaders(r.Header)
	if err := st.sess.Init(ctx, init.StateToken); err != nil {
		return err
	}

	st.conn.SetPongHandler(func(string) error {
		st.extendRead()
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return st.read(gctx) })
	g.Go(func() error { return st.loop(gctx) })
	g.Go(func() error { return st.heartbeat(gctx) })
	return g.Wait()
}

// read decodes client messages and hands them to the loop. It is the only
// reader of the connection.
func (st *stream) read(ctx context.Context) error {
	for {
		st.extendRead()
		_, data, err := st.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrConnectionClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := st.limiter.Wait(ctx); err != nil {
			return nil
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return &ProtocolError{SessionID: st.sess.ID(), Op: MessageUpdate, Message: "malformed message", Err: err}
		}
		if msg.Type != MessageUpdate {
			return &ProtocolError{SessionID: st.sess.ID(), Op: MessageUpdate, Message: "unexpected message type " + strconv.Quote(msg.Type)}
		}

		select {
		case st.inbound <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

// loop owns the session: it applies inbound messages and pushes an update
// whenever work is pending.
func (st *stream) loop(ctx context.Context) error {
	for {
		if st.sess.Pending() {
			if err := st.flush(ctx); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-st.sess.Done():
			return session.ErrDestroyed
		case msg := <-st.inbound:
			if err := st.apply(ctx, msg); err != nil {
				return err
			}
		case <-st.sess.Notify():
		}
	}
}

func (st *stream) apply(ctx context.Context, msg clientMessage) error {
	if msg.Location != "" {
		st.sess.SetLocation(msg.Location)
	}
	err := st.sess.HandleEvents(ctx, msg.Events)
	if err != nil && errors.Is(err, node.ErrInvalidEvent) {
		st.logger.Warn("events rejected", "error", err)
		return nil
	}
	return err
}

func (st *stream) flush(ctx context.Context) error {
	ctx, span := st.srv.tracer.start(ctx, spanCycle, sessionAttr(st.sess.ID()))
	err := st.cycle(ctx)
	endSpan(span, err)
	return err
}

func (st *stream) cycle(ctx context.Context) error {
	// Output events alone need no update pass.
	if st.sess.UpdatePending() {
		if err := st.sess.Update(ctx); err != nil {
			return err
		}
	}
	closing := st.sess.StreamClosing()
	upd, err := st.sess.RenderUpdate(ctx, st.stateUpdates || closing, false)
	if err != nil {
		return err
	}
	if len(upd.HTMLParts) == 0 && len(upd.Events) == 0 {
		return nil
	}
	return st.write(serverMessage{
		Type:       MessageUpdate,
		Events:     upd.Events,
		HTMLParts:  upd.HTMLParts,
		StateToken: upd.StateToken,
	})
}

func (st *stream) write(msg serverMessage) error {
	st.conn.SetWriteDeadline(time.Now().Add(st.srv.config.Stream.WriteTimeout))
	if err := st.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	st.srv.metrics.messageSent()
	return nil
}

// heartbeat pings the client and unblocks the reader once the stream ends.
func (st *stream) heartbeat(ctx context.Context) error {
	cfg := st.srv.config.Stream
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			st.stopReading()
			return nil
		case <-ticker.C:
			deadline := time.Now().Add(cfg.WriteTimeout)
			if err := st.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

// extendRead pushes the read deadline forward unless reading was stopped.
func (st *stream) extendRead() {
	st.readMu.Lock()
	defer st.readMu.Unlock()
	if !st.stopped {
		st.conn.SetReadDeadline(time.Now().Add(st.srv.config.Stream.ReadTimeout))
	}
}

// stopReading expires the read deadline for good, failing a blocked read.
func (st *stream) stopReading() {
	st.readMu.Lock()
	defer st.readMu.Unlock()
	st.stopped = true
	st.conn.SetReadDeadline(time.Now())
}

// closeCode picks the close frame for the error that ended a stream. A zero
// code sends none.
func closeCode(err error) (int, string) {
	var perr *ProtocolError
	switch {
	case err == nil:
		return websocket.CloseGoingAway, "server shutting down"
	case errors.Is(err, ErrConnectionClosed):
		return 0, ""
	case errors.As(err, &perr):
		return websocket.CloseProtocolError, perr.Message
	default:
		return websocket.CloseInternalServerErr, "internal error"
	}
}

func closeStatus(code int) int {
	if code == 0 {
		return websocket.CloseNormalClosure
	}
	return code
}
