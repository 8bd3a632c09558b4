package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/livetree/pkg/events"
	"github.com/vango-dev/livetree/pkg/node"
)

var ticks = node.Local[int]("ticks", node.Ephemeral())

type ticker struct {
	release chan struct{}
}

func (tk *ticker) Init(ctx *node.Context) error {
	ctx.AddWorker(func(std context.Context) error {
		select {
		case <-tk.release:
			ticks.Set(ctx, 1)
		case <-std.Done():
		}
		<-std.Done()
		return nil
	})
	return nil
}

func (tk *ticker) Render(ctx *node.Context) (node.Element, error) {
	return node.Textf("ticks=%d", ticks.Get(ctx)), nil
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("Dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) serverMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var raw struct {
		Type       string   `json:"type"`
		HTMLParts  []string `json:"html_parts"`
		StateToken string   `json:"state_token"`
	}
	if err := conn.ReadJSON(&raw); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return serverMessage{Type: raw.Type, HTMLParts: raw.HTMLParts, StateToken: raw.StateToken}
}

// expectClose reads until the server closes the stream and checks the code.
func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, code) {
			t.Errorf("expected close code %d, got %v", code, err)
		}
		return
	}
}

func TestStreamRoundTrip(t *testing.T) {
	srv := newTestServer(t, counterApp, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	_, init, id := loadPage(t, srv)

	conn := dial(t, ts)
	conn.WriteJSON(clientMessage{Type: MessageInit, StateToken: init.StateToken, EnableStateUpdates: true})
	conn.WriteJSON(clientMessage{
		Type:     MessageUpdate,
		Events:   []events.Input{{ContextID: id, HandlerName: "increment"}},
		Location: "/",
	})

	msg := readUpdate(t, conn)
	if msg.Type != MessageUpdate {
		t.Errorf("expected update message, got %q", msg.Type)
	}
	if len(msg.HTMLParts) != 1 || !strings.Contains(msg.HTMLParts[0], "count=1") {
		t.Fatalf("expected count=1, got %v", msg.HTMLParts)
	}
	if msg.StateToken == "" {
		t.Fatal("expected a state token when state updates are enabled")
	}

	// The streamed token is good for a stateless follow-up.
	rec := postUpdate(t, srv, eventBody(t, msg.StateToken, id, "increment", nil))
	if !strings.Contains(rec.Body.String(), "count=2") {
		t.Errorf("expected count=2 from streamed token, got %s", rec.Body.String())
	}
}

func TestStreamOmitsTokenByDefault(t *testing.T) {
	srv := newTestServer(t, counterApp, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	_, init, id := loadPage(t, srv)

	conn := dial(t, ts)
	conn.WriteJSON(clientMessage{Type: MessageInit, StateToken: init.StateToken})
	conn.WriteJSON(clientMessage{Type: MessageUpdate, Events: []events.Input{{ContextID: id, HandlerName: "increment"}}})

	if msg := readUpdate(t, conn); msg.StateToken != "" {
		t.Errorf("expected no token, got %q", msg.StateToken)
	}
}

func TestStreamInvalidEventKeepsConnection(t *testing.T) {
	srv := newTestServer(t, counterApp, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	_, init, id := loadPage(t, srv)

	conn := dial(t, ts)
	conn.WriteJSON(clientMessage{Type: MessageInit, StateToken: init.StateToken})
	conn.WriteJSON(clientMessage{Type: MessageUpdate, Events: []events.Input{{ContextID: id, HandlerName: "add", Data: map[string]any{"by": 0}}}})
	conn.WriteJSON(clientMessage{Type: MessageUpdate, Events: []events.Input{{ContextID: id, HandlerName: "add", Data: map[string]any{"by": 3}}}})

	msg := readUpdate(t, conn)
	if len(msg.HTMLParts) != 1 || !strings.Contains(msg.HTMLParts[0], "count=3") {
		t.Errorf("expected only the valid event to apply, got %v", msg.HTMLParts)
	}
}

func TestStreamPushesWorkerUpdates(t *testing.T) {
	release := make(chan struct{})
	srv := newTestServer(t, func() node.Element { return node.Mount(&ticker{release: release}) }, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts)
	conn.WriteJSON(clientMessage{Type: MessageInit})
	close(release)

	msg := readUpdate(t, conn)
	if len(msg.HTMLParts) != 1 || !strings.Contains(msg.HTMLParts[0], "ticks=1") {
		t.Errorf("expected worker update, got %v", msg.HTMLParts)
	}
}

func TestStreamRejectsBadHandshake(t *testing.T) {
	srv := newTestServer(t, counterApp, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts)
	conn.WriteJSON(clientMessage{Type: MessageUpdate})
	expectClose(t, conn, websocket.CloseProtocolError)
}

func TestStreamRejectsMalformedUpdate(t *testing.T) {
	srv := newTestServer(t, counterApp, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts)
	conn.WriteJSON(clientMessage{Type: MessageInit})
	conn.WriteMessage(websocket.TextMessage, []byte("{"))
	expectClose(t, conn, websocket.CloseProtocolError)
}

func TestStreamRenderFailureClosesConnection(t *testing.T) {
	srv := newTestServer(t, counterApp, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	_, init, id := loadPage(t, srv)

	conn := dial(t, ts)
	conn.WriteJSON(clientMessage{Type: MessageInit, StateToken: init.StateToken})
	conn.WriteJSON(clientMessage{Type: MessageUpdate, Events: []events.Input{{ContextID: id, HandlerName: "boom"}}})
	expectClose(t, conn, websocket.CloseInternalServerErr)
}

func TestStreamLimitPerAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxStreamsPerIP = 1
	srv := newTestServer(t, counterApp, cfg)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	dial(t, ts)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err == nil {
		t.Fatal("expected second stream to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %v", resp)
	}
}

func TestStreamRejectsForeignOrigin(t *testing.T) {
	srv := newTestServer(t, counterApp, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err == nil {
		t.Fatal("expected cross-origin upgrade to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}
}

func TestShutdownClosesStreams(t *testing.T) {
	srv := newTestServer(t, counterApp, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dial(t, ts)
	conn.WriteJSON(clientMessage{Type: MessageInit})

	deadline := time.Now().Add(2 * time.Second)
	for srv.Streams() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	expectClose(t, conn, websocket.CloseGoingAway)
	if srv.Streams() != 0 {
		t.Errorf("expected no open streams, got %d", srv.Streams())
	}
}
