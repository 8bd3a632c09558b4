package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vango-dev/livetree/pkg/events"
	"github.com/vango-dev/livetree/pkg/session"
)

// Request kinds used in metrics.
const (
	kindPage   = "page"
	kindUpdate = "update"
	kindStream = "stream"
)

// updateRequest is the body of a stateless update.
type updateRequest struct {
	StateToken string         `json:"state_token"`
	Events     []events.Input `json:"events"`
	Location   string         `json:"location,omitempty"`
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := s.tracer.start(r.Context(), spanPage, attribute.String("http.target", r.URL.Path))

	sess := s.newSession(false)
	span.SetAttributes(sessionAttr(sess.ID()))
	page, err := sess.Page(ctx, r.URL.RequestURI(), r.Header)
	endSpan(span, err)
	if err != nil {
		s.fail(w, kindPage, start, sess.ID(), err)
		return
	}

	var buf bytes.Buffer
	if err := pageShell(s.config, page).Render(ctx, &buf); err != nil {
		s.fail(w, kindPage, start, sess.ID(), err)
		return
	}

	setCookies(w, page.Init.Events)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
	s.metrics.requestDone(kindPage, statusLabel(http.StatusOK), time.Since(start))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req updateRequest
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		s.logger.Debug("malformed update request", "error", err)
		http.Error(w, http.StatusText(status), status)
		s.metrics.requestDone(kindUpdate, statusLabel(status), time.Since(start))
		return
	}
	location := req.Location
	if location == "" {
		location = r.URL.RequestURI()
	}

	ctx, span := s.tracer.start(r.Context(), spanUpdate,
		attribute.String("http.target", r.URL.Path),
		attribute.Int("livetree.events", len(req.Events)),
	)
	sess := s.newSession(false)
	span.SetAttributes(sessionAttr(sess.ID()))
	upd, err := sess.Exchange(ctx, session.ExchangeRequest{
		StateToken: req.StateToken,
		Events:     req.Events,
		Location:   location,
		Headers:    r.Header,
	})
	endSpan(span, err)
	if err != nil {
		s.fail(w, kindUpdate, start, sess.ID(), err)
		return
	}

	setCookies(w, upd.Events)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, upd)
	s.metrics.requestDone(kindUpdate, statusLabel(http.StatusOK), time.Since(start))
}

// fail writes the status matching err.
func (s *Server) fail(w http.ResponseWriter, kind string, start time.Time, sessionID string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, session.ErrBadRequest) {
		status = http.StatusBadRequest
		s.logger.Debug("request rejected", "kind", kind, "session_id", sessionID, "error", err)
	} else {
		s.logger.Error("request failed", "kind", kind, "session_id", sessionID, "error", err)
	}
	http.Error(w, http.StatusText(status), status)
	s.metrics.requestDone(kind, statusLabel(status), time.Since(start))
}

// setCookies mirrors SetCookie output events as Set-Cookie headers.
func setCookies(w http.ResponseWriter, out []events.Output) {
	for _, ev := range out {
		if sc, ok := ev.(events.SetCookie); ok {
			w.Header().Add("Set-Cookie", sc.Cookie.Header())
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusLabel(code int) string {
	return strconv.Itoa(code)
}
