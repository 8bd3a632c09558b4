package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/vango-dev/livetree/pkg/events"
	"github.com/vango-dev/livetree/pkg/node"
)

// ExchangeRequest is one stateless client request.
type ExchangeRequest struct {
	StateToken string
	Events     []events.Input
	Location   string
	Headers    http.Header
}

// Exchange runs a whole stateless cycle on a fresh session and destroys it:
// restore state, apply events, re-render, and return the changed fragments
// with a new token. A rejected event fails the request with ErrBadRequest.
func (s *Session) Exchange(ctx context.Context, req ExchangeRequest) (Update, error) {
	defer s.Destroy(ctx)

	s.prepare(req.Location, req.Headers)
	if err := s.Init(ctx, req.StateToken); err != nil {
		return Update{}, err
	}
	if err := s.HandleEvents(ctx, req.Events); err != nil {
		if errors.Is(err, node.ErrInvalidEvent) {
			return Update{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		return Update{}, err
	}
	if err := s.Update(ctx); err != nil {
		return Update{}, err
	}
	return s.RenderUpdate(ctx, true, false)
}

// Page renders a first page load on a fresh session and destroys it.
func (s *Session) Page(ctx context.Context, location string, headers http.Header) (Page, error) {
	defer s.Destroy(ctx)

	s.prepare(location, headers)
	if err := s.Init(ctx, ""); err != nil {
		return Page{}, err
	}
	if err := s.Update(ctx); err != nil {
		return Page{}, err
	}
	return s.RenderPage(ctx)
}

func (s *Session) prepare(location string, headers http.Header) {
	if location != "" {
		s.SetLocation(location)
	}
	if headers != nil {
		s.SetHeaders(headers)
	}
}
