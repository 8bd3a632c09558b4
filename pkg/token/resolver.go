package token

import (
	"context"
	"errors"
	"fmt"
)

// Resolver converts durable state to a token and back.
type Resolver interface {
	// CreateToken seals data. previous is the token the client presented,
	// or "" on first issue; resolvers may reuse it.
	CreateToken(ctx context.Context, data map[string]string, previous string) (string, error)

	// Resolve returns the state sealed in token. On failure it returns an
	// empty map and an error wrapping ErrInvalidToken, or a backend error.
	Resolve(ctx context.Context, token string) (map[string]string, error)
}

var (
	// ErrInvalidToken is returned for malformed, tampered, foreign or
	// expired tokens.
	ErrInvalidToken = errors.New("token: invalid token")

	// ErrMissingSecret is returned when a resolver is built without a key.
	ErrMissingSecret = errors.New("token: secret must not be empty")
)

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidToken, reason)
}
