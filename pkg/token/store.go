package token

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vango-dev/livetree/pkg/snapshot"
)

// StoreResolver keeps state server-side and issues tokens of the form
// <uuid>.<base64url(hmac-sha256(uuid))>. A token only resolves while its
// snapshot is in the store.
type StoreResolver struct {
	store  snapshot.Store
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// StoreOption configures a StoreResolver.
type StoreOption func(*StoreResolver)

// WithSnapshotMaxAge sets how long an unused snapshot is kept. Default: 24h.
func WithSnapshotMaxAge(d time.Duration) StoreOption {
	return func(r *StoreResolver) { r.maxAge = d }
}

// WithStoreClock replaces time.Now.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(r *StoreResolver) { r.now = now }
}

// NewStoreResolver builds a resolver over store signing ids with secret.
func NewStoreResolver(store snapshot.Store, secret []byte, opts ...StoreOption) (*StoreResolver, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	r := &StoreResolver{
		store:  store,
		secret: append([]byte(nil), secret...),
		maxAge: DefaultMaxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// CreateToken implements Resolver. When data equals the snapshot behind
// previous, the snapshot's expiry is extended and previous is returned.
func (r *StoreResolver) CreateToken(ctx context.Context, data map[string]string, previous string) (string, error) {
	if data == nil {
		data = map[string]string{}
	}
	packed, err := encodeSnapshot(data)
	if err != nil {
		return "", err
	}
	expiresAt := r.now().Add(r.maxAge)

	if id, ok := r.verify(previous); ok {
		old, err := r.store.Load(ctx, id)
		if err != nil {
			return "", fmt.Errorf("token: load snapshot: %w", err)
		}
		if old != nil && bytes.Equal(old, packed) {
			if err := r.store.Touch(ctx, id, expiresAt); err != nil {
				return "", fmt.Errorf("token: touch snapshot: %w", err)
			}
			return previous, nil
		}
	}

	id := uuid.NewString()
	if err := r.store.Save(ctx, id, packed, expiresAt); err != nil {
		return "", fmt.Errorf("token: save snapshot: %w", err)
	}
	return id + "." + r.sign(id), nil
}

// Resolve implements Resolver.
func (r *StoreResolver) Resolve(ctx context.Context, token string) (map[string]string, error) {
	id, ok := r.verify(token)
	if !ok {
		return map[string]string{}, invalid("signature")
	}
	packed, err := r.store.Load(ctx, id)
	if err != nil {
		return map[string]string{}, fmt.Errorf("token: load snapshot: %w", err)
	}
	if packed == nil {
		return map[string]string{}, invalid("unknown or expired snapshot")
	}

	var data map[string]string
	if err := msgpack.Unmarshal(packed, &data); err != nil {
		return map[string]string{}, invalid("snapshot encoding")
	}
	if data == nil {
		data = map[string]string{}
	}
	return data, nil
}

func (r *StoreResolver) verify(token string) (string, bool) {
	id, sig, ok := strings.Cut(token, ".")
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, hmac.Equal([]byte(sig), []byte(r.sign(id)))
}

func (r *StoreResolver) sign(id string) string {
	mac := hmac.New(sha256.New, r.secret)
	mac.Write([]byte(id))
	return b64.EncodeToString(mac.Sum(nil))
}

// encodeSnapshot packs data with sorted keys so equal maps encode equally.
func encodeSnapshot(data map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(data); err != nil {
		return nil, fmt.Errorf("token: encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
