package snapshot

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// RedisClient is the subset of a Redis client the store needs. The method
// set matches github.com/redis/go-redis/v9 through small adapters.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) RedisStatusCmd
	Get(ctx context.Context, key string) RedisStringCmd
	Del(ctx context.Context, keys ...string) RedisIntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) RedisBoolCmd
}

// RedisStatusCmd is a status command result.
type RedisStatusCmd interface {
	Err() error
}

// RedisStringCmd is a string command result.
type RedisStringCmd interface {
	Bytes() ([]byte, error)
	Err() error
}

// RedisIntCmd is an integer command result.
type RedisIntCmd interface {
	Err() error
}

// RedisBoolCmd is a boolean command result.
type RedisBoolCmd interface {
	Err() error
}

// ErrRedisNil mirrors redis.Nil from go-redis.
var ErrRedisNil = errors.New("redis: nil")

// RedisStore keeps snapshots in Redis with native key expiry.
type RedisStore struct {
	client RedisClient
	prefix string
	nilErr error
	closed atomic.Bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix. Default: "livetree:snapshot:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisStore) {
		r.prefix = prefix
	}
}

// WithRedisNil sets the error the client returns for missing keys, such as
// redis.Nil. ErrRedisNil and any error with the same text always count.
func WithRedisNil(err error) RedisOption {
	return func(r *RedisStore) {
		r.nilErr = err
	}
}

// NewRedisStore wraps client. Close does not close the client since it is
// usually shared.
func NewRedisStore(client RedisClient, opts ...RedisOption) *RedisStore {
	r := &RedisStore{
		client: client,
		prefix: "livetree:snapshot:",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisStore) isNil(err error) bool {
	if errors.Is(err, ErrRedisNil) || err.Error() == ErrRedisNil.Error() {
		return true
	}
	return r.nilErr != nil && errors.Is(err, r.nilErr)
}

// Save implements Store. An expiry in the past deletes the key.
func (r *RedisStore) Save(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	if r.closed.Load() {
		return ErrClosed
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, id)
	}
	return r.client.Set(ctx, r.key(id), data, ttl).Err()
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context, id string) ([]byte, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if r.isNil(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if r.closed.Load() {
		return ErrClosed
	}
	return r.client.Del(ctx, r.key(id)).Err()
}

// Touch implements Store.
func (r *RedisStore) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	if r.closed.Load() {
		return ErrClosed
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, id)
	}
	return r.client.Expire(ctx, r.key(id), ttl).Err()
}

// Close marks the store closed.
func (r *RedisStore) Close() error {
	r.closed.Store(true)
	return nil
}
