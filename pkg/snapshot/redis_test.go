package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockRedisCmd struct {
	data []byte
	err  error
}

func (c mockRedisCmd) Bytes() ([]byte, error) { return c.data, c.err }
func (c mockRedisCmd) Err() error             { return c.err }

// mockRedisClient is a map-backed client that records TTLs.
type mockRedisClient struct {
	mu     sync.Mutex
	values map[string][]byte
	ttls   map[string]time.Duration
	nilErr error
}

func newMockRedis() *mockRedisClient {
	return &mockRedisClient{
		values: make(map[string][]byte),
		ttls:   make(map[string]time.Duration),
		nilErr: ErrRedisNil,
	}
}

func (c *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) RedisStatusCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = append([]byte(nil), value.([]byte)...)
	c.ttls[key] = expiration
	return mockRedisCmd{}
}

func (c *mockRedisClient) Get(ctx context.Context, key string) RedisStringCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return mockRedisCmd{err: c.nilErr}
	}
	return mockRedisCmd{data: v}
}

func (c *mockRedisClient) Del(ctx context.Context, keys ...string) RedisIntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.values, k)
		delete(c.ttls, k)
	}
	return mockRedisCmd{}
}

func (c *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) RedisBoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		c.ttls[key] = expiration
	}
	return mockRedisCmd{}
}

func TestRedisStore(t *testing.T) {
	exerciseStore(t, NewRedisStore(newMockRedis()))
}

func TestRedisStoreUsesPrefixAndTTL(t *testing.T) {
	client := newMockRedis()
	store := NewRedisStore(client, WithRedisPrefix("app:"))
	ctx := context.Background()

	if err := store.Save(ctx, "a", []byte("x"), time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	ttl, ok := client.ttls["app:a"]
	if !ok {
		t.Fatal("expected prefixed key")
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected ttl within a minute, got %v", ttl)
	}

	store.Save(ctx, "a", []byte("x"), time.Now().Add(-time.Second))
	if _, ok := client.values["app:a"]; ok {
		t.Error("expected past expiry to delete the key")
	}
}

func TestRedisStoreCustomNil(t *testing.T) {
	client := newMockRedis()
	driverNil := errors.New("driver: key missing")
	client.nilErr = driverNil

	store := NewRedisStore(client, WithRedisNil(driverNil))
	data, err := store.Load(context.Background(), "missing")
	if err != nil || data != nil {
		t.Errorf("expected (nil, nil), got (%q, %v)", data, err)
	}
}

func TestRedisStoreBackendError(t *testing.T) {
	client := newMockRedis()
	client.nilErr = errors.New("connection refused")

	store := NewRedisStore(client)
	if _, err := store.Load(context.Background(), "missing"); err == nil {
		t.Error("expected backend error to surface")
	}
}

func TestRedisStoreClosed(t *testing.T) {
	store := NewRedisStore(newMockRedis())
	store.Close()
	if _, err := store.Load(context.Background(), "a"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
