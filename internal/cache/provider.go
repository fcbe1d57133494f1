package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Provider stores opaque values with a time to live.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider never stores anything; every Get misses.
type NoopProvider struct{}

func (NoopProvider) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopProvider) Del(context.Context, string) error { return nil }

func (NoopProvider) Close() error { return nil }

// EventKey is the cache key of a single event document.
func EventKey(id string) string {
	return "evebox-review:event:" + id
}

// GetJSON decodes the value stored under key into a T. A value that no longer decodes is
// dropped and reported as a miss.
func GetJSON[T any](ctx context.Context, p Provider, key string) (T, error) {
	var out T
	data, err := p.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		_ = p.Del(ctx, key)
		return out, ErrCacheMiss
	}
	return out, nil
}

// SetJSON stores value under key as JSON.
func SetJSON[T any](ctx context.Context, p Provider, key string, value T, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value %s: %w", key, err)
	}
	return p.Set(ctx, key, payload, ttl)
}
