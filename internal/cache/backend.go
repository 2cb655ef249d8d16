// Package cache provides the document cache that keeps quota usage at one
// fetch per changed document, and the durable store for change cursors.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Backend.Get for absent or expired keys.
var ErrMiss = errors.New("cache miss")

// Backend is a byte-oriented key/value store with per-key TTL. A zero TTL
// means the key never expires.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}
