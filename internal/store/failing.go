// ABOUTME: FailingStore simulates an unavailable backing store for tests
// ABOUTME: Every call returns an error so callers can verify degraded paths

package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by FailingStore for every operation.
var ErrUnavailable = errors.New("store unavailable")

// FailingStore is a KV whose every operation fails. Tests use it to verify
// that the cache degrades to always-miss and admission fails open or closed
// per configuration.
type FailingStore struct{}

func (FailingStore) Get(ctx context.Context, key string) ([]byte, error) { return nil, ErrUnavailable }
func (FailingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return ErrUnavailable
}
func (FailingStore) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	return 0, ErrUnavailable
}
func (FailingStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return ErrUnavailable
}
func (FailingStore) Delete(ctx context.Context, key string) error { return ErrUnavailable }
func (FailingStore) Close() error                                 { return nil }
