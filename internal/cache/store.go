// Package cache is the shared key-value store behind resend throttling.
// Entries carry their own TTL and are never deleted explicitly.
package cache

import (
	"context"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// AddIfAbsent stores value only when key is missing; reports whether it did.
	AddIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}
