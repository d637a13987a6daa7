// Package cache holds the single, unkeyed calendar payload cache.
//
// Read never errors: a missing, unreadable or expired entry is a miss and
// yields "". Write is best-effort: failures are logged and swallowed.
package cache

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is the freshness window applied when none is configured.
const DefaultTTL = 3600 * time.Second

// ErrExpired marks an entry older than the TTL.
var ErrExpired = errors.New("cache: entry expired")

// Store is the calendar payload cache.
//
// Contract:
//   - Concurrency: safe for concurrent use; concurrent writes are last-wins.
//   - Read returns "" on miss, expiry or any storage error.
//   - Write never returns an error to the caller.
type Store interface {
	Read(ctx context.Context) string
	Write(ctx context.Context, payload string)
}

// Clock returns the current time. Stores take one so TTL checks are testable.
type Clock func() time.Time

func fresh(now, written time.Time, ttl time.Duration) bool {
	return now.Sub(written) <= ttl
}
