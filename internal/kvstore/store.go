// Package kvstore persists string values with an optional time-to-live.
// It backs the token cache: access tokens are written with the TTL reported
// by the identity platform, refresh tokens without one.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key has no value (never set or expired).
var ErrNotFound = errors.New("kvstore: key not found")

// NoExpiry is the TTL reported for keys stored without an expiry.
const NoExpiry time.Duration = -1

// Store is a string key-value store with per-key expiry. Implementations
// must be safe for concurrent use.
type Store interface {
	// GetWithTTL returns the value and its remaining TTL in a single read.
	// Keys without expiry report NoExpiry. Missing keys return ErrNotFound.
	GetWithTTL(ctx context.Context, key string) (string, time.Duration, error)

	// Set stores value under key. ttl <= 0 stores without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Close releases the underlying connection.
	Close() error
}
