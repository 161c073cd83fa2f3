package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned for keys that are absent or expired.
	ErrNotFound = errors.New("memory: key not found")
	// ErrClosed is wrapped in a BackendError when a closed backend is used.
	ErrClosed = errors.New("memory: backend closed")
	// ErrEmptyKey rejects writes without a key.
	ErrEmptyKey = errors.New("memory: empty key")
)

// BackendError reports a storage failure. It is never used for a key that is
// simply absent.
type BackendError struct {
	Backend string
	Op      string
	Key     string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("memory %s %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("memory %s %s %q: %v", e.Backend, e.Op, e.Key, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Clock returns the current time. Backends use it for every expiry decision.
type Clock func() time.Time

// BackendOptions are shared by the backend constructors.
type BackendOptions struct {
	// Clock defaults to time.Now.
	Clock Clock
}

func (o BackendOptions) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

// Backend stores serialized values with an optional absolute expiration.
//
// A ttl <= 0 means the entry never expires. Keys accepts an exact key, a
// pattern with one leading or trailing '*', or "" for every key. Expired
// entries are excluded from every read.
type Backend interface {
	Name() string
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Expiration returns the zero time for entries without a TTL.
	Expiration(ctx context.Context, key string) (time.Time, error)
	Clear(ctx context.Context) error
	CleanupExpired(ctx context.Context) (int, error)
	Close() error
}

func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
