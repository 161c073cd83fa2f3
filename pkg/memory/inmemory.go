package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/harun/sylva/internal/observability"
	"github.com/harun/sylva/internal/wildcard"
)

// BackendMemory names the process-local backend.
const BackendMemory = "memory"

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// InMemoryBackend keeps entries in a map guarded by one mutex. State is lost
// when the process exits.
type InMemoryBackend struct {
	opts BackendOptions

	mu      sync.Mutex
	entries map[string]memoryEntry
	closed  bool
}

// NewInMemoryBackend creates an empty backend.
func NewInMemoryBackend(opts BackendOptions) *InMemoryBackend {
	return &InMemoryBackend{
		opts:    opts,
		entries: make(map[string]memoryEntry),
	}
}

func (b *InMemoryBackend) Name() string { return BackendMemory }

func (b *InMemoryBackend) fail(op, key string, err error) error {
	return &BackendError{Backend: BackendMemory, Op: op, Key: key, Err: err}
}

func (b *InMemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b.fail("set", key, ErrClosed)
	}
	b.entries[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: expiryFor(b.opts.now(), ttl),
	}
	return nil
}

// lookupLocked returns the live entry for key, deleting it if it has expired.
func (b *InMemoryBackend) lookupLocked(key string) (memoryEntry, bool) {
	e, ok := b.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if expired(e.expiresAt, b.opts.now()) {
		delete(b.entries, key)
		observability.RecordMemoryExpired(BackendMemory, "read", 1)
		return memoryEntry{}, false
	}
	return e, true
}

func (b *InMemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, b.fail("get", key, ErrClosed)
	}
	e, ok := b.lookupLocked(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (b *InMemoryBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b.fail("delete", key, ErrClosed)
	}
	delete(b.entries, key)
	return nil
}

func (b *InMemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, b.fail("exists", key, ErrClosed)
	}
	_, ok := b.lookupLocked(key)
	return ok, nil
}

func (b *InMemoryBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	p, err := parseKeyPattern(pattern)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, b.fail("keys", pattern, ErrClosed)
	}

	now := b.opts.now()
	keys := make([]string, 0, len(b.entries))
	for k, e := range b.entries {
		if expired(e.expiresAt, now) {
			continue
		}
		if p.Match(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *InMemoryBackend) Expiration(ctx context.Context, key string) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return time.Time{}, b.fail("expiration", key, ErrClosed)
	}
	e, ok := b.lookupLocked(key)
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return e.expiresAt, nil
}

func (b *InMemoryBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b.fail("clear", "", ErrClosed)
	}
	b.entries = make(map[string]memoryEntry)
	return nil
}

func (b *InMemoryBackend) CleanupExpired(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, b.fail("cleanup", "", ErrClosed)
	}
	now := b.opts.now()
	removed := 0
	for k, e := range b.entries {
		if expired(e.expiresAt, now) {
			delete(b.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (b *InMemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.entries = nil
	return nil
}

// parseKeyPattern treats "" like "*".
func parseKeyPattern(pattern string) (wildcard.Pattern, error) {
	if pattern == "" {
		pattern = "*"
	}
	p, err := wildcard.Parse(pattern)
	if err != nil {
		return wildcard.Pattern{}, err
	}
	return p, nil
}
