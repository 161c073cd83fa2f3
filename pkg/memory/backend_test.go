package memory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type backendFactory func(t *testing.T, clock Clock) Backend

func backendFactories() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T, clock Clock) Backend {
			return NewInMemoryBackend(BackendOptions{Clock: clock})
		},
		"sqlite": func(t *testing.T, clock Clock) Backend {
			b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "memory.db"), BackendOptions{Clock: clock})
			require.NoError(t, err)
			return b
		},
	}
}

// TestBackendContract runs the same expectations against every backend.
func TestBackendContract(t *testing.T) {
	for name, factory := range backendFactories() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Run("set get overwrite", func(t *testing.T) {
				b := factory(t, nil)
				defer b.Close()
				ctx := context.Background()

				require.NoError(t, b.Set(ctx, "k", []byte(`{"v":1}`), 0))
				got, err := b.Get(ctx, "k")
				require.NoError(t, err)
				assert.JSONEq(t, `{"v":1}`, string(got))

				require.NoError(t, b.Set(ctx, "k", []byte(`"replaced"`), 0))
				got, err = b.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, `"replaced"`, string(got))

				assert.ErrorIs(t, b.Set(ctx, "", []byte(`1`), 0), ErrEmptyKey)
			})

			t.Run("missing key", func(t *testing.T) {
				b := factory(t, nil)
				defer b.Close()
				ctx := context.Background()

				_, err := b.Get(ctx, "absent")
				assert.ErrorIs(t, err, ErrNotFound)

				ok, err := b.Exists(ctx, "absent")
				require.NoError(t, err)
				assert.False(t, ok)

				assert.NoError(t, b.Delete(ctx, "absent"))
			})

			t.Run("lazy expiry", func(t *testing.T) {
				clock := newFakeClock()
				b := factory(t, clock.Now)
				defer b.Close()
				ctx := context.Background()

				require.NoError(t, b.Set(ctx, "short", []byte(`1`), time.Minute))
				require.NoError(t, b.Set(ctx, "forever", []byte(`2`), 0))

				clock.Advance(59 * time.Second)
				_, err := b.Get(ctx, "short")
				require.NoError(t, err)

				clock.Advance(time.Second)
				_, err = b.Get(ctx, "short")
				assert.ErrorIs(t, err, ErrNotFound)
				ok, err := b.Exists(ctx, "short")
				require.NoError(t, err)
				assert.False(t, ok)

				clock.Advance(24 * time.Hour)
				ok, err = b.Exists(ctx, "forever")
				require.NoError(t, err)
				assert.True(t, ok)

				// the expired read already deleted the entry
				n, err := b.CleanupExpired(ctx)
				require.NoError(t, err)
				assert.Equal(t, 0, n)
			})

			t.Run("keys hide expired entries", func(t *testing.T) {
				clock := newFakeClock()
				b := factory(t, clock.Now)
				defer b.Close()
				ctx := context.Background()

				require.NoError(t, b.Set(ctx, "parcel:1", []byte(`1`), time.Second))
				require.NoError(t, b.Set(ctx, "parcel:2", []byte(`2`), 0))
				clock.Advance(2 * time.Second)

				keys, err := b.Keys(ctx, "parcel:*")
				require.NoError(t, err)
				assert.Equal(t, []string{"parcel:2"}, keys)

				n, err := b.CleanupExpired(ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, n)
			})

			t.Run("keys patterns", func(t *testing.T) {
				b := factory(t, nil)
				defer b.Close()
				ctx := context.Background()

				for _, k := range []string{"a.result", "a.task", "b.result", "ab"} {
					require.NoError(t, b.Set(ctx, k, []byte(`null`), 0))
				}

				tests := []struct {
					pattern string
					want    []string
				}{
					{"", []string{"a.result", "a.task", "ab", "b.result"}},
					{"*", []string{"a.result", "a.task", "ab", "b.result"}},
					{"a.*", []string{"a.result", "a.task"}},
					{"*.result", []string{"a.result", "b.result"}},
					{"ab", []string{"ab"}},
					{"zz*", nil},
				}
				for _, tt := range tests {
					keys, err := b.Keys(ctx, tt.pattern)
					require.NoError(t, err, tt.pattern)
					if tt.want == nil {
						assert.Empty(t, keys, tt.pattern)
						continue
					}
					assert.Equal(t, tt.want, keys, tt.pattern)
				}

				_, err := b.Keys(ctx, "a*b*")
				assert.Error(t, err)
			})

			t.Run("expiration and clear", func(t *testing.T) {
				clock := newFakeClock()
				b := factory(t, clock.Now)
				defer b.Close()
				ctx := context.Background()

				require.NoError(t, b.Set(ctx, "ttl", []byte(`1`), time.Hour))
				require.NoError(t, b.Set(ctx, "none", []byte(`1`), 0))

				exp, err := b.Expiration(ctx, "ttl")
				require.NoError(t, err)
				assert.WithinDuration(t, clock.Now().Add(time.Hour), exp, time.Millisecond)

				exp, err = b.Expiration(ctx, "none")
				require.NoError(t, err)
				assert.True(t, exp.IsZero())

				require.NoError(t, b.Clear(ctx))
				keys, err := b.Keys(ctx, "")
				require.NoError(t, err)
				assert.Empty(t, keys)
			})

			t.Run("closed backend reports failure", func(t *testing.T) {
				b := factory(t, nil)
				require.NoError(t, b.Close())
				ctx := context.Background()

				_, err := b.Get(ctx, "k")
				var berr *BackendError
				require.True(t, errors.As(err, &berr))
				assert.Equal(t, "get", berr.Op)
				assert.ErrorIs(t, err, ErrClosed)
				assert.False(t, errors.Is(err, ErrNotFound))

				assert.Error(t, b.Set(ctx, "k", []byte(`1`), 0))
				_, err = b.Exists(ctx, "k")
				assert.Error(t, err)
			})
		})
	}
}

func TestSQLiteBackendSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "memory.db")
	ctx := context.Background()

	b, err := NewSQLiteBackend(path, BackendOptions{})
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, "durable", []byte(`{"kept":true}`), time.Hour))
	require.NoError(t, b.Set(ctx, "plain", []byte(`"x"`), 0))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	reopened, err := NewSQLiteBackend(path, BackendOptions{})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "durable")
	require.NoError(t, err)
	assert.JSONEq(t, `{"kept":true}`, string(got))
	assert.Equal(t, path, reopened.Path())

	exp, err := reopened.Expiration(ctx, "durable")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)
}

func TestSQLiteBackendRejectsEmptyPath(t *testing.T) {
	_, err := NewSQLiteBackend("", BackendOptions{})
	assert.Error(t, err)
}
