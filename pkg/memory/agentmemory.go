package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/sylva/internal/observability"
	"github.com/harun/sylva/internal/tracing"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultSweepInterval is used when neither SweepInterval nor SweepSchedule is set.
const DefaultSweepInterval = 5 * time.Minute

// Options configures an AgentMemory.
type Options struct {
	// SweepInterval is the fixed delay between expiry sweeps.
	SweepInterval time.Duration
	// SweepSchedule is a cron spec ("*/10 * * * *", "@hourly", "@every 2m").
	// It takes precedence over SweepInterval.
	SweepSchedule string
	// DisableSweep leaves expiry to reads and explicit CleanupExpired calls.
	DisableSweep bool
	Clock        Clock
	Logger       zerolog.Logger
}

// Stats summarizes sweep activity.
type Stats struct {
	Backend        string    `json:"backend"`
	Sweeps         int64     `json:"sweeps"`
	ExpiredRemoved int64     `json:"expired_removed"`
	LastSweep      time.Time `json:"last_sweep,omitempty"`
	LastRemoved    int       `json:"last_removed"`
	SweepErrors    int64     `json:"sweep_errors"`
	Sweeping       bool      `json:"sweeping"`
}

// AgentMemory is the facade agents use. It encodes values as JSON, records
// metrics and owns the background expiry sweep of its backend.
type AgentMemory struct {
	backend Backend
	logger  zerolog.Logger
	clock   Clock

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	stats Stats
}

// intervalSchedule is a cron.Schedule with sub-second resolution, which
// cron's own "@every" rounds away.
type intervalSchedule time.Duration

func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(time.Duration(s))
}

// ParseSweepSchedule resolves the sweep schedule from a cron spec or a fixed
// interval. A cron spec that never activates (such as "0 0 30 2 *") is
// rejected.
func ParseSweepSchedule(spec string, interval time.Duration) (cron.Schedule, error) {
	if spec != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		sched, err := parser.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
		}
		if sched.Next(time.Now()).IsZero() {
			return nil, fmt.Errorf("invalid sweep schedule %q: no upcoming run", spec)
		}
		return sched, nil
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return intervalSchedule(interval), nil
}

// New wraps backend and starts the sweeper unless opts.DisableSweep is set.
// An invalid SweepSchedule falls back to the interval after logging.
func New(backend Backend, opts Options) *AgentMemory {
	observability.EnsureRegistered()

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	m := &AgentMemory{
		backend: backend,
		logger:  opts.Logger.With().Str("component", "memory").Str("backend", backend.Name()).Logger(),
		clock:   clock,
		done:    make(chan struct{}),
		stats:   Stats{Backend: backend.Name()},
	}

	if opts.DisableSweep {
		close(m.done)
		m.cancel = func() {}
		return m
	}

	sched, err := ParseSweepSchedule(opts.SweepSchedule, opts.SweepInterval)
	if err != nil {
		m.logger.Warn().Err(err).Dur("interval", opts.SweepInterval).Msg("Falling back to fixed sweep interval")
		sched, _ = ParseSweepSchedule("", opts.SweepInterval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.stats.Sweeping = true
	go m.sweepLoop(ctx, sched)

	return m
}

// Backend returns the underlying storage.
func (m *AgentMemory) Backend() Backend { return m.backend }

func (m *AgentMemory) sweepLoop(ctx context.Context, sched cron.Schedule) {
	defer close(m.done)

	m.logger.Debug().Msg("Expiry sweep started")
	for {
		now := time.Now()
		next := sched.Next(now)
		if next.IsZero() {
			m.logger.Warn().Dur("interval", DefaultSweepInterval).Msg("Sweep schedule has no upcoming run, using default interval")
			sched = intervalSchedule(DefaultSweepInterval)
			next = sched.Next(now)
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Debug().Msg("Expiry sweep stopped")
			return
		case <-timer.C:
			if _, err := m.CleanupExpired(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error().Err(err).Msg("Expiry sweep failed")
			}
		}
	}
}

func (m *AgentMemory) observe(op string, start time.Time, err error) {
	success := err == nil || errors.Is(err, ErrNotFound)
	observability.RecordMemoryOp(m.backend.Name(), op, time.Since(start), success)

	var berr *BackendError
	if errors.As(err, &berr) {
		m.logger.Error().Err(berr.Err).Str("op", berr.Op).Str("key", berr.Key).Msg("Memory backend failure")
	}
}

// Set stores value under key, replacing any previous value as a whole.
// A ttl <= 0 stores the entry without expiration.
func (m *AgentMemory) Set(ctx context.Context, key string, value any, ttl time.Duration) (err error) {
	start := time.Now()
	defer func() { m.observe("set", start, err) }()

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %q: %w", key, err)
	}
	return m.backend.Set(ctx, key, data, ttl)
}

// Get returns the decoded value for key, ErrNotFound when absent or expired,
// or a *BackendError when storage fails. Integral numbers come back as int64
// at full precision and other numbers as float64.
func (m *AgentMemory) Get(ctx context.Context, key string) (any, error) {
	var v any
	if err := m.Decode(ctx, key, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Decode unmarshals the value for key into out. When out is *any,
// *map[string]any or *[]any, numbers follow the same rules as Get.
func (m *AgentMemory) Decode(ctx context.Context, key string, out any) (err error) {
	start := time.Now()
	defer func() { m.observe("get", start, err) }()

	data, err := m.backend.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := decodeValue(data, out); err != nil {
		return fmt.Errorf("failed to decode value for %q: %w", key, err)
	}
	return nil
}

func decodeValue(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return err
	}
	switch v := out.(type) {
	case *any:
		*v = normalizeNumbers(*v)
	case *map[string]any:
		normalizeNumbers(*v)
	case *[]any:
		normalizeNumbers(*v)
	}
	return nil
}

// normalizeNumbers replaces json.Number leaves in place with int64 or float64.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
	}
	return v
}

func (m *AgentMemory) Delete(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { m.observe("delete", start, err) }()
	return m.backend.Delete(ctx, key)
}

func (m *AgentMemory) Exists(ctx context.Context, key string) (ok bool, err error) {
	start := time.Now()
	defer func() { m.observe("exists", start, err) }()
	return m.backend.Exists(ctx, key)
}

// Keys lists live keys matching pattern in ascending order.
func (m *AgentMemory) Keys(ctx context.Context, pattern string) (keys []string, err error) {
	start := time.Now()
	defer func() { m.observe("keys", start, err) }()
	return m.backend.Keys(ctx, pattern)
}

// TTL returns the remaining lifetime of key, or zero for entries that never
// expire.
func (m *AgentMemory) TTL(ctx context.Context, key string) (time.Duration, error) {
	expiresAt, err := m.backend.Expiration(ctx, key)
	if err != nil {
		return 0, err
	}
	if expiresAt.IsZero() {
		return 0, nil
	}
	return expiresAt.Sub(m.clock()), nil
}

func (m *AgentMemory) Clear(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { m.observe("clear", start, err) }()
	return m.backend.Clear(ctx)
}

// CleanupExpired removes every expired entry and returns how many were removed.
func (m *AgentMemory) CleanupExpired(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "sylva.memory", "memory.sweep",
		attribute.String("memory.backend", m.backend.Name()))
	defer span.End()

	start := time.Now()
	removed, err := m.backend.CleanupExpired(ctx)
	duration := time.Since(start)
	m.observe("cleanup", start, err)
	observability.RecordMemorySweep(duration)

	m.mu.Lock()
	m.stats.Sweeps++
	m.stats.LastSweep = m.clock()
	if err != nil {
		m.stats.SweepErrors++
	} else {
		m.stats.LastRemoved = removed
		m.stats.ExpiredRemoved += int64(removed)
	}
	m.mu.Unlock()

	if err != nil {
		tracing.Fail(span, err)
		return 0, err
	}

	observability.RecordMemoryExpired(m.backend.Name(), "sweep", removed)
	span.SetAttributes(attribute.Int("memory.removed", removed))
	if removed > 0 {
		m.logger.Debug().Int("removed", removed).Dur("duration", duration).Msg("Expired entries removed")
	}
	return removed, nil
}

// Stats returns a snapshot of sweep activity.
func (m *AgentMemory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Close stops the sweeper, waiting for an in-flight sweep, then closes the
// backend. It is safe to call more than once.
func (m *AgentMemory) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.cancel()
		<-m.done

		m.mu.Lock()
		m.stats.Sweeping = false
		m.mu.Unlock()

		err = m.backend.Close()
		m.logger.Debug().Msg("Memory closed")
	})
	return err
}
