package daemon

import (
	"context"
	"time"
)

// DefaultStatusInterval is used when the configured interval is zero.
const DefaultStatusInterval = time.Minute

// EventLoop periodically snapshots daemon status to the status file and
// reports agents whose loop has ended.
type EventLoop struct {
	daemon   *Daemon
	interval time.Duration
	stopped  map[string]bool
}

// NewEventLoop creates a new event loop
func NewEventLoop(d *Daemon) *EventLoop {
	interval := d.config.Daemon.StatusInterval
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	return &EventLoop{
		daemon:   d,
		interval: interval,
		stopped:  make(map[string]bool),
	}
}

// Run ticks until ctx is cancelled.
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.log.Info().Dur("interval", e.interval).Msg("Event loop started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.processTasks(ctx)
	for {
		select {
		case <-ctx.Done():
			e.daemon.log.Info().Msg("Event loop stopping")
			return
		case <-ticker.C:
			e.processTasks(ctx)
		}
	}
}

func (e *EventLoop) processTasks(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	status := e.daemon.Status()

	if err := e.daemon.lifecycle.WriteStatus(status); err != nil {
		e.daemon.log.Warn().Err(err).Msg("Failed to write status file")
	}

	for _, a := range status.Agents {
		if a.Running {
			delete(e.stopped, a.Name)
			continue
		}
		if e.stopped[a.Name] {
			continue
		}
		e.stopped[a.Name] = true
		e.daemon.log.Error().
			Str("agent", a.Name).
			Str("last_error", a.LastError).
			Msg("Agent is no longer running")
	}

	e.daemon.log.Debug().
		Int("bus_pending", status.Bus.Pending).
		Int64("bus_published", status.Bus.Published).
		Int64("expired_removed", status.Memory.ExpiredRemoved).
		Msg("Status snapshot")
}
