package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventLoop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.StatusInterval = 0
	d := createTestDaemon(t, cfg)
	t.Cleanup(func() { _ = d.closeModules() })

	e := NewEventLoop(d)
	assert.Equal(t, d, e.daemon)
	assert.Equal(t, DefaultStatusInterval, e.interval)
}

func TestEventLoopRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.StatusInterval = 20 * time.Millisecond
	d := createTestDaemon(t, cfg)
	t.Cleanup(func() { _ = d.closeModules() })

	e := NewEventLoop(d)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Event loop did not stop in time")
	}
	assert.FileExists(t, d.Lifecycle().StatusFile())
}

func TestEventLoopReportsStoppedAgentOnce(t *testing.T) {
	d := createTestDaemon(t, testConfig(t))
	t.Cleanup(func() { _ = d.closeModules() })

	e := NewEventLoop(d)
	e.processTasks(context.Background())
	require.True(t, e.stopped["regulatory"])

	// a running agent clears the mark
	a := d.Agents()[0]
	a.Start(context.Background())
	require.Eventually(t, a.IsRunning, time.Second, 5*time.Millisecond)
	e.processTasks(context.Background())
	assert.False(t, e.stopped["regulatory"])
	require.NoError(t, a.Stop())
}
