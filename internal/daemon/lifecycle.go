package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// ErrAlreadyRunning is returned by Start when the PID file names a live process.
var ErrAlreadyRunning = errors.New("daemon is already running")

// ErrNotRunning is returned when no live daemon owns the PID file.
var ErrNotRunning = errors.New("daemon is not running")

// LifecycleManager owns the PID file and the status snapshot file. The CLI
// uses the same type to find and signal a running daemon.
type LifecycleManager struct {
	pidFile    string
	statusFile string
	logger     zerolog.Logger
}

// NewLifecycleManager creates a lifecycle manager for the given files
func NewLifecycleManager(pidFile, statusFile string, logger zerolog.Logger) *LifecycleManager {
	return &LifecycleManager{
		pidFile:    pidFile,
		statusFile: statusFile,
		logger:     logger.With().Str("component", "lifecycle").Logger(),
	}
}

// PIDFile returns the PID file path
func (l *LifecycleManager) PIDFile() string { return l.pidFile }

// StatusFile returns the status snapshot path
func (l *LifecycleManager) StatusFile() string { return l.statusFile }

// Start writes the PID file. A stale PID file left by a dead process is
// replaced.
func (l *LifecycleManager) Start() error {
	if err := os.MkdirAll(filepath.Dir(l.pidFile), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if pid, err := l.GetPID(); err == nil && pid != os.Getpid() && processAlive(pid) {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}

	if err := l.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	l.logger.Info().
		Str("pid_file", l.pidFile).
		Int("pid", os.Getpid()).
		Msg("Lifecycle manager started")

	return nil
}

// Stop removes the PID and status files
func (l *LifecycleManager) Stop() error {
	var errs []error
	if err := os.Remove(l.pidFile); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove PID file: %w", err))
	}
	if l.statusFile != "" {
		if err := os.Remove(l.statusFile); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("failed to remove status file: %w", err))
		}
	}

	l.logger.Info().Msg("Lifecycle manager stopped")
	return errors.Join(errs...)
}

func (l *LifecycleManager) writePIDFile() error {
	return os.WriteFile(l.pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// GetPID returns the PID recorded in the PID file
func (l *LifecycleManager) GetPID() (int, error) {
	data, err := os.ReadFile(l.pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}

	return pid, nil
}

// IsRunning reports whether the PID file names a live process
func (l *LifecycleManager) IsRunning() bool {
	pid, err := l.GetPID()
	if err != nil {
		return false
	}
	return processAlive(pid)
}

// Signal sends SIGTERM to the daemon and waits up to timeout for it to
// remove its PID file.
func (l *LifecycleManager) Signal(timeout time.Duration) error {
	pid, err := l.GetPID()
	if err != nil || !processAlive(pid) {
		return ErrNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}
		if _, err := os.Stat(l.pidFile); os.IsNotExist(err) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon (pid %d) did not exit within %s", pid, timeout)
}

// WriteStatus atomically replaces the status snapshot file.
func (l *LifecycleManager) WriteStatus(status Status) error {
	if l.statusFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	tmp := l.statusFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.statusFile)
}

// ReadStatus returns the last snapshot written by the daemon.
func (l *LifecycleManager) ReadStatus() (Status, error) {
	var status Status
	data, err := os.ReadFile(l.statusFile)
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return status, fmt.Errorf("invalid status file: %w", err)
	}
	return status, nil
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
