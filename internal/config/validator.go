package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/harun/sylva/pkg/memory"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

func oneOf(value string, valid []string) bool {
	for _, v := range valid {
		if value == v {
			return true
		}
	}
	return false
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if oneOf(level, validLevels) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateBackend validates the memory backend name
func (v *Validator) ValidateBackend(backend string) error {
	validBackends := []string{memory.BackendMemory, memory.BackendSQLite}
	if oneOf(backend, validBackends) {
		return nil
	}
	return fmt.Errorf("invalid memory backend: %s (must be one of: %s)", backend, strings.Join(validBackends, ", "))
}

// ValidateAddress validates a host:port listen address
func (v *Validator) ValidateAddress(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation and joins every problem
// found into one error.
func (v *Validator) ValidateConfig(cfg *Config) error {
	var errs []error

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if cfg.Logging.MaxSize < 0 {
		errs = append(errs, fmt.Errorf("logging.max_size must be >= 0"))
	}
	if cfg.Logging.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("logging.max_age must be >= 0"))
	}

	if err := v.ValidateBackend(cfg.Memory.Backend); err != nil {
		errs = append(errs, err)
	}
	if cfg.Memory.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("memory.sweep_interval must be >= 0"))
	}
	if cfg.Memory.SweepSchedule != "" {
		if _, err := memory.ParseSweepSchedule(cfg.Memory.SweepSchedule, 0); err != nil {
			errs = append(errs, fmt.Errorf("memory.sweep_schedule: %w", err))
		}
	}

	if cfg.Bus.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("bus.history_size must be >= 0"))
	}
	if cfg.Bus.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("bus.stop_timeout must be >= 0"))
	}
	if cfg.Agents.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("agents.stop_timeout must be >= 0"))
	}

	reg := cfg.Agents.Regulatory
	if reg.Enabled && strings.TrimSpace(reg.RulesDir) == "" {
		errs = append(errs, fmt.Errorf("agents.regulatory.rules_dir is required when the agent is enabled"))
	}

	if cfg.Daemon.StatusInterval < 0 {
		errs = append(errs, fmt.Errorf("daemon.status_interval must be >= 0"))
	}

	if cfg.Schedule.Enabled && strings.TrimSpace(cfg.Schedule.StorePath) == "" {
		errs = append(errs, fmt.Errorf("schedule.store_path is required when scheduling is enabled"))
	}

	if cfg.Metrics.Enabled {
		if err := v.ValidateAddress(cfg.Metrics.Address); err != nil {
			errs = append(errs, fmt.Errorf("metrics.address: %w", err))
		}
	}

	if cfg.Tracing.Enabled {
		if strings.TrimSpace(cfg.Tracing.ServiceName) == "" {
			errs = append(errs, fmt.Errorf("tracing.service_name is required when tracing is enabled"))
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %g", cfg.Tracing.SampleRatio))
		}
	}

	return errors.Join(errs...)
}
