package config

import (
	"encoding/json"
	"path/filepath"
	"time"
)

// Config is the host process configuration. Core packages never read it;
// the daemon translates each section into the matching package options.
type Config struct {
	// Data directory for the durable store, PID file and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Memory   MemoryConfig   `json:"memory" mapstructure:"memory"`
	Bus      BusConfig      `json:"bus" mapstructure:"bus"`
	Agents   AgentsConfig   `json:"agents" mapstructure:"agents"`
	Daemon   DaemonConfig   `json:"daemon" mapstructure:"daemon"`
	Schedule ScheduleConfig `json:"schedule" mapstructure:"schedule"`
	Metrics  MetricsConfig  `json:"metrics" mapstructure:"metrics"`
	Tracing  TracingConfig  `json:"tracing" mapstructure:"tracing"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MemoryConfig selects the shared memory backend.
type MemoryConfig struct {
	Backend       string        `json:"backend" mapstructure:"backend"` // memory, sqlite
	Path          string        `json:"path" mapstructure:"path"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
	SweepSchedule string        `json:"sweep_schedule" mapstructure:"sweep_schedule"` // cron spec, overrides sweep_interval
}

// BusConfig holds message bus settings
type BusConfig struct {
	HistorySize int           `json:"history_size" mapstructure:"history_size"`
	StopTimeout time.Duration `json:"stop_timeout" mapstructure:"stop_timeout"`
}

// AgentsConfig holds settings shared by agents and per-agent sections
type AgentsConfig struct {
	StopTimeout time.Duration    `json:"stop_timeout" mapstructure:"stop_timeout"`
	Regulatory  RegulatoryConfig `json:"regulatory" mapstructure:"regulatory"`
}

// RegulatoryConfig configures the rule checking agent
type RegulatoryConfig struct {
	Enabled   bool          `json:"enabled" mapstructure:"enabled"`
	RulesDir  string        `json:"rules_dir" mapstructure:"rules_dir"`
	Watch     bool          `json:"watch" mapstructure:"watch"`
	ResultTTL time.Duration `json:"result_ttl" mapstructure:"result_ttl"`
}

// DaemonConfig holds process lifecycle settings
type DaemonConfig struct {
	PIDFile         string        `json:"pid_file" mapstructure:"pid_file"`
	StatusInterval  time.Duration `json:"status_interval" mapstructure:"status_interval"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// ScheduleConfig holds the scheduled publication settings
type ScheduleConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	StorePath string `json:"store_path" mapstructure:"store_path"`
}

// MetricsConfig holds the metrics endpoint settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Address string `json:"address" mapstructure:"address"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Memory: MemoryConfig{
			Backend:       "sqlite",
			SweepInterval: 5 * time.Minute,
		},
		Bus: BusConfig{
			HistorySize: 1000,
			StopTimeout: 5 * time.Second,
		},
		Agents: AgentsConfig{
			StopTimeout: 5 * time.Second,
			Regulatory: RegulatoryConfig{
				Enabled:   true,
				Watch:     true,
				ResultTTL: 24 * time.Hour,
			},
		},
		Daemon: DaemonConfig{
			StatusInterval:  time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Schedule: ScheduleConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "sylva",
			SampleRatio: 1.0,
		},
	}
}

// ApplyPaths fills path settings that default to locations under DataDir.
func (c *Config) ApplyPaths() {
	if c.DataDir == "" {
		return
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.DataDir, "sylva.log")
	}
	if c.Memory.Path == "" {
		c.Memory.Path = filepath.Join(c.DataDir, "memory.db")
	}
	if c.Agents.Regulatory.RulesDir == "" {
		c.Agents.Regulatory.RulesDir = filepath.Join(c.DataDir, "rules")
	}
	if c.Daemon.PIDFile == "" {
		c.Daemon.PIDFile = filepath.Join(c.DataDir, "sylva.pid")
	}
	if c.Schedule.StorePath == "" {
		c.Schedule.StorePath = filepath.Join(c.DataDir, "schedules.json")
	}
}

// RebasePaths moves derived paths that live directly under the current
// DataDir to dir and sets DataDir to dir.
func (c *Config) RebasePaths(dir string) {
	old := c.DataDir
	if old == dir {
		return
	}
	for _, p := range []*string{&c.Logging.File, &c.Memory.Path, &c.Agents.Regulatory.RulesDir, &c.Daemon.PIDFile, &c.Schedule.StorePath} {
		if old != "" && *p != "" && filepath.Dir(*p) == old {
			*p = filepath.Join(dir, filepath.Base(*p))
		}
	}
	c.DataDir = dir
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	return NewValidator().ValidateConfig(c)
}
