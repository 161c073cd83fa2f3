package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "SYLVA"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// DefaultDataDir returns ~/.sylva.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".sylva"), nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	dir, err := DefaultDataDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "sylva.json")
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// newViper registers every key with its default so SYLVA_* variables
// override values even when the file omits them.
func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(configType(path))
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.console", d.Logging.Console)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.redaction", d.Logging.Redaction)
	v.SetDefault("memory.backend", d.Memory.Backend)
	v.SetDefault("memory.path", d.Memory.Path)
	v.SetDefault("memory.sweep_interval", d.Memory.SweepInterval)
	v.SetDefault("memory.sweep_schedule", d.Memory.SweepSchedule)
	v.SetDefault("bus.history_size", d.Bus.HistorySize)
	v.SetDefault("bus.stop_timeout", d.Bus.StopTimeout)
	v.SetDefault("agents.stop_timeout", d.Agents.StopTimeout)
	v.SetDefault("agents.regulatory.enabled", d.Agents.Regulatory.Enabled)
	v.SetDefault("agents.regulatory.rules_dir", d.Agents.Regulatory.RulesDir)
	v.SetDefault("agents.regulatory.watch", d.Agents.Regulatory.Watch)
	v.SetDefault("agents.regulatory.result_ttl", d.Agents.Regulatory.ResultTTL)
	v.SetDefault("daemon.pid_file", d.Daemon.PIDFile)
	v.SetDefault("daemon.status_interval", d.Daemon.StatusInterval)
	v.SetDefault("daemon.shutdown_timeout", d.Daemon.ShutdownTimeout)
	v.SetDefault("schedule.enabled", d.Schedule.Enabled)
	v.SetDefault("schedule.store_path", d.Schedule.StorePath)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)
	return v
}

// Load reads the config file, applies SYLVA_* environment overrides and
// fills derived paths. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	v := newViper(configPath)
	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = dir
	}
	cfg.ApplyPaths()

	return cfg, nil
}

// Save writes cfg to the loader's path, creating the directory if needed.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType(configType(configPath))

	v.Set("data_dir", cfg.DataDir)
	v.Set("logging", map[string]any{
		"level":     cfg.Logging.Level,
		"file":      cfg.Logging.File,
		"console":   cfg.Logging.Console,
		"pretty":    cfg.Logging.Pretty,
		"max_size":  cfg.Logging.MaxSize,
		"max_age":   cfg.Logging.MaxAge,
		"compress":  cfg.Logging.Compress,
		"redaction": cfg.Logging.Redaction,
	})
	v.Set("memory", map[string]any{
		"backend":        cfg.Memory.Backend,
		"path":           cfg.Memory.Path,
		"sweep_interval": cfg.Memory.SweepInterval.String(),
		"sweep_schedule": cfg.Memory.SweepSchedule,
	})
	v.Set("bus", map[string]any{
		"history_size": cfg.Bus.HistorySize,
		"stop_timeout": cfg.Bus.StopTimeout.String(),
	})
	v.Set("agents", map[string]any{
		"stop_timeout": cfg.Agents.StopTimeout.String(),
		"regulatory": map[string]any{
			"enabled":    cfg.Agents.Regulatory.Enabled,
			"rules_dir":  cfg.Agents.Regulatory.RulesDir,
			"watch":      cfg.Agents.Regulatory.Watch,
			"result_ttl": cfg.Agents.Regulatory.ResultTTL.String(),
		},
	})
	v.Set("daemon", map[string]any{
		"pid_file":         cfg.Daemon.PIDFile,
		"status_interval":  cfg.Daemon.StatusInterval.String(),
		"shutdown_timeout": cfg.Daemon.ShutdownTimeout.String(),
	})
	v.Set("schedule", map[string]any{
		"enabled":    cfg.Schedule.Enabled,
		"store_path": cfg.Schedule.StorePath,
	})
	v.Set("metrics", map[string]any{
		"enabled": cfg.Metrics.Enabled,
		"address": cfg.Metrics.Address,
	})
	v.Set("tracing", map[string]any{
		"enabled":      cfg.Tracing.Enabled,
		"service_name": cfg.Tracing.ServiceName,
		"sample_ratio": cfg.Tracing.SampleRatio,
	})

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
