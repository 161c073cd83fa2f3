package config

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	assert.Equal(t, "sqlite", cfg.Memory.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Memory.SweepInterval)
	assert.Equal(t, 1000, cfg.Bus.HistorySize)
	assert.Equal(t, 5*time.Second, cfg.Agents.StopTimeout)
	assert.True(t, cfg.Agents.Regulatory.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Agents.Regulatory.ResultTTL)
	assert.True(t, cfg.Schedule.Enabled)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "sylva", cfg.Tracing.ServiceName)
}

func TestApplyPaths(t *testing.T) {
	t.Run("fills empty paths under data dir", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DataDir = "/var/lib/sylva"
		cfg.ApplyPaths()

		assert.Equal(t, filepath.Join("/var/lib/sylva", "sylva.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join("/var/lib/sylva", "memory.db"), cfg.Memory.Path)
		assert.Equal(t, filepath.Join("/var/lib/sylva", "rules"), cfg.Agents.Regulatory.RulesDir)
		assert.Equal(t, filepath.Join("/var/lib/sylva", "sylva.pid"), cfg.Daemon.PIDFile)
		assert.Equal(t, filepath.Join("/var/lib/sylva", "schedules.json"), cfg.Schedule.StorePath)
	})

	t.Run("keeps explicit paths", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DataDir = "/data"
		cfg.Memory.Path = "/elsewhere/mem.db"
		cfg.ApplyPaths()

		assert.Equal(t, "/elsewhere/mem.db", cfg.Memory.Path)
	})

	t.Run("no data dir leaves paths alone", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ApplyPaths()
		assert.Empty(t, cfg.Memory.Path)
	})
}

func TestRebasePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/old"
	cfg.ApplyPaths()
	cfg.Memory.Path = "/elsewhere/mem.db"

	cfg.RebasePaths("/new")

	assert.Equal(t, "/new", cfg.DataDir)
	assert.Equal(t, filepath.Join("/new", "rules"), cfg.Agents.Regulatory.RulesDir)
	assert.Equal(t, filepath.Join("/new", "sylva.pid"), cfg.Daemon.PIDFile)
	assert.Equal(t, filepath.Join("/new", "schedules.json"), cfg.Schedule.StorePath)
	assert.Equal(t, "/elsewhere/mem.db", cfg.Memory.Path)
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/sylva"
	cfg.ApplyPaths()
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults with paths", mutate: func(*Config) {}},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Memory.Backend = "redis" },
			wantErr: "invalid memory backend",
		},
		{
			name:    "bad sweep schedule",
			mutate:  func(c *Config) { c.Memory.SweepSchedule = "every tuesday" },
			wantErr: "memory.sweep_schedule",
		},
		{
			name:   "cron sweep schedule",
			mutate: func(c *Config) { c.Memory.SweepSchedule = "*/10 * * * *" },
		},
		{
			name:    "negative history",
			mutate:  func(c *Config) { c.Bus.HistorySize = -1 },
			wantErr: "bus.history_size",
		},
		{
			name:    "regulatory without rules dir",
			mutate:  func(c *Config) { c.Agents.Regulatory.RulesDir = "" },
			wantErr: "rules_dir is required",
		},
		{
			name: "disabled regulatory without rules dir",
			mutate: func(c *Config) {
				c.Agents.Regulatory.Enabled = false
				c.Agents.Regulatory.RulesDir = ""
			},
		},
		{
			name:    "schedule without store",
			mutate:  func(c *Config) { c.Schedule.StorePath = "" },
			wantErr: "schedule.store_path",
		},
		{
			name: "metrics with bad address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Address = "nope"
			},
			wantErr: "metrics.address",
		},
		{
			name: "tracing ratio out of range",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRatio = 1.5
			},
			wantErr: "sample_ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigValidateReportsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "loud"
	cfg.Memory.Backend = "etcd"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
	assert.Contains(t, err.Error(), "invalid memory backend")
}

func TestConfigString(t *testing.T) {
	cfg := validConfig()
	str := cfg.String()

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(str), &decoded))
	assert.Equal(t, "/tmp/sylva", decoded["data_dir"])
	assert.Contains(t, str, `"backend": "sqlite"`)
}
