package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/harun/sylva/internal/observability"
	"github.com/rs/zerolog/log"
)

// Config selects and locates the backend.
type Config struct {
	Backend string `json:"backend" mapstructure:"backend"`
	Path    string `json:"path" mapstructure:"path"`
}

// DefaultPath is the durable store location under the user's home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".sylva", "memory.db")
	}
	return filepath.Join(home, ".sylva", "memory.db")
}

// OpenBackend builds the backend named by cfg.
func OpenBackend(cfg Config, opts BackendOptions) (Backend, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewInMemoryBackend(opts), nil
	case BackendSQLite, "":
		path := cfg.Path
		if path == "" {
			path = DefaultPath()
		}
		return NewSQLiteBackend(path, opts)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

// Open builds an AgentMemory for cfg. When the durable backend cannot be
// opened the failure is logged and an in-memory backend is used instead.
func Open(cfg Config, opts Options) *AgentMemory {
	bopts := BackendOptions{Clock: opts.Clock}

	backend, err := OpenBackend(cfg, bopts)
	if err != nil {
		observability.RecordMemoryFallback()
		opts.Logger.Error().
			Err(err).
			Str("backend", cfg.Backend).
			Str("path", cfg.Path).
			Msg("Memory backend unavailable, falling back to in-memory storage")
		backend = NewInMemoryBackend(bopts)
	}
	return New(backend, opts)
}

var (
	defaultMu  sync.Mutex
	defaultMem *AgentMemory
)

// Default returns the process-wide memory, opening the durable store at
// DefaultPath on first use. Only the composition root should call it.
func Default() *AgentMemory {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultMem == nil {
		defaultMem = Open(Config{Backend: BackendSQLite, Path: DefaultPath()}, Options{Logger: log.Logger})
	}
	return defaultMem
}

// SetDefault replaces the process-wide memory. It does not close the previous one.
func SetDefault(m *AgentMemory) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultMem = m
}
