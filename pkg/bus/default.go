package bus

import (
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	defaultMu  sync.Mutex
	defaultBus *MessageBus
)

// Default returns the process-wide bus, creating a stopped one on first use.
// Only the composition root should call it; components receive the bus
// explicitly.
func Default() *MessageBus {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultBus == nil {
		defaultBus = New(Config{Logger: log.Logger})
	}
	return defaultBus
}

// SetDefault replaces the process-wide bus.
func SetDefault(b *MessageBus) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultBus = b
}
