package rules

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/harun/sylva/internal/observability"
)

// DefaultReloadDebounce coalesces bursts of file events into one reload.
const DefaultReloadDebounce = 500 * time.Millisecond

// Watcher reloads a rule directory into an Engine when its files change.
type Watcher struct {
	dir      string
	engine   *Engine
	watcher  *fsnotify.Watcher
	logger   zerolog.Logger
	debounce time.Duration
	onReload func(error)

	mu      sync.Mutex
	digest  string
	timer   *time.Timer
	stopCh  chan struct{}
	stopped bool
	done    chan struct{}
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Dir      string
	Debounce time.Duration
	Logger   zerolog.Logger
	// OnReload is called after every reload attempt.
	OnReload func(error)
}

// NewWatcher starts watching cfg.Dir. The engine is not loaded here; call
// Reload once for the initial load.
func NewWatcher(engine *Engine, cfg WatcherConfig) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(cfg.Dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch rule directory: %w", err)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}

	w := &Watcher{
		dir:      cfg.Dir,
		engine:   engine,
		watcher:  fw,
		logger:   cfg.Logger.With().Str("component", "rules").Str("dir", cfg.Dir).Logger(),
		debounce: debounce,
		onReload: cfg.OnReload,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	go w.run()
	return w, nil
}

// Reload loads the directory and swaps it into the engine. On failure the
// engine keeps its current rule sets.
func (w *Watcher) Reload() error {
	digest, _ := Digest(w.dir)
	sets, err := LoadDir(w.dir)
	observability.RecordRuleReload(err == nil)
	if err != nil {
		w.logger.Error().Err(err).Msg("Rule reload failed, keeping previous rules")
		digest = ""
	} else {
		w.engine.Replace(sets)
		w.logger.Info().Int("rule_sets", len(sets)).Int("rules", w.engine.RuleCount()).Msg("Rules loaded")
	}

	w.mu.Lock()
	w.digest = digest
	w.mu.Unlock()

	if w.onReload != nil {
		w.onReload(err)
	}
	return err
}

// reloadIfChanged skips the reload when the rule files hash to the digest of
// the last successful load. Editors often touch files without changing them.
func (w *Watcher) reloadIfChanged() {
	digest, err := Digest(w.dir)
	w.mu.Lock()
	unchanged := err == nil && digest != "" && digest == w.digest
	w.mu.Unlock()

	if unchanged {
		w.logger.Debug().Msg("Rule files unchanged, skipping reload")
		return
	}
	_ = w.Reload()
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.stopCh)
	w.mu.Unlock()

	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !IsRuleFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("Rule file change detected")
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Rule watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		stopped := w.stopped
		w.mu.Unlock()
		if !stopped {
			w.reloadIfChanged()
		}
	})
}
