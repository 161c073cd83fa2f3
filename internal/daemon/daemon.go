package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/harun/sylva/internal/config"
	"github.com/harun/sylva/internal/logger"
	"github.com/harun/sylva/internal/metrics"
	"github.com/harun/sylva/internal/observability"
	"github.com/harun/sylva/internal/tracing"
	"github.com/harun/sylva/pkg/agent"
	"github.com/harun/sylva/pkg/agents/regulatory"
	"github.com/harun/sylva/pkg/bus"
	"github.com/harun/sylva/pkg/memory"
	"github.com/harun/sylva/pkg/rules"
	"github.com/harun/sylva/pkg/schedule"
)

// Version is reported in metrics and status.
var Version = "dev"

// Status is the daemon snapshot written to the status file.
type Status struct {
	Running   bool           `json:"running"`
	PID       int            `json:"pid"`
	Version   string         `json:"version"`
	StartTime time.Time      `json:"start_time,omitempty"`
	Uptime    time.Duration  `json:"uptime"`
	UpdatedAt time.Time      `json:"updated_at"`
	Bus       bus.Status     `json:"bus"`
	Memory    memory.Stats   `json:"memory"`
	Agents    []agent.Status `json:"agents"`
	RuleSets  int            `json:"rule_sets"`
	Rules     int            `json:"rules"`
	Schedules int            `json:"schedules"`
}

// Daemon builds the bus, memory and agents and owns their goroutines.
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	log    zerolog.Logger

	bus     *bus.MessageBus
	memory  *memory.AgentMemory
	engine  *rules.Engine
	watcher *rules.Watcher
	checker *regulatory.Checker
	agents  []*agent.Agent
	metrics *metrics.Server
	sched   *schedule.Service
	audit   *observability.AuditLog

	eventLoop *EventLoop
	lifecycle *LifecycleManager

	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}

	startTime time.Time
	running   bool
	stopped   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a daemon from cfg. Nothing runs until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	cfg.ApplyPaths()

	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		logger: log,
		log:    log.Component("daemon"),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(tracing.ProviderOptions{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: Version,
			SampleRatio:    cfg.Tracing.SampleRatio,
		}); err != nil {
			d.log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			d.log.Info().Msg("Tracing initialized successfully")
		}
	}

	if err := d.initializeCoreModules(); err != nil {
		d.closeModules()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeAgents(); err != nil {
		d.closeModules()
		return nil, fmt.Errorf("failed to initialize agents: %w", err)
	}

	if cfg.Metrics.Enabled {
		d.metrics = metrics.NewServer(metrics.Config{
			Address: cfg.Metrics.Address,
			Version: Version,
			Health:  d.health,
			Logger:  log.Zerolog(),
		})
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(
		cfg.Daemon.PIDFile,
		filepath.Join(cfg.DataDir, "status.json"),
		log.Zerolog(),
	)

	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	if err := os.MkdirAll(d.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	audit, err := observability.OpenAuditLog(d.config.DataDir)
	if err != nil {
		return err
	}
	d.audit = audit

	d.bus = bus.New(bus.Config{
		HistorySize: d.config.Bus.HistorySize,
		StopTimeout: d.config.Bus.StopTimeout,
		Logger:      d.logger.Zerolog(),
	})
	bus.SetDefault(d.bus)
	d.log.Info().Int("history_size", d.config.Bus.HistorySize).Msg("Message bus initialized")

	d.memory = memory.Open(memory.Config{
		Backend: d.config.Memory.Backend,
		Path:    d.config.Memory.Path,
	}, memory.Options{
		SweepInterval: d.config.Memory.SweepInterval,
		SweepSchedule: d.config.Memory.SweepSchedule,
		Logger:        d.logger.Zerolog(),
	})
	memory.SetDefault(d.memory)
	d.log.Info().Str("backend", d.memory.Backend().Name()).Msg("Agent memory initialized")

	d.engine = rules.NewEngine()

	if d.config.Schedule.Enabled {
		sched, err := schedule.NewService(schedule.Options{
			StorePath: d.config.Schedule.StorePath,
			Publisher: d.bus,
			Logger:    d.logger.Zerolog(),
			OnEvent:   d.auditScheduleEvent,
		})
		if err != nil {
			return fmt.Errorf("failed to load schedules: %w", err)
		}
		d.sched = sched
	}
	return nil
}

func (d *Daemon) initializeAgents() error {
	reg := d.config.Agents.Regulatory
	if !reg.Enabled {
		return nil
	}

	if err := os.MkdirAll(reg.RulesDir, 0o755); err != nil {
		return fmt.Errorf("failed to create rules directory: %w", err)
	}

	if reg.Watch {
		w, err := rules.NewWatcher(d.engine, rules.WatcherConfig{
			Dir:    reg.RulesDir,
			Logger: d.logger.Zerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to watch rules: %w", err)
		}
		d.watcher = w
		// a broken rule file is logged by the watcher and fixed by a later edit
		_ = w.Reload()
	} else {
		sets, err := rules.LoadDir(reg.RulesDir)
		if err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
		d.engine.Replace(sets)
	}

	checker, err := regulatory.New(regulatory.Config{
		ResultTTL:   reg.ResultTTL,
		StopTimeout: d.config.Agents.StopTimeout,
		Logger:      d.logger.Zerolog(),
	}, d.bus, d.memory, d.engine)
	if err != nil {
		return err
	}
	d.checker = checker
	d.agents = append(d.agents, checker.Agent())

	d.log.Info().
		Str("rules_dir", reg.RulesDir).
		Int("rules", d.engine.RuleCount()).
		Msg("Regulatory agent initialized")
	return nil
}

// Start launches the bus dispatcher, every agent loop, the status loop and
// the metrics server. A daemon runs at most once.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("daemon is already running")
	}
	if d.stopped {
		return fmt.Errorf("daemon has been stopped and cannot be restarted")
	}

	ctx := tracing.WithTraceID(context.Background(), tracing.NewTraceID())
	log := tracing.LoggerFromContext(ctx, d.log)
	log.Info().Str("version", Version).Msg("Starting sylva daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.metrics != nil {
		if err := d.metrics.Listen(); err != nil {
			_ = d.lifecycle.Stop()
			return err
		}
	}

	if err := d.bus.Start(); err != nil {
		_ = d.lifecycle.Stop()
		return fmt.Errorf("failed to start message bus: %w", err)
	}

	if d.sched != nil {
		if err := d.sched.Start(); err != nil {
			_ = d.bus.Stop()
			_ = d.lifecycle.Stop()
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)
	d.cancel = cancel
	d.group = group
	d.done = make(chan struct{})
	d.running = true
	d.startTime = time.Now()

	for _, a := range d.agents {
		a := a
		group.Go(func() error {
			a.Run(gctx)
			return nil
		})
		log.Info().Str("agent", a.Name()).Msg("Agent started")
	}

	group.Go(func() error {
		d.eventLoop.Run(gctx)
		return nil
	})

	if d.metrics != nil {
		group.Go(func() error {
			return d.metrics.Run(gctx)
		})
	}

	done := d.done
	go func() {
		if err := group.Wait(); err != nil {
			d.log.Error().Err(err).Msg("Daemon component failed")
		}
		close(done)
	}()

	d.audit.Record(ctx, observability.AuditEvent{
		Type:     "daemon",
		Actor:    "daemon",
		Action:   "start",
		Metadata: map[string]any{"pid": os.Getpid(), "version": Version},
	})
	log.Info().Int("agents", len(d.agents)).Msg("Daemon started successfully")
	return nil
}

// Stop cancels the agent loops, waits for them up to the shutdown timeout,
// then stops the bus and closes memory.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.stopped = true
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	d.log.Info().Msg("Stopping sylva daemon")

	var errs []error

	cancel()
	timeout := d.config.Daemon.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-done:
	case <-time.After(timeout):
		errs = append(errs, fmt.Errorf("components still running after %s", timeout))
		d.log.Warn().Dur("timeout", timeout).Msg("Shutdown timeout reached")
	}

	if err := d.lifecycle.WriteStatus(d.Status()); err != nil {
		d.log.Warn().Err(err).Msg("Failed to write final status")
	}

	d.audit.Record(context.Background(), observability.AuditEvent{
		Type:   "daemon",
		Actor:  "daemon",
		Action: "stop",
	})

	errs = append(errs, d.closeModules())

	if err := d.lifecycle.Stop(); err != nil {
		errs = append(errs, err)
	}

	d.log.Info().Msg("Daemon stopped")
	return errors.Join(errs...)
}

// closeModules releases everything New built. Safe on partial init.
func (d *Daemon) closeModules() error {
	var errs []error

	if d.sched != nil {
		if err := d.sched.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}

	for _, a := range d.agents {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", a.Name(), err))
		}
	}

	if d.bus != nil && d.bus.IsRunning() {
		if err := d.bus.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("message bus: %w", err))
		}
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("rules watcher: %w", err))
		}
	}

	if d.memory != nil {
		if err := d.memory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("agent memory: %w", err))
		}
	}

	if err := d.audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("audit log: %w", err))
	}

	if d.tracingEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing: %w", err))
		}
		d.tracingEnabled = false
	}

	return errors.Join(errs...)
}

// Run starts the daemon, blocks until ctx is cancelled, then stops it.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return d.Stop()
}

// Status returns a snapshot of every component.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	running := d.running
	start := d.startTime
	d.mu.RUnlock()

	status := Status{
		Running:   running,
		PID:       os.Getpid(),
		Version:   Version,
		StartTime: start,
		UpdatedAt: time.Now().UTC(),
		Bus:       d.bus.Status(),
		Memory:    d.memory.Stats(),
		Agents:    make([]agent.Status, 0, len(d.agents)),
		RuleSets:  len(d.engine.Sets()),
		Rules:     d.engine.RuleCount(),
	}
	if d.sched != nil {
		status.Schedules = len(d.sched.ListJobs())
	}
	if running {
		status.Uptime = time.Since(start)
	}
	for _, a := range d.agents {
		status.Agents = append(status.Agents, a.Status())
	}
	return status
}

// auditScheduleEvent records job changes and failed runs. Successful runs
// are counted in metrics only.
func (d *Daemon) auditScheduleEvent(evt schedule.Event) {
	if evt.Action == schedule.EventActionFinished && evt.Status != "error" {
		return
	}
	event := observability.AuditEvent{
		Type:   "schedule",
		Actor:  "daemon",
		Action: "job_" + string(evt.Action),
		Target: evt.JobID,
	}
	if evt.Error != "" {
		event.Status = "failure"
		event.Metadata = map[string]any{"error": evt.Error}
	}
	d.audit.Record(context.Background(), event)
}

func (d *Daemon) health() metrics.Health {
	status := d.Status()
	healthy := status.Running && status.Bus.Running
	components := map[string]any{
		"bus":    status.Bus.Running,
		"memory": status.Memory.Backend,
	}
	for _, a := range status.Agents {
		components["agent:"+a.Name] = a.State
		if !a.Running {
			healthy = false
		}
	}
	return metrics.Health{Healthy: healthy, Components: components}
}

// Wait blocks until every component goroutine has returned.
func (d *Daemon) Wait() {
	d.mu.RLock()
	done := d.done
	d.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// Config returns the daemon configuration
func (d *Daemon) Config() *config.Config { return d.config }

// Bus returns the shared message bus
func (d *Daemon) Bus() *bus.MessageBus { return d.bus }

// Memory returns the shared agent memory
func (d *Daemon) Memory() *memory.AgentMemory { return d.memory }

// Engine returns the rule engine
func (d *Daemon) Engine() *rules.Engine { return d.engine }

// Checker returns the regulatory agent, nil when disabled
func (d *Daemon) Checker() *regulatory.Checker { return d.checker }

// Agents returns the agents owned by the daemon
func (d *Daemon) Agents() []*agent.Agent { return d.agents }

// Lifecycle returns the PID/status file manager
func (d *Daemon) Lifecycle() *LifecycleManager { return d.lifecycle }

// Schedule returns the scheduled publication service, nil when disabled
func (d *Daemon) Schedule() *schedule.Service { return d.sched }

// Metrics returns the metrics server, nil when disabled
func (d *Daemon) Metrics() *metrics.Server { return d.metrics }
