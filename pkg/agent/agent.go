package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/harun/sylva/internal/observability"
	"github.com/harun/sylva/internal/tracing"
	"github.com/harun/sylva/pkg/bus"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultStopTimeout bounds how long Stop waits for the current task.
const DefaultStopTimeout = 5 * time.Second

var (
	ErrNoBus       = errors.New("agent has no message bus")
	ErrStopTimeout = errors.New("agent did not stop within timeout")
)

// State is the lifecycle state of an agent.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Config configures an agent.
type Config struct {
	Name string `json:"name" mapstructure:"name"`
	// ResultTopic receives handler results. Empty disables result publishing.
	ResultTopic string         `json:"result_topic" mapstructure:"result_topic"`
	StopTimeout time.Duration  `json:"stop_timeout" mapstructure:"stop_timeout"`
	Logger      zerolog.Logger `json:"-" mapstructure:"-"`
}

// ExecutionError describes a failure that ended an agent's execution loop.
type ExecutionError struct {
	Agent    string
	RunID    string
	TaskID   string
	TaskType string
	Panic    any
	Stack    []byte
}

func (e *ExecutionError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("agent %s run %s crashed: %v", e.Agent, e.RunID, e.Panic)
	}
	return fmt.Sprintf("agent %s run %s crashed in task %s (%s): %v", e.Agent, e.RunID, e.TaskID, e.TaskType, e.Panic)
}

// Status is a point-in-time snapshot of an agent.
type Status struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	Running       bool      `json:"running"`
	RunID         string    `json:"run_id,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	QueueLength   int       `json:"queue_length"`
	Processed     int64     `json:"processed"`
	Failed        int64     `json:"failed"`
	Rejected      int64     `json:"rejected"`
	Published     int64     `json:"published"`
	LastError     string    `json:"last_error,omitempty"`
	Subscriptions []string  `json:"subscriptions,omitempty"`
}

// Agent owns a FIFO task queue and the loop that drains it.
type Agent struct {
	cfg    Config
	bus    *bus.MessageBus
	logger zerolog.Logger

	handlersMu sync.RWMutex
	handlers   map[string]TaskHandler

	mu            sync.Mutex
	state         State
	queue         []Task
	notify        chan struct{}
	cancel        context.CancelFunc
	done          chan struct{}
	runID         string
	startedAt     time.Time
	current       *Task
	subscriptions []string
	processed     int64
	failed        int64
	rejected      int64
	published     int64
	lastErr       error
}

// New creates a stopped agent. b may be nil for agents fed only by AddTask.
func New(cfg Config, b *bus.MessageBus) *Agent {
	observability.EnsureRegistered()

	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	return &Agent{
		cfg:      cfg,
		bus:      b,
		logger:   cfg.Logger.With().Str("component", "agent").Str("agent", cfg.Name).Logger(),
		handlers: make(map[string]TaskHandler),
		notify:   make(chan struct{}, 1),
	}
}

func (a *Agent) Name() string { return a.cfg.Name }

// Handle registers the handler for a task type, replacing any previous one.
func (a *Agent) Handle(taskType string, h TaskHandler) {
	a.handlersMu.Lock()
	defer a.handlersMu.Unlock()
	a.handlers[taskType] = h
}

// Subscribe routes messages matching pattern through translate into the
// task queue. Rejected messages are logged and counted.
func (a *Agent) Subscribe(pattern string, translate Translator) error {
	if a.bus == nil {
		return ErrNoBus
	}

	err := a.bus.Subscribe(pattern, a.cfg.Name, func(ctx context.Context, msg bus.Message) error {
		task, err := translate(msg)
		if err != nil {
			a.mu.Lock()
			a.rejected++
			a.mu.Unlock()
			log := tracing.LoggerFromContext(ctx, a.logger)
			log.Warn().
				Err(err).
				Str("topic", msg.Topic()).
				Msg("Message rejected")
			return nil
		}
		task.Source = msg
		a.AddTask(task)
		return nil
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.subscriptions {
		if p == pattern {
			return nil
		}
	}
	a.subscriptions = append(a.subscriptions, pattern)
	return nil
}

// AddTask appends task to the queue and returns its id. It never blocks and
// accepts tasks while the agent is stopped.
func (a *Agent) AddTask(task Task) string {
	if task.ID == "" {
		task.ID = gonanoid.Must()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}

	a.mu.Lock()
	a.queue = append(a.queue, task)
	size := len(a.queue)
	a.mu.Unlock()

	observability.SetAgentQueueSize(a.cfg.Name, size)
	a.logger.Debug().
		Str("task_id", task.ID).
		Str("type", task.Type).
		Int("queue_size", size).
		Msg("Task enqueued")

	select {
	case a.notify <- struct{}{}:
	default:
	}
	return task.ID
}

// begin moves the agent to Running. It reports false if it already was.
func (a *Agent) begin(ctx context.Context) (context.Context, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateRunning {
		return nil, false
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.state = StateRunning
	a.cancel = cancel
	a.done = make(chan struct{})
	a.runID = gonanoid.Must()
	a.startedAt = time.Now()

	runCtx = tracing.WithAgentID(runCtx, a.cfg.Name)
	runCtx = tracing.WithRunID(runCtx, a.runID)
	return runCtx, true
}

// Run executes the loop in the calling goroutine until ctx is cancelled, Stop
// is called, or a task panics. Calling Run on a running agent returns at once.
func (a *Agent) Run(ctx context.Context) {
	runCtx, ok := a.begin(ctx)
	if !ok {
		a.logger.Debug().Msg("Agent already running")
		return
	}
	a.run(runCtx)
}

// Start runs the loop in a new goroutine. The agent is Running when Start
// returns.
func (a *Agent) Start(ctx context.Context) {
	runCtx, ok := a.begin(ctx)
	if !ok {
		a.logger.Debug().Msg("Agent already running")
		return
	}
	go a.run(runCtx)
}

func (a *Agent) run(ctx context.Context) {
	a.mu.Lock()
	runID := a.runID
	done := a.done
	cancel := a.cancel
	a.mu.Unlock()

	observability.SetAgentRunning(a.cfg.Name, true)
	a.logger.Info().Str("run_id", runID).Msg("Agent started")

	defer func() {
		var crash *ExecutionError
		if r := recover(); r != nil {
			crash = &ExecutionError{
				Agent: a.cfg.Name,
				RunID: runID,
				Panic: r,
				Stack: debug.Stack(),
			}
		}

		a.mu.Lock()
		if crash != nil && a.current != nil {
			crash.TaskID = a.current.ID
			crash.TaskType = a.current.Type
		}
		a.current = nil
		a.state = StateStopped
		if crash != nil {
			a.lastErr = crash
		}
		a.mu.Unlock()

		cancel()
		observability.SetAgentRunning(a.cfg.Name, false)

		if crash != nil {
			observability.RecordAgentCrash(a.cfg.Name)
			a.logger.Error().
				Err(crash).
				Str("run_id", runID).
				Str("task_id", crash.TaskID).
				Str("type", crash.TaskType).
				Interface("panic", crash.Panic).
				Bytes("stack", crash.Stack).
				Msg("Agent execution loop crashed")
		} else {
			a.logger.Info().Str("run_id", runID).Msg("Agent stopped")
		}
		close(done)
	}()

	a.loop(ctx)
}

func (a *Agent) loop(ctx context.Context) {
	for {
		task, ok := a.next(ctx)
		if !ok {
			return
		}
		a.execute(ctx, task)

		a.mu.Lock()
		a.current = nil
		a.mu.Unlock()
	}
}

// next blocks until a task is queued or ctx is done.
func (a *Agent) next(ctx context.Context) (Task, bool) {
	for {
		if ctx.Err() != nil {
			return Task{}, false
		}

		a.mu.Lock()
		if len(a.queue) > 0 {
			task := a.queue[0]
			a.queue[0] = Task{}
			a.queue = a.queue[1:]
			a.current = &task
			size := len(a.queue)
			a.mu.Unlock()
			observability.SetAgentQueueSize(a.cfg.Name, size)
			return task, true
		}
		a.mu.Unlock()

		select {
		case <-ctx.Done():
			return Task{}, false
		case <-a.notify:
		}
	}
}

func (a *Agent) handler(taskType string) (TaskHandler, bool) {
	a.handlersMu.RLock()
	defer a.handlersMu.RUnlock()
	h, ok := a.handlers[taskType]
	return h, ok
}

func (a *Agent) execute(ctx context.Context, task Task) {
	if !task.Source.IsZero() {
		ctx = tracing.WithMessageID(ctx, task.Source.ID())
	}
	ctx, span := tracing.StartSpan(ctx, "sylva.agent", "agent.task",
		attribute.String("agent", a.cfg.Name),
		attribute.String("task.id", task.ID),
		attribute.String("task.type", task.Type),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, a.logger).With().
		Str("task_id", task.ID).
		Str("type", task.Type).
		Logger()

	h, ok := a.handler(task.Type)
	if !ok {
		err := fmt.Errorf("no handler for task type %q", task.Type)
		a.recordFailure(err)
		observability.RecordAgentTask(a.cfg.Name, task.Type, 0, false)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Msg("Task dropped: no handler")
		return
	}

	start := time.Now()
	result, err := h(ctx, task)
	duration := time.Since(start)
	observability.RecordAgentTask(a.cfg.Name, task.Type, duration, err == nil)

	if err != nil {
		a.recordFailure(err)
		tracing.Fail(span, err)
		logger.Error().Err(err).Dur("duration", duration).Msg("Task failed")
		return
	}

	a.mu.Lock()
	a.processed++
	a.mu.Unlock()
	logger.Debug().Dur("duration", duration).Msg("Task completed")

	if result != nil {
		a.publishResult(logger, task, result)
	}
}

func (a *Agent) recordFailure(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed++
	a.lastErr = err
}

func (a *Agent) publishResult(logger zerolog.Logger, task Task, result bus.Payload) {
	if a.cfg.ResultTopic == "" || a.bus == nil {
		return
	}

	var msg bus.Message
	if task.Source.IsZero() {
		msg = bus.NewMessage(a.cfg.ResultTopic, result, a.cfg.Name)
	} else {
		msg = task.Source.Reply(a.cfg.ResultTopic, result, a.cfg.Name)
	}

	if _, err := a.bus.PublishMessage(msg); err != nil {
		logger.Error().Err(err).Str("topic", a.cfg.ResultTopic).Msg("Failed to publish result")
		return
	}

	a.mu.Lock()
	a.published++
	a.mu.Unlock()
	observability.RecordAgentResult(a.cfg.Name)
}

// Stop cancels the loop and waits up to StopTimeout for the current task.
// Queued tasks stay queued for the next Run.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if a.state != StateRunning {
		a.mu.Unlock()
		return nil
	}
	cancel := a.cancel
	done := a.done
	a.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(a.cfg.StopTimeout):
		a.logger.Warn().Dur("timeout", a.cfg.StopTimeout).Msg("Agent still busy after stop timeout")
		return ErrStopTimeout
	}
}

// Wait blocks until the current run has ended or ctx is done.
func (a *Agent) Wait(ctx context.Context) error {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == StateRunning
}

func (a *Agent) QueueLength() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := Status{
		Name:          a.cfg.Name,
		State:         a.state.String(),
		Running:       a.state == StateRunning,
		RunID:         a.runID,
		StartedAt:     a.startedAt,
		QueueLength:   len(a.queue),
		Processed:     a.processed,
		Failed:        a.failed,
		Rejected:      a.rejected,
		Published:     a.published,
		Subscriptions: append([]string(nil), a.subscriptions...),
	}
	if a.lastErr != nil {
		st.LastError = a.lastErr.Error()
	}
	sort.Strings(st.Subscriptions)
	return st
}

// Close stops the agent and removes its bus subscriptions.
func (a *Agent) Close() error {
	err := a.Stop()
	if a.bus != nil {
		a.bus.UnsubscribeAll(a.cfg.Name)
	}
	a.mu.Lock()
	a.subscriptions = nil
	a.mu.Unlock()
	return err
}
