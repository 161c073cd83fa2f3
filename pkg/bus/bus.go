package bus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/sylva/internal/observability"
	"github.com/harun/sylva/internal/tracing"
	"github.com/harun/sylva/internal/wildcard"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultStopTimeout bounds how long Stop waits for the dispatcher to finish
// its in-flight message.
const DefaultStopTimeout = 5 * time.Second

var (
	ErrInvalidTopic    = errors.New("invalid topic")
	ErrInvalidPattern  = errors.New("invalid topic pattern")
	ErrEmptySubscriber = errors.New("subscriber name is required")
	ErrNilHandler      = errors.New("handler is required")
	ErrStopTimeout     = errors.New("dispatcher did not stop before timeout")
	ErrDispatcherBusy  = errors.New("previous dispatcher is still draining")
)

// HandlerFunc handles one delivered message. A returned error or a panic is
// isolated to this invocation.
type HandlerFunc func(ctx context.Context, msg Message) error

// HandlerError describes a failed handler invocation.
type HandlerError struct {
	Subscriber string
	Pattern    string
	Topic      string
	MessageID  string
	Panic      any
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s (%s) failed on %s [%s]: %v", e.Subscriber, e.Pattern, e.Topic, e.MessageID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Config holds message bus configuration
type Config struct {
	HistorySize int
	StopTimeout time.Duration
	Logger      zerolog.Logger
	// OnHandlerError is called from the dispatching goroutine after a handler
	// failure has been logged.
	OnHandlerError func(*HandlerError)
}

// PublishOptions carries the optional envelope fields of Publish.
type PublishOptions struct {
	Sender        string
	Priority      Priority
	CorrelationID string
}

// Status is a snapshot of the bus state.
type Status struct {
	Running       bool     `json:"running"`
	Pending       int      `json:"pending"`
	Topics        []string `json:"topics"`
	Subscriptions int      `json:"subscriptions"`
	Published     int64    `json:"published"`
	Delivered     int64    `json:"delivered"`
	HandlerErrors int64    `json:"handler_errors"`
	HistoryLen    int      `json:"history_len"`
	HistoryCap    int      `json:"history_cap"`
}

type subscription struct {
	subscriber string
	pattern    wildcard.Pattern
	handler    HandlerFunc
}

// MessageBus routes messages from publishers to topic subscribers.
type MessageBus struct {
	cfg    Config
	logger zerolog.Logger

	subsMu        sync.RWMutex
	exact         map[string][]*subscription
	wildcard      map[string][]*subscription
	wildcardOrder []string

	queueMu sync.Mutex
	queue   []Message
	notify  chan struct{}

	history *history

	lifecycleMu sync.Mutex
	running     atomic.Bool
	cancel      context.CancelFunc
	done        chan struct{}

	published     atomic.Int64
	delivered     atomic.Int64
	handlerErrors atomic.Int64
}

// New creates a stopped message bus.
func New(cfg Config) *MessageBus {
	observability.EnsureRegistered()

	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	return &MessageBus{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "bus").Logger(),
		exact:    make(map[string][]*subscription),
		wildcard: make(map[string][]*subscription),
		notify:   make(chan struct{}, 1),
		history:  newHistory(cfg.HistorySize),
	}
}

// Start launches the dispatcher goroutine. Calling Start on a running bus is
// a no-op.
func (b *MessageBus) Start() error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.running.Load() {
		return nil
	}
	if b.done != nil {
		select {
		case <-b.done:
		default:
			return ErrDispatcherBusy
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running.Store(true)
	observability.SetBusRunning(true)

	go b.run(ctx, b.done)

	b.logger.Info().Int("pending", b.Pending()).Msg("Message bus started")
	return nil
}

// Stop signals the dispatcher and waits up to StopTimeout for it to exit. The
// in-flight message, if any, finishes delivery; queued messages stay queued.
func (b *MessageBus) Stop() error {
	b.lifecycleMu.Lock()
	if !b.running.Load() {
		b.lifecycleMu.Unlock()
		return nil
	}
	b.running.Store(false)
	b.cancel()
	done := b.done
	b.lifecycleMu.Unlock()

	observability.SetBusRunning(false)

	timer := time.NewTimer(b.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		b.logger.Info().Int("pending", b.Pending()).Msg("Message bus stopped")
		return nil
	case <-timer.C:
		b.logger.Warn().Dur("timeout", b.cfg.StopTimeout).Msg("Message bus dispatcher still busy after stop timeout")
		return ErrStopTimeout
	}
}

// IsRunning reports whether the dispatcher is active.
func (b *MessageBus) IsRunning() bool {
	return b.running.Load()
}

// Publish enqueues a new message and returns its id without waiting for
// delivery. The queue is unbounded.
func (b *MessageBus) Publish(topic string, payload Payload, opts *PublishOptions) (string, error) {
	msg := NewMessage(topic, payload, "")
	if opts != nil {
		msg.sender = opts.Sender
		msg = msg.WithPriority(opts.Priority).WithCorrelationID(opts.CorrelationID)
	}
	return b.PublishMessage(msg)
}

// PublishMessage enqueues a prebuilt message.
func (b *MessageBus) PublishMessage(msg Message) (string, error) {
	if err := validateMessage(msg); err != nil {
		return "", err
	}

	b.queueMu.Lock()
	b.queue = append(b.queue, msg)
	pending := len(b.queue)
	b.queueMu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}

	b.published.Add(1)
	observability.RecordBusPublish(msg.Priority().String(), pending)

	b.logger.Debug().
		Str("topic", msg.Topic()).
		Str("message_id", msg.ID()).
		Str("sender", msg.Sender()).
		Int("pending", pending).
		Msg("Message enqueued")

	return msg.ID(), nil
}

// PublishSync delivers msg in the caller's goroutine, bypassing the queue. It
// may overtake messages that are already queued.
func (b *MessageBus) PublishSync(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	b.published.Add(1)
	b.dispatch(ctx, msg)
	return nil
}

// Subscribe registers handler for pattern under the subscriber name.
// Registering the same subscriber on the same pattern twice is a no-op.
func (b *MessageBus) Subscribe(pattern, subscriber string, handler HandlerFunc) error {
	p, err := wildcard.Parse(pattern)
	if err != nil || pattern == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	if subscriber == "" {
		return ErrEmptySubscriber
	}
	if handler == nil {
		return ErrNilHandler
	}

	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	registry := b.exact
	if p.IsWildcard() {
		registry = b.wildcard
	}

	subs, exists := registry[pattern]
	for _, s := range subs {
		if s.subscriber == subscriber {
			return nil
		}
	}
	if !exists && p.IsWildcard() {
		b.wildcardOrder = append(b.wildcardOrder, pattern)
	}
	registry[pattern] = append(subs, &subscription{
		subscriber: subscriber,
		pattern:    p,
		handler:    handler,
	})

	b.logger.Debug().Str("pattern", pattern).Str("subscriber", subscriber).Msg("Subscribed")
	return nil
}

// Unsubscribe removes subscriber from pattern. Removing the last subscriber
// removes the pattern entry. It reports whether anything was removed.
func (b *MessageBus) Unsubscribe(pattern, subscriber string) bool {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	removed := b.removeLocked(pattern, subscriber)
	if removed {
		b.logger.Debug().Str("pattern", pattern).Str("subscriber", subscriber).Msg("Unsubscribed")
	}
	return removed
}

// UnsubscribeAll removes every registration of subscriber and returns the
// number removed.
func (b *MessageBus) UnsubscribeAll(subscriber string) int {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	patterns := make([]string, 0)
	for pattern, subs := range b.exact {
		if hasSubscriber(subs, subscriber) {
			patterns = append(patterns, pattern)
		}
	}
	for _, pattern := range b.wildcardOrder {
		if hasSubscriber(b.wildcard[pattern], subscriber) {
			patterns = append(patterns, pattern)
		}
	}

	for _, pattern := range patterns {
		b.removeLocked(pattern, subscriber)
	}
	return len(patterns)
}

func (b *MessageBus) removeLocked(pattern, subscriber string) bool {
	registry := b.exact
	if _, ok := b.wildcard[pattern]; ok {
		registry = b.wildcard
	}

	subs, ok := registry[pattern]
	if !ok {
		return false
	}

	kept := make([]*subscription, 0, len(subs))
	for _, s := range subs {
		if s.subscriber != subscriber {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(subs) {
		return false
	}

	if len(kept) > 0 {
		registry[pattern] = kept
		return true
	}

	delete(registry, pattern)
	for i, p := range b.wildcardOrder {
		if p == pattern {
			b.wildcardOrder = append(b.wildcardOrder[:i:i], b.wildcardOrder[i+1:]...)
			break
		}
	}
	return true
}

func hasSubscriber(subs []*subscription, subscriber string) bool {
	for _, s := range subs {
		if s.subscriber == subscriber {
			return true
		}
	}
	return false
}

// Topics returns every registered pattern, sorted.
func (b *MessageBus) Topics() []string {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()

	topics := make([]string, 0, len(b.exact)+len(b.wildcard))
	for t := range b.exact {
		topics = append(topics, t)
	}
	topics = append(topics, b.wildcardOrder...)
	sort.Strings(topics)
	return topics
}

// Subscribers returns the subscriber names registered on pattern in
// registration order.
func (b *MessageBus) Subscribers(pattern string) []string {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()

	subs, ok := b.exact[pattern]
	if !ok {
		subs = b.wildcard[pattern]
	}
	names := make([]string, 0, len(subs))
	for _, s := range subs {
		names = append(names, s.subscriber)
	}
	return names
}

// History returns dispatched messages newest first. filter may be empty (all
// topics), an exact topic, or a wildcard pattern. limit <= 0 means no limit.
func (b *MessageBus) History(filter string, limit int) ([]Message, error) {
	if filter == "" {
		return b.history.list(nil, limit), nil
	}
	p, err := wildcard.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, filter)
	}
	return b.history.list(func(m Message) bool { return p.Match(m.Topic()) }, limit), nil
}

// ClearHistory drops all retained messages.
func (b *MessageBus) ClearHistory() {
	b.history.clear()
}

// Pending returns the number of queued, undispatched messages.
func (b *MessageBus) Pending() int {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	return len(b.queue)
}

// Status returns a snapshot of the bus state.
func (b *MessageBus) Status() Status {
	topics := b.Topics()

	b.subsMu.RLock()
	count := 0
	for _, subs := range b.exact {
		count += len(subs)
	}
	for _, subs := range b.wildcard {
		count += len(subs)
	}
	b.subsMu.RUnlock()

	return Status{
		Running:       b.IsRunning(),
		Pending:       b.Pending(),
		Topics:        topics,
		Subscriptions: count,
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		HandlerErrors: b.handlerErrors.Load(),
		HistoryLen:    b.history.len(),
		HistoryCap:    b.history.capacity(),
	}
}

// run is the dispatcher loop. It exits when ctx is cancelled, checking before
// every dequeue so nothing enqueued after Stop is delivered.
func (b *MessageBus) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		msg, ok := b.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-b.notify:
			}
			continue
		}

		b.dispatch(ctx, msg)
	}
}

func (b *MessageBus) dequeue() (Message, bool) {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()

	if len(b.queue) == 0 {
		return Message{}, false
	}
	msg := b.queue[0]
	b.queue[0] = Message{}
	b.queue = b.queue[1:]
	observability.SetBusPending(len(b.queue))
	return msg, true
}

// snapshot copies the handlers matching topic: exact subscribers first, then
// wildcard subscribers in pattern registration order.
func (b *MessageBus) snapshot(topic string) []*subscription {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()

	matched := make([]*subscription, 0, len(b.exact[topic]))
	matched = append(matched, b.exact[topic]...)
	for _, pattern := range b.wildcardOrder {
		subs := b.wildcard[pattern]
		if len(subs) > 0 && subs[0].pattern.Match(topic) {
			matched = append(matched, subs...)
		}
	}
	return matched
}

func (b *MessageBus) dispatch(ctx context.Context, msg Message) {
	ctx = tracing.WithMessageID(ctx, msg.ID())
	if msg.CorrelationID() != "" {
		ctx = tracing.WithCorrelationID(ctx, msg.CorrelationID())
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"sylva.bus",
		"bus.dispatch",
		attribute.String("topic", msg.Topic()),
		attribute.String("message_id", msg.ID()),
	)
	defer span.End()

	start := time.Now()
	b.history.add(msg)

	subs := b.snapshot(msg.Topic())
	failures := 0
	for _, sub := range subs {
		if herr := b.invoke(ctx, sub, msg); herr != nil {
			failures++
			b.handlerErrors.Add(1)
			b.reportHandlerError(ctx, herr)
		}
	}
	b.delivered.Add(int64(len(subs) - failures))

	if failures > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d handler(s) failed", failures))
	}
	observability.RecordBusDispatch(time.Since(start), len(subs), failures)

	if len(subs) == 0 {
		log := tracing.LoggerFromContext(ctx, b.logger)
		log.Debug().
			Str("topic", msg.Topic()).
			Msg("No subscribers for message")
	}
}

func (b *MessageBus) invoke(ctx context.Context, sub *subscription, msg Message) (herr *HandlerError) {
	defer func() {
		if r := recover(); r != nil {
			herr = &HandlerError{
				Subscriber: sub.subscriber,
				Pattern:    sub.pattern.String(),
				Topic:      msg.Topic(),
				MessageID:  msg.ID(),
				Panic:      r,
				Err:        fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()

	if err := sub.handler(ctx, msg); err != nil {
		return &HandlerError{
			Subscriber: sub.subscriber,
			Pattern:    sub.pattern.String(),
			Topic:      msg.Topic(),
			MessageID:  msg.ID(),
			Err:        err,
		}
	}
	return nil
}

func (b *MessageBus) reportHandlerError(ctx context.Context, herr *HandlerError) {
	log := tracing.LoggerFromContext(ctx, b.logger)
	event := log.Error().
		Err(herr.Err).
		Str("subscriber", herr.Subscriber).
		Str("pattern", herr.Pattern).
		Str("topic", herr.Topic).
		Str("message_id", herr.MessageID)
	if herr.Panic != nil {
		event = event.Interface("panic", herr.Panic)
	}
	event.Msg("Message handler failed")

	observability.RecordBusHandlerError(herr.Subscriber)

	if b.cfg.OnHandlerError != nil {
		b.cfg.OnHandlerError(herr)
	}
}

func validateMessage(msg Message) error {
	if msg.IsZero() {
		return fmt.Errorf("%w: message was not built with NewMessage", ErrInvalidTopic)
	}
	return ValidateTopic(msg.Topic())
}

// ValidateTopic reports whether topic can be published to. Publish topics
// are concrete: no empty segments and no wildcards.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidTopic)
	}
	if p, err := wildcard.Parse(topic); err != nil || p.IsWildcard() {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopic, topic)
	}
	for _, seg := range strings.Split(topic, ".") {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidTopic, topic)
		}
	}
	return nil
}
