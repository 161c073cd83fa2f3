package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) handler(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Topic())
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func newTestBus(t *testing.T) *MessageBus {
	t.Helper()
	b := New(Config{Logger: zerolog.Nop(), StopTimeout: time.Second})
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

func TestPublishDeliversToExactAndWildcard(t *testing.T) {
	b := newTestBus(t)

	var exact, prefix, other recorder
	require.NoError(t, b.Subscribe("a.*", "prefix", prefix.handler))
	require.NoError(t, b.Subscribe("a.b", "exact", exact.handler))
	require.NoError(t, b.Subscribe("c.*", "other", other.handler))

	id, err := b.Publish("a.b", Payload{"x": 1}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		return exact.count() == 1 && prefix.count() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, id, exact.msgs[0].ID())
	assert.Equal(t, 1, exact.msgs[0].Payload()["x"])
	assert.Equal(t, 0, other.count())
}

func TestSuffixWildcard(t *testing.T) {
	b := newTestBus(t)

	var rec recorder
	require.NoError(t, b.Subscribe("*.done", "suffix", rec.handler))

	_, err := b.Publish("parcel.done", nil, nil)
	require.NoError(t, err)
	_, err = b.Publish("parcel.started", nil, nil)
	require.NoError(t, err)
	_, err = b.Publish("report.done", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return b.Status().Delivered == 2 && b.Pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"parcel.done", "report.done"}, rec.topics())
}

func TestHandlerFailureIsIsolated(t *testing.T) {
	var mu sync.Mutex
	var failures []*HandlerError
	b := New(Config{
		Logger: zerolog.Nop(),
		OnHandlerError: func(herr *HandlerError) {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, herr)
		},
	})
	require.NoError(t, b.Start())
	defer b.Stop()

	var second recorder
	require.NoError(t, b.Subscribe("t", "first", func(ctx context.Context, msg Message) error {
		return errors.New("boom")
	}))
	require.NoError(t, b.Subscribe("t", "second", second.handler))
	require.NoError(t, b.Subscribe("t", "third", func(ctx context.Context, msg Message) error {
		panic("kaboom")
	}))

	id, err := b.Publish("t", Payload{"n": 1}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return second.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, id, second.msgs[0].ID())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failures) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "first", failures[0].Subscriber)
	assert.Nil(t, failures[0].Panic)
	assert.Equal(t, "third", failures[1].Subscriber)
	assert.Equal(t, "kaboom", failures[1].Panic)
	assert.True(t, b.IsRunning())

	// the dispatcher survives and keeps delivering
	_, err = b.Publish("t", nil, nil)
	require.NoError(t, err)
	// failed and panicking invocations count as handler errors, not deliveries
	require.Eventually(t, func() bool {
		st := b.Status()
		return st.HandlerErrors == 4 && st.Delivered == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, second.count())
}

func TestSubscribeIsIdempotent(t *testing.T) {
	b := newTestBus(t)

	var rec recorder
	require.NoError(t, b.Subscribe("t", "sub", rec.handler))
	require.NoError(t, b.Subscribe("t", "sub", rec.handler))
	assert.Equal(t, []string{"sub"}, b.Subscribers("t"))

	require.NoError(t, b.PublishSync(context.Background(), NewMessage("t", nil, "test")))
	assert.Equal(t, 1, rec.count())

	assert.True(t, b.Unsubscribe("t", "sub"))
	assert.False(t, b.Unsubscribe("t", "sub"))
	assert.Empty(t, b.Topics())

	require.NoError(t, b.PublishSync(context.Background(), NewMessage("t", nil, "test")))
	assert.Equal(t, 1, rec.count())
}

func TestUnsubscribeAll(t *testing.T) {
	b := New(Config{Logger: zerolog.Nop()})

	noop := func(ctx context.Context, msg Message) error { return nil }
	require.NoError(t, b.Subscribe("a", "agent", noop))
	require.NoError(t, b.Subscribe("b.*", "agent", noop))
	require.NoError(t, b.Subscribe("b.*", "other", noop))

	assert.Equal(t, 2, b.UnsubscribeAll("agent"))
	assert.Equal(t, []string{"b.*"}, b.Topics())
	assert.Equal(t, []string{"other"}, b.Subscribers("b.*"))
}

func TestSubscribeValidation(t *testing.T) {
	b := New(Config{Logger: zerolog.Nop()})
	noop := func(ctx context.Context, msg Message) error { return nil }

	assert.ErrorIs(t, b.Subscribe("", "s", noop), ErrInvalidPattern)
	assert.ErrorIs(t, b.Subscribe("a.*.b", "s", noop), ErrInvalidPattern)
	assert.ErrorIs(t, b.Subscribe("a", "", noop), ErrEmptySubscriber)
	assert.ErrorIs(t, b.Subscribe("a", "s", nil), ErrNilHandler)
}

func TestPublishValidation(t *testing.T) {
	b := New(Config{Logger: zerolog.Nop()})

	_, err := b.Publish("", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidTopic)
	_, err = b.Publish("a.*", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidTopic)
	for _, topic := range []string{"a..b", ".a", "a."} {
		_, err = b.Publish(topic, nil, nil)
		assert.ErrorIs(t, err, ErrInvalidTopic, topic)
	}
	assert.NoError(t, ValidateTopic("parcel.analysis.done"))
	_, err = b.PublishMessage(Message{})
	assert.ErrorIs(t, err, ErrInvalidTopic)
	assert.ErrorIs(t, b.PublishSync(context.Background(), Message{}), ErrInvalidTopic)
}

func TestAsyncOrderingAcrossTopics(t *testing.T) {
	b := New(Config{Logger: zerolog.Nop()})

	var rec recorder
	require.NoError(t, b.Subscribe("x.*", "both", rec.handler))

	want := make([]string, 0, 200)
	for i := 0; i < 100; i++ {
		_, err := b.Publish("x.one", Payload{"i": i}, nil)
		require.NoError(t, err)
		_, err = b.Publish("x.two", Payload{"i": i}, nil)
		require.NoError(t, err)
		want = append(want, "x.one", "x.two")
	}

	require.NoError(t, b.Start())
	defer b.Stop()

	require.Eventually(t, func() bool { return rec.count() == 200 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, rec.topics())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i := 0; i < 100; i++ {
		n, ok := rec.msgs[2*i].payload.Int("i")
		require.True(t, ok)
		assert.Equal(t, i, n)
	}
}

func TestHandlerMaySubscribeDuringDispatch(t *testing.T) {
	b := New(Config{Logger: zerolog.Nop()})

	var late, steady recorder
	require.NoError(t, b.Subscribe("t", "mutator", func(ctx context.Context, msg Message) error {
		b.Unsubscribe("t", "mutator")
		return b.Subscribe("t", "late", late.handler)
	}))
	require.NoError(t, b.Subscribe("t", "steady", steady.handler))

	require.NoError(t, b.PublishSync(context.Background(), NewMessage("t", nil, "test")))

	// the in-flight dispatch used its snapshot: steady ran, late did not
	assert.Equal(t, 1, steady.count())
	assert.Equal(t, 0, late.count())
	assert.Equal(t, []string{"steady", "late"}, b.Subscribers("t"))

	require.NoError(t, b.PublishSync(context.Background(), NewMessage("t", nil, "test")))
	assert.Equal(t, 2, steady.count())
	assert.Equal(t, 1, late.count())
}

func TestPublishSyncWithoutDispatcher(t *testing.T) {
	b := New(Config{Logger: zerolog.Nop()})

	var rec recorder
	require.NoError(t, b.Subscribe("urgent.*", "sync", rec.handler))

	msg := NewMessage("urgent.alert", Payload{"level": "red"}, "test").WithPriority(PriorityUrgent)
	require.NoError(t, b.PublishSync(context.Background(), msg))

	require.Equal(t, 1, rec.count())
	assert.Equal(t, PriorityUrgent, rec.msgs[0].Priority())
	assert.Equal(t, 0, b.Pending())
}

func TestStartIsIdempotentAndStopHaltsDelivery(t *testing.T) {
	b := New(Config{Logger: zerolog.Nop(), StopTimeout: time.Second})

	var rec recorder
	require.NoError(t, b.Subscribe("t", "rec", rec.handler))

	require.NoError(t, b.Start())
	require.NoError(t, b.Start())
	assert.True(t, b.IsRunning())

	_, err := b.Publish("t", nil, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Stop())
	require.NoError(t, b.Stop())
	assert.False(t, b.IsRunning())

	_, err = b.Publish("t", nil, nil)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 1, b.Pending())

	// queued messages drain on restart
	require.NoError(t, b.Start())
	defer b.Stop()
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestStopWaitsForInFlightHandler(t *testing.T) {
	b := New(Config{Logger: zerolog.Nop(), StopTimeout: 20 * time.Millisecond})

	release := make(chan struct{})
	entered := make(chan struct{})
	require.NoError(t, b.Subscribe("slow", "slow", func(ctx context.Context, msg Message) error {
		close(entered)
		<-release
		return nil
	}))
	require.NoError(t, b.Start())

	_, err := b.Publish("slow", nil, nil)
	require.NoError(t, err)
	<-entered

	assert.ErrorIs(t, b.Stop(), ErrStopTimeout)
	assert.ErrorIs(t, b.Start(), ErrDispatcherBusy)

	close(release)
	require.Eventually(t, func() bool { return b.Start() == nil }, time.Second, 5*time.Millisecond)
	_ = b.Stop()
}

func TestHistory(t *testing.T) {
	b := New(Config{Logger: zerolog.Nop(), HistorySize: 3})
	ctx := context.Background()

	for _, topic := range []string{"a.1", "b.1", "a.2", "a.3"} {
		require.NoError(t, b.PublishSync(ctx, NewMessage(topic, nil, "test")))
	}

	all, err := b.History("", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a.3", all[0].Topic())
	assert.Equal(t, "b.1", all[2].Topic())

	onlyA, err := b.History("a.*", 0)
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	limited, err := b.History("", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "a.3", limited[0].Topic())

	exact, err := b.History("b.1", 10)
	require.NoError(t, err)
	assert.Len(t, exact, 1)

	_, err = b.History("a*b*", 0)
	assert.ErrorIs(t, err, ErrInvalidPattern)

	b.ClearHistory()
	all, err = b.History("", 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStatus(t *testing.T) {
	b := New(Config{Logger: zerolog.Nop()})
	noop := func(ctx context.Context, msg Message) error { return nil }
	require.NoError(t, b.Subscribe("a", "s1", noop))
	require.NoError(t, b.Subscribe("a.*", "s2", noop))

	_, err := b.Publish("a", nil, nil)
	require.NoError(t, err)

	st := b.Status()
	assert.False(t, st.Running)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, []string{"a", "a.*"}, st.Topics)
	assert.Equal(t, 2, st.Subscriptions)
	assert.EqualValues(t, 1, st.Published)
	assert.Equal(t, DefaultHistorySize, st.HistoryCap)
}

func TestPublishOptions(t *testing.T) {
	b := New(Config{Logger: zerolog.Nop()})

	var rec recorder
	require.NoError(t, b.Subscribe("r", "rec", rec.handler))
	require.NoError(t, b.Start())
	defer b.Stop()

	_, err := b.Publish("r", Payload{}, &PublishOptions{Sender: "gis", Priority: PriorityHigh, CorrelationID: "req-1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	msg := rec.msgs[0]
	assert.Equal(t, "gis", msg.Sender())
	assert.Equal(t, PriorityHigh, msg.Priority())
	assert.Equal(t, "req-1", msg.CorrelationID())
}

func TestDefaultBus(t *testing.T) {
	first := Default()
	assert.Same(t, first, Default())

	replacement := New(Config{Logger: zerolog.Nop()})
	SetDefault(replacement)
	defer SetDefault(first)
	assert.Same(t, replacement, Default())
}
