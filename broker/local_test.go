package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dealcoach/gateway/events"
	"github.com/dealcoach/gateway/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHook struct {
	NoopHook

	mu       sync.Mutex
	received []events.Event
	errs     []error
}

func (h *recordingHook) OnThreadInfo(_ context.Context, e events.ThreadInfo) { h.record(e) }
func (h *recordingHook) OnContent(_ context.Context, e events.Content)       { h.record(e) }
func (h *recordingHook) OnFunctionCall(_ context.Context, e events.FunctionCall) {
	h.record(e)
}
func (h *recordingHook) OnFunctionResult(_ context.Context, e events.FunctionResult) {
	h.record(e)
}
func (h *recordingHook) OnStreamComplete(_ context.Context, e events.StreamComplete) {
	h.record(e)
}

func (h *recordingHook) OnError(_ context.Context, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHook) record(e events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, e)
}

func (h *recordingHook) snapshot() []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]events.Event(nil), h.received...)
}

func (h *recordingHook) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func TestLocalBrokerDeliversToSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := Local()
	top := b.Topic(ctx, "thread_1")

	hook := &recordingHook{}
	sub, err := top.Subscribe(ctx, hook)
	require.NoError(t, err)
	require.NotEmpty(t, sub.ID())
	defer sub.Unsubscribe()

	published := []events.Event{
		events.ThreadInfo{ThreadID: "thread_1"},
		events.Content{ThreadID: "thread_1", Content: "hello"},
		events.FunctionCall{ThreadID: "thread_1", Name: "get_sales_docs", Arguments: "{}"},
		events.FunctionResult{ThreadID: "thread_1", Name: "get_sales_docs", Result: "ok"},
		events.StreamComplete{ThreadID: "thread_1", Usage: usage.Usage{TotalTokens: 42}},
	}
	for _, ev := range published {
		require.NoError(t, top.Publish(ctx, ev))
	}

	require.Eventually(t, func() bool {
		return len(hook.snapshot()) == len(published)
	}, time.Second, 5*time.Millisecond)

	got := hook.snapshot()
	for i, ev := range published {
		assert.Equal(t, ev, got[i])
	}
}

func TestLocalBrokerForwardsErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := Local()
	top := b.Topic(ctx, "thread_err")

	hook := &recordingHook{}
	sub, err := top.Subscribe(ctx, hook)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, top.Publish(ctx, events.Error{ThreadID: "thread_err", Err: errors.New("boom")}))

	require.Eventually(t, func() bool {
		return len(hook.errors()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.EqualError(t, hook.errors()[0], "thread_id: thread_err, error: boom")
}

func TestLocalBrokerRejectsNilHook(t *testing.T) {
	ctx := context.Background()
	top := Local().Topic(ctx, "thread_1")

	_, err := top.Subscribe(ctx, nil)
	require.Error(t, err)
}

func TestLocalBrokerTopicsAreIndependent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := Local()
	topA := b.Topic(ctx, "thread_a")
	topB := b.Topic(ctx, "thread_b")

	hookA := &recordingHook{}
	subA, err := topA.Subscribe(ctx, hookA)
	require.NoError(t, err)
	defer subA.Unsubscribe()

	hookB := &recordingHook{}
	subB, err := topB.Subscribe(ctx, hookB)
	require.NoError(t, err)
	defer subB.Unsubscribe()

	require.NoError(t, topA.Publish(ctx, events.Content{ThreadID: "thread_a", Content: "only a"}))

	require.Eventually(t, func() bool {
		return len(hookA.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, hookB.snapshot())
}

func TestLocalBrokerTopicIsStable(t *testing.T) {
	ctx := context.Background()
	b := Local()
	assert.Same(t, b.Topic(ctx, "thread_1"), b.Topic(ctx, "thread_1"))
}

func TestLocalBrokerUnsubscribeStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := Local()
	top := b.Topic(ctx, "thread_1")

	hook := &recordingHook{}
	sub, err := top.Subscribe(ctx, hook)
	require.NoError(t, err)

	require.NoError(t, top.Publish(ctx, events.Content{ThreadID: "thread_1", Content: "before"}))
	require.Eventually(t, func() bool {
		return len(hook.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	require.NoError(t, top.Publish(ctx, events.Content{ThreadID: "thread_1", Content: "after"}))

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, hook.snapshot(), 1)
}
