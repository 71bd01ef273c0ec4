package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func swapEvent(typ EventType, transactionID string) SwapEvent {
	return SwapEvent{
		BaseEvent:     BaseEvent{EventType: typ, EventTime: time.Unix(0, 0)},
		TransactionID: transactionID,
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus(zap.NewNop(), 16)
	defer bus.Close(context.Background())

	var mu sync.Mutex
	var got []string
	bus.Subscribe(SwapCompleted, func(ctx context.Context, e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.(SwapEvent).TransactionID)
	})

	require.NoError(t, bus.Publish(swapEvent(SwapCompleted, "tx-1")))
	require.NoError(t, bus.Publish(swapEvent(SwapCompleted, "tx-2")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"tx-1", "tx-2"}, got)
}

func TestSubscriberOnlySeesItsEventType(t *testing.T) {
	bus := NewBus(zap.NewNop(), 16)
	defer bus.Close(context.Background())

	var mu sync.Mutex
	var failures int
	bus.Subscribe(SwapFailed, func(ctx context.Context, e Event) {
		mu.Lock()
		defer mu.Unlock()
		failures++
	})

	require.NoError(t, bus.Publish(swapEvent(SwapCompleted, "tx-1")))
	require.NoError(t, bus.Publish(swapEvent(SwapFailed, "tx-2")))
	require.NoError(t, bus.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, failures)
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus(zap.NewNop(), 16)
	defer bus.Close(context.Background())

	var mu sync.Mutex
	var count int
	sub := bus.Subscribe(SwapRecovered, func(ctx context.Context, e Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	require.NoError(t, bus.Publish(swapEvent(SwapRecovered, "tx-1")))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)

	sub.Cancel()
	require.NoError(t, bus.Publish(swapEvent(SwapRecovered, "tx-2")))
	require.NoError(t, bus.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	bus := NewBus(zap.NewNop(), 1)
	// Block the dispatch loop so the queue cannot drain.
	blocked := make(chan struct{})
	release := make(chan struct{})
	bus.Subscribe(SwapAdmitted, func(ctx context.Context, e Event) {
		close(blocked)
		<-release
	})

	require.NoError(t, bus.Publish(swapEvent(SwapAdmitted, "tx-1")))
	<-blocked
	require.NoError(t, bus.Publish(swapEvent(SwapAdmitted, "tx-2")))

	err := bus.Publish(swapEvent(SwapAdmitted, "tx-3"))
	assert.Error(t, err)

	close(release)
	require.NoError(t, bus.Close(context.Background()))
}

func TestPanickingHandlerDoesNotKillDispatch(t *testing.T) {
	bus := NewBus(zap.NewNop(), 16)
	defer bus.Close(context.Background())

	var mu sync.Mutex
	var survived int
	bus.Subscribe(SwapFailed, func(ctx context.Context, e Event) {
		panic("handler bug")
	})
	bus.Subscribe(SwapFailed, func(ctx context.Context, e Event) {
		mu.Lock()
		defer mu.Unlock()
		survived++
	})

	require.NoError(t, bus.Publish(swapEvent(SwapFailed, "tx-1")))
	require.NoError(t, bus.Publish(swapEvent(SwapFailed, "tx-2")))
	require.NoError(t, bus.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, survived)
}

func TestPublishAfterCloseFails(t *testing.T) {
	bus := NewBus(zap.NewNop(), 16)
	require.NoError(t, bus.Close(context.Background()))
	assert.Error(t, bus.Publish(swapEvent(SwapCompleted, "tx-1")))
}
