package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// go-redis starts a process-wide clock goroutine when the package loads.
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("github.com/redis/go-redis/v9/internal/pool.startGlobalTimeCache.func1"))
}

func TestMemoryBrokerFanOut(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	a, cancelA := b.Subscribe(ctx)
	defer cancelA()
	c, cancelC := b.Subscribe(ctx)
	defer cancelC()

	require.NoError(t, b.Publish(ctx, Change{Collection: "events", Action: ActionCreated, ID: "evt-1"}))

	for _, ch := range []<-chan Change{a, c} {
		select {
		case got := <-ch:
			assert.Equal(t, "evt-1", got.ID)
			assert.Equal(t, ActionCreated, got.Action)
		case <-time.After(time.Second):
			t.Fatal("change not delivered")
		}
	}
}

func TestMemoryBrokerCancelClosesChannel(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())

	ch, unsubscribe := b.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
	unsubscribe()
	require.NoError(t, b.Publish(context.Background(), Change{ID: "x"}))
}

func TestMemoryBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewMemoryBroker()
	ch, unsubscribe := b.Subscribe(context.Background())
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, b.Publish(context.Background(), Change{ID: "x"}))
	}
	assert.Len(t, ch, subscriberBuffer)

	require.NoError(t, b.Close())
	_, unsub := b.Subscribe(context.Background())
	unsub()
}
