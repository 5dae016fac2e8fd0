package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInMemoryDispatcherDeliversInOrder(t *testing.T) {
	d := NewInMemoryDispatcher()

	received := []string{}
	d.Subscribe(EventSessionEnqueued, func(ctx context.Context, event Event) error {
		received = append(received, event.SessionID)
		return nil
	})
	d.Subscribe(EventSessionPromoted, func(ctx context.Context, event Event) error {
		t.Fatal("handler for another event type must not fire")
		return nil
	})

	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, d.Publish(context.Background(), Event{Type: EventSessionEnqueued, SessionID: id}))
	}
	assert.Equal(t, []string{"s1", "s2", "s3"}, received)
}

func TestInMemoryDispatcherContinuesPastFailingHandler(t *testing.T) {
	d := NewInMemoryDispatcher()

	called := false
	d.Subscribe(EventSessionLeft, func(ctx context.Context, event Event) error {
		return errors.New("boom")
	})
	d.Subscribe(EventSessionLeft, func(ctx context.Context, event Event) error {
		called = true
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventSessionLeft}))
	assert.True(t, called)
}

func TestAsyncDispatcherDeliversAllBufferedEvents(t *testing.T) {
	d := NewAsyncDispatcher(64, zap.NewNop())

	var mu sync.Mutex
	received := []string{}
	d.Subscribe(EventSessionPromoted, func(ctx context.Context, event Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event.SessionID)
		return nil
	})

	want := []string{}
	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		want = append(want, id)
		require.NoError(t, d.Publish(context.Background(), Event{Type: EventSessionPromoted, SessionID: id}))
	}

	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, received, "Stop drains the buffer before returning")
}

func TestAsyncDispatcherPublishSafeDuringStop(t *testing.T) {
	d := NewAsyncDispatcher(4, zap.NewNop())
	d.Subscribe(EventSessionEnqueued, func(ctx context.Context, event Event) error {
		return nil
	})

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = d.Publish(context.Background(), Event{Type: EventSessionEnqueued})
			}
		}()
	}

	d.Stop()
	wg.Wait()

	// once stopped, publishing stays a silent drop
	require.NoError(t, d.Publish(context.Background(), Event{Type: EventSessionEnqueued}))
}

func TestAsyncDispatcherStopIsIdempotent(t *testing.T) {
	d := NewAsyncDispatcher(4, zap.NewNop())
	d.Stop()
	d.Stop()
}

func TestAsyncDispatcherDropsWhenBufferFull(t *testing.T) {
	d := NewAsyncDispatcher(1, zap.NewNop())

	block := make(chan struct{})
	var mu sync.Mutex
	delivered := 0
	d.Subscribe(EventSessionEnqueued, func(ctx context.Context, event Event) error {
		<-block
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	})

	// publishes stay non-blocking even with the consumer stalled
	for i := 0; i < 50; i++ {
		require.NoError(t, d.Publish(context.Background(), Event{Type: EventSessionEnqueued}))
	}

	close(block)
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, delivered, 50, "overflow is dropped, not queued")
	assert.Greater(t, delivered, 0)
}
