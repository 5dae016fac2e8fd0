package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// inMemoryDispatcher is a simple synchronous dispatcher, used in tests
// where delivery order must be deterministic.
type inMemoryDispatcher struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
}

// NewInMemoryDispatcher creates a synchronous dispatcher instance.
func NewInMemoryDispatcher() Dispatcher {
	return &inMemoryDispatcher{
		listeners: make(map[EventType][]EventHandler),
	}
}

// Publish synchronously invokes handlers for the given event.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := append([]EventHandler{}, d.listeners[event.Type]...)
	d.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			// continue processing other handlers despite errors
		}
	}
	return nil
}

// Subscribe registers a handler for the given event type.
func (d *inMemoryDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], handler)
}

// AsyncDispatcher buffers published events on a channel and delivers them
// from a single background goroutine, so a slow or failing consumer can
// never stall a state transition.
type AsyncDispatcher struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
	buf       chan Event
	logger    *zap.Logger
	done      chan struct{}
	stopped   bool
}

// NewAsyncDispatcher creates an asynchronous dispatcher with the given
// buffer size. Stop must be called to drain and release the worker.
func NewAsyncDispatcher(bufferSize int, logger *zap.Logger) *AsyncDispatcher {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	d := &AsyncDispatcher{
		listeners: make(map[EventType][]EventHandler),
		buf:       make(chan Event, bufferSize),
		logger:    logger,
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues the event without blocking. When the buffer is full,
// or the dispatcher has been stopped, the event is dropped and logged,
// keeping transitions non-blocking.
func (d *AsyncDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.logger.Warn("dispatcher stopped, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("queue_id", event.QueueID),
			zap.String("session_id", event.SessionID))
		return nil
	}
	select {
	case d.buf <- event:
	default:
		d.logger.Warn("event buffer full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("queue_id", event.QueueID),
			zap.String("session_id", event.SessionID))
	}
	return nil
}

// Subscribe registers a handler for the given event type.
func (d *AsyncDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], handler)
}

// Stop closes the buffer and waits for the worker to drain it. The closed
// state is flipped under the same lock Publish reads, so a publish racing
// Stop drops its event instead of hitting a closed channel.
func (d *AsyncDispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.buf)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *AsyncDispatcher) run() {
	defer close(d.done)
	for event := range d.buf {
		d.mu.RLock()
		handlers := append([]EventHandler{}, d.listeners[event.Type]...)
		d.mu.RUnlock()

		for _, handler := range handlers {
			if err := handler(context.Background(), event); err != nil {
				d.logger.Warn("event handler failed",
					zap.String("type", string(event.Type)),
					zap.String("session_id", event.SessionID),
					zap.Error(err))
			}
		}
	}
}
