package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/the127/upyard/internal/logging"
	"github.com/the127/upyard/internal/wire"
)

var ErrQueueFull = errors.New("event queue full")
var ErrClosed = errors.New("publisher closed")

// Async hands events to a wrapped publisher on a single background worker so
// a slow or unreachable sink never holds up the caller. Events are dropped
// when the queue is full.
type Async struct {
	publisher Publisher
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan wire.Event
	done   chan struct{}
}

func NewAsync(publisher Publisher, buffer int, timeout time.Duration) *Async {
	a := &Async{
		publisher: publisher,
		timeout:   timeout,
		queue:     make(chan wire.Event, buffer),
		done:      make(chan struct{}),
	}

	go a.run()
	return a
}

func (a *Async) Publish(_ context.Context, event wire.Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrClosed
	}

	select {
	case a.queue <- event:
		return nil
	default:
		return fmt.Errorf("dropping %s of session %s: %w", event.Payload, event.SessionId, ErrQueueFull)
	}
}

func (a *Async) run() {
	defer close(a.done)

	for event := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.publisher.Publish(ctx, event)
		cancel()

		if err != nil {
			logging.Logger.Warnw("publishing event", "session", event.SessionId, "state", event.Payload, "error", err)
		}
	}
}

// Close stops accepting events and waits until the queue is drained or ctx
// is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining event queue: %w", ctx.Err())
	}
}
