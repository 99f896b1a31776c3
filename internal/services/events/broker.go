package events

import (
	"context"
	"sync"

	"github.com/the127/upyard/internal/logging"
	"github.com/the127/upyard/internal/wire"
)

const subscriberBuffer = 16

// Broker fans events out to in-process subscribers of a session.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan wire.Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string]map[chan wire.Event]struct{}),
	}
}

// Subscribe returns a channel of events for sessionId and a cancel function
// that must be called to release it.
func (b *Broker) Subscribe(sessionId string) (<-chan wire.Event, func()) {
	ch := make(chan wire.Event, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers, ok := b.subscribers[sessionId]
	if !ok {
		subscribers = make(map[chan wire.Event]struct{})
		b.subscribers[sessionId] = subscribers
	}
	subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.unsubscribe(sessionId, ch)
		})
	}
}

func (b *Broker) unsubscribe(sessionId string, ch chan wire.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers, ok := b.subscribers[sessionId]
	if !ok {
		return
	}

	delete(subscribers, ch)
	if len(subscribers) == 0 {
		delete(b.subscribers, sessionId)
	}
}

// Publish never blocks; a subscriber with a full buffer misses the event.
func (b *Broker) Publish(_ context.Context, event wire.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[event.SessionId] {
		select {
		case ch <- event:
		default:
			logging.Logger.Warnw("dropping event for slow subscriber", "session", event.SessionId, "type", event.Type)
		}
	}

	return nil
}

func (b *Broker) SubscriberCount(sessionId string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers[sessionId])
}
