package events

import (
	"context"
	"errors"

	"github.com/the127/upyard/internal/wire"
)

type Publisher interface {
	Publish(ctx context.Context, event wire.Event) error
}

func StatusChange(sessionId string, state string) wire.Event {
	return wire.Event{
		Type:      wire.EventTypeStatusChange,
		SessionId: sessionId,
		Payload:   state,
	}
}

type fanout struct {
	publishers []Publisher
}

// NewFanout publishes every event to all publishers, collecting their errors.
func NewFanout(publishers ...Publisher) Publisher {
	return &fanout{
		publishers: publishers,
	}
}

func (f *fanout) Publish(ctx context.Context, event wire.Event) error {
	var errs []error
	for _, publisher := range f.publishers {
		err := publisher.Publish(ctx, event)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
