package setup

import (
	"context"
	"fmt"
	"time"

	"github.com/The127/ioc"
	"github.com/the127/upyard/internal/config"
	"github.com/the127/upyard/internal/services/events"
)

const (
	redisQueueSize      = 4096
	redisPublishTimeout = 5 * time.Second
)

// Events registers the in-process broker that feeds the event streams and
// the publisher sessions report to. With redis configured every event also
// goes to redis through a background queue, and the latest state of a
// session is kept there for retention. The returned function drains that
// queue.
func Events(dc *ioc.DependencyCollection, c config.EventsConfig, retention time.Duration) func(ctx context.Context) error {
	broker := events.NewBroker()

	ioc.RegisterSingleton(dc, func(_ *ioc.DependencyProvider) *events.Broker {
		return broker
	})

	var publisher events.Publisher
	drain := func(context.Context) error { return nil }

	switch c.Mode {
	case config.EventsModeInMemory:
		publisher = broker

	case config.EventsModeRedis:
		redisQueue := events.NewAsync(events.NewRedisPublisher(c, retention), redisQueueSize, redisPublishTimeout)
		publisher = events.NewFanout(broker, redisQueue)
		drain = redisQueue.Close

	default:
		panic(fmt.Errorf("unsupported events mode: %s", c.Mode))
	}

	ioc.RegisterSingleton(dc, func(_ *ioc.DependencyProvider) events.Publisher {
		return publisher
	})

	return drain
}
