package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/the127/upyard/internal/config"
	"github.com/the127/upyard/internal/wire"
)

type redisPublisher struct {
	client     *redis.Client
	channel    string
	expiration time.Duration
}

// NewRedisPublisher publishes every event on the configured channel and keeps
// the latest state of each session under "<channel>:<session id>" for the
// given expiration.
func NewRedisPublisher(eventsConfig config.EventsConfig, expiration time.Duration) Publisher {
	return &redisPublisher{
		client: redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", eventsConfig.Redis.Host, eventsConfig.Redis.Port),
			Username: eventsConfig.Redis.Username,
			Password: eventsConfig.Redis.Password,
			DB:       eventsConfig.Redis.Database,
		}),
		channel:    eventsConfig.Redis.Channel,
		expiration: expiration,
	}
}

func (r *redisPublisher) Publish(ctx context.Context, event wire.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, r.channel, payload)
		pipe.Set(ctx, r.stateKey(event.SessionId), event.Payload, r.expiration)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publishing event to redis: %w", err)
	}

	return nil
}

func (r *redisPublisher) stateKey(sessionId string) string {
	return r.channel + ":" + sessionId
}
