package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crabzie/hive/internal/core/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const eventChannelPrefix = "hive:task:"

// EventBus publishes task transitions on one pub/sub channel per task
type EventBus struct {
	client redis.UniversalClient
	log    *zap.Logger
}

func NewEventBus(client redis.UniversalClient, log *zap.Logger) *EventBus {
	return &EventBus{
		client: client,
		log:    log,
	}
}

func eventChannel(taskID string) string {
	return eventChannelPrefix + taskID
}

func (b *EventBus) PublishEvent(ctx context.Context, event domain.TaskEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, eventChannel(event.TaskID), data).Err()
}

// Subscribe returns once Redis confirmed the subscription, so no event
// published after the call can be missed.
func (b *EventBus) Subscribe(ctx context.Context, taskID string) (<-chan domain.TaskEvent, error) {
	var ps *redis.PubSub
	if taskID == "" {
		ps = b.client.PSubscribe(ctx, eventChannelPrefix+"*")
	} else {
		ps = b.client.Subscribe(ctx, eventChannel(taskID))
	}
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe task events: %w", err)
	}

	out := make(chan domain.TaskEvent, 16)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event domain.TaskEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.log.Warn("Dropping malformed task event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
