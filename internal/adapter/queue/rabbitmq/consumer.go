package rabbitmq

import (
	"context"
	"encoding/json"

	"github.com/crabzie/hive/internal/core/domain"
	"go.uber.org/zap"
)

// Subscribe binds a private auto-delete queue to the exchange and streams the
// matching events until ctx is done. Each subscription gets its own channel.
func (b *EventBus) Subscribe(ctx context.Context, taskID string) (<-chan domain.TaskEvent, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, err
	}

	// 1. Declare a server named, exclusive queue for this subscriber
	q, err := ch.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, err
	}

	// 2. Bind it to the transitions we care about
	if err := ch.QueueBind(q.Name, bindingKey(taskID), b.exchange, false, nil); err != nil {
		ch.Close()
		return nil, err
	}

	msgs, err := ch.Consume(
		q.Name, // queue
		"",     // consumer
		true,   // auto-ack
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		ch.Close()
		return nil, err
	}

	b.log.Debug("Subscribed to task events", zap.String("queue", q.Name), zap.String("key", bindingKey(taskID)))

	out := make(chan domain.TaskEvent, 16)
	go func() {
		defer close(out)
		defer ch.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				var event domain.TaskEvent
				if err := json.Unmarshal(d.Body, &event); err != nil {
					b.log.Error("Failed to unmarshal task event", zap.Error(err))
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
