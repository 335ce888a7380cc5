package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/crabzie/hive/internal/core/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// EventBus fans task transitions out over a topic exchange.
// Routing keys look like task.<id>.<status>.
type EventBus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	mu       sync.Mutex
	log      *zap.Logger
}

func NewEventBus(url, exchange string, log *zap.Logger) (*EventBus, error) {
	var conn *amqp.Connection
	var err error

	// Retry connection up to 10 times with backoff
	maxRetries := 10
	for i := 1; i <= maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			bus, err := setup(conn, exchange, log)
			if err == nil {
				return bus, nil
			}
			conn.Close()
		}

		log.Warn("Failed to connect to RabbitMQ, retrying...",
			zap.Int("attempt", i),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)

		// Simple incremental backoff
		time.Sleep(time.Duration(i*2) * time.Second)
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}

func setup(conn *amqp.Connection, exchange string, log *zap.Logger) (*EventBus, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		return nil, err
	}
	return &EventBus{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		log:      log,
	}, nil
}

func routingKey(e domain.TaskEvent) string {
	return fmt.Sprintf("task.%s.%s", e.TaskID, e.To)
}

// bindingKey matches every transition of taskID, or of every task when empty
func bindingKey(taskID string) string {
	if taskID == "" {
		return "task.#"
	}
	return "task." + taskID + ".*"
}

func (b *EventBus) PublishEvent(ctx context.Context, event domain.TaskEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	err = b.ch.PublishWithContext(ctx,
		b.exchange,        // Exchange
		routingKey(event), // Routing key
		false,             // Mandatory
		false,             // Immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Transient,
			Timestamp:    event.At,
			Body:         body,
		})
	if err != nil {
		b.log.Error("Failed to publish task event", zap.String("task_id", event.TaskID), zap.Error(err))
		return err
	}

	b.log.Debug("Published task event", zap.String("task_id", event.TaskID), zap.String("key", routingKey(event)))
	return nil
}

// Ping reports whether the connection is still open
func (b *EventBus) Ping() error {
	if b.conn.IsClosed() {
		return amqp.ErrClosed
	}
	return nil
}

func (b *EventBus) Close() error {
	return b.conn.Close()
}
