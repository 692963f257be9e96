package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/hair3d/internal/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the subset of the shared RabbitMQ client used by the queue
type Broker interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Cancel(consumerTag string) error
	QueueDepth() (int, error)
}

// RabbitMQ carries job ids through a durable broker queue so the worker can
// run as its own process
type RabbitMQ struct {
	broker      Broker
	consumerTag string
	logger      *slog.Logger

	startOnce  sync.Once
	startErr   error
	deliveries <-chan amqp.Delivery

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewRabbitMQ creates a broker-backed queue. Consumption starts on the first Dequeue.
func NewRabbitMQ(broker Broker, consumerTag string, logger *slog.Logger) *RabbitMQ {
	return &RabbitMQ{
		broker:      broker,
		consumerTag: consumerTag,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Enqueue publishes {"job_id": ...} as a persistent message
func (q *RabbitMQ) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return domain.ErrQueueClosed
	}

	body, err := json.Marshal(domain.JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := q.broker.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Dequeue waits for the next well-formed delivery. Malformed messages are
// rejected without requeue and skipped.
func (q *RabbitMQ) Dequeue(ctx context.Context) (*Message, error) {
	q.startOnce.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.deliveries, q.startErr = q.broker.Consume(q.consumerTag)
	})
	if q.startErr != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", q.startErr)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, domain.ErrQueueClosed
		case d, ok := <-q.deliveries:
			if !ok {
				return nil, domain.ErrQueueClosed
			}

			jobID, err := decodeJobMessage(d.Body)
			if err != nil {
				q.logger.Error("Rejecting malformed job message",
					slog.String("body", string(d.Body)),
					slog.Any("error", err),
				)
				if nackErr := d.Nack(false, false); nackErr != nil {
					q.logger.Error("Failed to NACK malformed message",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			delivery := d
			return &Message{
				JobID: jobID,
				ack:   func() error { return delivery.Ack(false) },
				nack:  func() error { return delivery.Nack(false, false) },
			}, nil
		}
	}
}

// Close cancels the consumer. Messages not yet acknowledged are redelivered by the broker.
func (q *RabbitMQ) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)

	if q.deliveries == nil {
		return nil
	}
	return q.broker.Cancel(q.consumerTag)
}

// Len returns the broker's ready count, or -1 when it cannot be read
func (q *RabbitMQ) Len() int {
	n, err := q.broker.QueueDepth()
	if err != nil {
		q.logger.Warn("Failed to read queue depth", slog.Any("error", err))
		return -1
	}
	return n
}

func decodeJobMessage(body []byte) (string, error) {
	var msg domain.JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", fmt.Errorf("invalid job message JSON: %w", err)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return "", fmt.Errorf("invalid job_id %q: %w", msg.JobID, err)
	}
	return msg.JobID, nil
}
