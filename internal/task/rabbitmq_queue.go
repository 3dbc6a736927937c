package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	taskMessageType   = "solagent.task"
	redeliveredHeader = "x-solagent-redeliveries"
	// DefaultMaxRedeliveries bounds how often a failing task id is put back.
	DefaultMaxRedeliveries = 5
)

// RabbitMQConfig describes the AMQP connection and queue.
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
	// MaxRedeliveries is how many times a failed delivery is republished
	// before it is rejected. Rejected messages go to the queue's dead letter
	// exchange when the broker has one configured.
	MaxRedeliveries int
}

type publishFunc func(ctx context.Context, msg amqp.Publishing) error

// RabbitMQQueue publishes task ids to a single AMQP queue on the default
// exchange. Each message carries the task id as MessageId and body, and a
// redelivery counter header.
type RabbitMQQueue struct {
	conn            *amqp.Connection
	ch              *amqp.Channel
	queue           string
	maxRedeliveries int
	publish         publishFunc
	now             func() time.Time
}

// NewRabbitMQQueue dials the broker and declares the queue.
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "solagent.tasks"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("set rabbitmq qos: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare rabbitmq queue: %w", err)
	}
	q := &RabbitMQQueue{conn: conn, ch: ch, queue: queue}
	q.init(cfg.MaxRedeliveries, func(ctx context.Context, msg amqp.Publishing) error {
		return ch.PublishWithContext(ctx, "", queue, false, false, msg)
	})
	return q, nil
}

func (q *RabbitMQQueue) init(maxRedeliveries int, publish publishFunc) {
	if maxRedeliveries <= 0 {
		maxRedeliveries = DefaultMaxRedeliveries
	}
	q.maxRedeliveries = maxRedeliveries
	q.publish = publish
	q.now = time.Now
}

// taskMessage builds the persistent message for taskID.
func taskMessage(taskID string, redeliveries int, at time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    taskID,
		Type:         taskMessageType,
		Timestamp:    at.UTC(),
		Headers:      amqp.Table{redeliveredHeader: int32(redeliveries)},
		Body:         []byte(taskID),
	}
}

// deliveredTaskID prefers MessageId and falls back to the body for messages
// published by older producers.
func deliveredTaskID(msg amqp.Delivery) string {
	if msg.MessageId != "" {
		return msg.MessageId
	}
	return string(msg.Body)
}

// redeliveries reads the counter header. Missing or malformed values count
// as zero.
func redeliveries(headers amqp.Table) int {
	switch v := headers[redeliveredHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	default:
		return 0
	}
}

// Publish sends taskID with a zero redelivery count.
func (q *RabbitMQQueue) Publish(ctx context.Context, taskID string) error {
	if q == nil || q.publish == nil {
		return errors.New("rabbitmq queue is not initialised")
	}
	return q.publish(ctx, taskMessage(taskID, 0, q.now()))
}

// Consume delivers messages to workerCount workers with manual acks.
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return errors.New("rabbitmq queue is not initialised")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume rabbitmq queue: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					q.handle(ctx, msg, handler)
				}
			}
		}()
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("rabbitmq delivery channel closed")
}

// handle runs handler for one delivery and settles it. A failed delivery is
// republished at the tail with its counter incremented and the original is
// acked. Once the counter reaches maxRedeliveries the delivery is rejected
// instead. If republishing fails the original is nacked with requeue so the
// id is not lost.
func (q *RabbitMQQueue) handle(ctx context.Context, msg amqp.Delivery, handler Handler) {
	taskID := deliveredTaskID(msg)
	if err := handler(ctx, taskID); err == nil {
		_ = msg.Ack(false)
		return
	}
	count := redeliveries(msg.Headers)
	if count >= q.maxRedeliveries {
		_ = msg.Reject(false)
		return
	}
	if err := q.publish(context.WithoutCancel(ctx), taskMessage(taskID, count+1, q.now())); err != nil {
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

// Close closes the channel and the connection.
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
