package task

import "context"

// Handler processes one task id taken from a queue.
type Handler func(ctx context.Context, taskID string) error

// Producer publishes task ids.
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer feeds task ids to a pool of workers until ctx ends.
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue is both producer and consumer.
type Queue interface {
	Producer
	Consumer
}
