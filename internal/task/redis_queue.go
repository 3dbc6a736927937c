package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// RedisQueueConfig describes the redis list backing the queue.
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
	// RequeueDelay is waited before a failed id goes back on the list.
	RequeueDelay time.Duration
}

// RedisQueue publishes with LPUSH and consumes with BRPOP.
type RedisQueue struct {
	client       *redis.Client
	queue        string
	wait         time.Duration
	requeueDelay time.Duration
}

// NewRedisQueue connects and pings the server.
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "solagent:tasks"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	delay := cfg.RequeueDelay
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisQueue{client: client, queue: queue, wait: wait, requeueDelay: delay}, nil
}

// Publish pushes taskID onto the list.
func (q *RedisQueue) Publish(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, q.queue, taskID).Err(); err != nil {
		return fmt.Errorf("redis publish task: %w", err)
	}
	return nil
}

// Consume pops ids with BRPOP on workerCount workers. A handler error puts
// the id back behind every queued id after RequeueDelay. The first worker
// error cancels the others.
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				values, err := q.client.BRPop(gctx, q.wait, q.queue).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if gctx.Err() != nil {
						return gctx.Err()
					}
					return fmt.Errorf("redis pop task: %w", err)
				}
				if len(values) != 2 {
					continue
				}
				taskID := values[1]
				if handlerErr := handler(gctx, taskID); handlerErr != nil {
					q.requeue(gctx, taskID)
				}
			}
		})
	}
	return g.Wait()
}

func (q *RedisQueue) requeue(ctx context.Context, taskID string) {
	timer := time.NewTimer(q.requeueDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	_ = q.client.LPush(context.WithoutCancel(ctx), q.queue, taskID).Err()
}

// Close closes the redis client.
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
