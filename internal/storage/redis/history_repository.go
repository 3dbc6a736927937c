package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"solagent/internal/storage"
)

const (
	defaultPrefix = "solagent"
	defaultCap    = 1000
)

// Config describes the Redis connection used by the history archive.
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	// Capacity bounds the recent-executions list.
	Capacity int
}

// HistoryRepository implements storage.HistoryRepository on Redis.
type HistoryRepository struct {
	client    goredis.UniversalClient
	listKey   string
	latestKey string
	capacity  int64
}

var _ storage.HistoryRepository = (*HistoryRepository)(nil)

// NewHistoryRepository connects to Redis and verifies the connection.
func NewHistoryRepository(ctx context.Context, cfg Config) (*HistoryRepository, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("redis address is empty")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return newHistoryRepository(client, cfg.Prefix, cfg.Capacity), nil
}

func newHistoryRepository(client goredis.UniversalClient, prefix string, capacity int) *HistoryRepository {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	if capacity <= 0 {
		capacity = defaultCap
	}
	return &HistoryRepository{
		client:    client,
		listKey:   prefix + ":executions",
		latestKey: prefix + ":executions:latest",
		capacity:  int64(capacity),
	}
}

func (r *HistoryRepository) Save(ctx context.Context, record storage.Record) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}
	_, err = r.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		p.LPush(ctx, r.listKey, encoded)
		p.LTrim(ctx, r.listKey, 0, r.capacity-1)
		p.HSet(ctx, r.latestKey, record.Task, encoded)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save history to redis: %w", err)
	}
	return nil
}

func (r *HistoryRepository) ListLatest(ctx context.Context, limit int) ([]storage.Record, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	values, err := r.client.LRange(ctx, r.listKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list history from redis: %w", err)
	}
	records := make([]storage.Record, 0, len(values))
	for _, v := range values {
		var rec storage.Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (r *HistoryRepository) Latest(ctx context.Context, task string) (storage.Record, bool, error) {
	value, err := r.client.HGet(ctx, r.latestKey, task).Result()
	if errors.Is(err, goredis.Nil) {
		return storage.Record{}, false, nil
	}
	if err != nil {
		return storage.Record{}, false, fmt.Errorf("read latest history from redis: %w", err)
	}
	var rec storage.Record
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return storage.Record{}, false, fmt.Errorf("decode history record: %w", err)
	}
	return rec, true, nil
}

func (r *HistoryRepository) Close() error {
	return r.client.Close()
}
