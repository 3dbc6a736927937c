package task

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "solagent/internal/errors"
	"solagent/internal/observability/metrics"
	"solagent/pkg/logger"
)

// DefaultMaxRetries allows a single attempt.
const DefaultMaxRetries = 1

// Service creates and queries queued tasks.
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService builds a Service. maxRetries is the number of attempts a task
// may take; values below one mean DefaultMaxRetries.
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit persists a pending task and publishes it. Submitting an id that
// already exists returns the stored task unchanged.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Task, error) {
	name := strings.TrimSpace(sub.Task)
	if name == "" {
		return nil, xerrors.New(CodeTaskValidation, "task name is required")
	}
	input := bytes.TrimSpace(sub.Input)
	if len(input) > 0 && !json.Valid(input) {
		return nil, xerrors.New(CodeTaskValidation, "task input must be valid JSON")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "task service is not initialised")
	}

	taskID := strings.TrimSpace(sub.ID)
	if taskID != "" {
		existing, err := s.store.Get(ctx, taskID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrTaskNotFound) {
			return nil, err
		}
	} else {
		taskID = uuid.NewString()
	}

	task := &Task{
		ID:         taskID,
		Task:       name,
		Input:      cloneRaw(input),
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, task); err != nil {
		if stdErrors.Is(err, ErrTaskConflict) {
			if existing, getErr := s.store.Get(ctx, taskID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, taskID); err != nil {
		logger.L().Error("publish task", slog.Any("error", err), slog.String("task_id", taskID))
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "publish task to queue")
		_ = s.store.MarkFailed(ctx, taskID, CodeTaskPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	metrics.ObserveAsyncTask(string(StatusPending))
	logger.Audit().Info("task queued",
		slog.String("task_id", taskID),
		slog.String("task", name),
		slog.Int("max_retries", task.MaxRetries),
	)
	return task, nil
}

// Get returns the task with id.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "task store is not initialised")
	}
	return s.store.Get(ctx, id)
}

// List returns tasks matching opts.
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "task store is not initialised")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats aggregates tasks matching opts.
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "task store is not initialised")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Close releases the store and the producer.
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted polls the task until it succeeds or fails terminally.
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
