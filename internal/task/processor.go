package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"solagent/internal/agent"
	xerrors "solagent/internal/errors"
	"solagent/internal/observability/alerting"
	"solagent/internal/observability/metrics"
	"solagent/pkg/logger"
)

// Executor runs one orchestrated execution.
type Executor interface {
	Execute(ctx context.Context, req agent.TaskRequest) (*agent.TaskResult, error)
}

// Processor consumes task ids and hands them to the Executor.
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithProcessorLogger overrides the component logger.
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithWorkerCount sets the number of consuming workers.
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher sends terminal alert-worthy failures to dispatcher.
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor builds a Processor. Retries are re-published through producer.
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("task"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start blocks consuming the queue until ctx ends.
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "task consumer is not configured")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "task processor is not initialised")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) || stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskConflict) {
			p.logger.Debug("skip task", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("claim task", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}
	metrics.ObserveAsyncTask(string(StatusRunning))

	result, execErr := p.executor.Execute(ctx, agent.TaskRequest{
		ID:    task.ID,
		Task:  task.Task,
		Input: cloneRaw(task.Input),
	})
	if execErr != nil {
		return p.handleExecutionFailure(ctx, task, execErr)
	}

	var record ExecutionResult
	if result != nil {
		record = ExecutionResult{
			Capability:   result.Capability,
			Backend:      result.Backend,
			InvocationID: result.InvocationID,
			Arguments:    result.Arguments,
			Output:       result.Output,
			Direct:       result.Direct,
		}
	}
	if err := p.store.MarkSucceeded(ctx, task.ID, record); err != nil {
		p.logger.Error("mark task succeeded", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	metrics.ObserveAsyncTask(string(StatusSucceeded))
	logger.Audit().Info("queued task succeeded",
		slog.String("task_id", task.ID),
		slog.String("task", task.Task),
		slog.String("capability", record.Capability),
		slog.Int("attempts", task.Attempts),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := !retryable || task.Attempts >= task.MaxRetries

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); storeErr != nil {
		p.logger.Error("mark task failed", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("queued task failed",
		slog.String("task_id", task.ID),
		slog.String("task", task.Task),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.String("stage", xerrors.StageOf(execErr)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	if terminal {
		metrics.ObserveAsyncTask(string(StatusFailed))
		if xerrors.ShouldAlert(execErr) {
			p.emitAlert(ctx, task, code, execErr, xerrors.StageOf(execErr))
		}
		return nil
	}

	metrics.ObserveAsyncTask("retried")
	if pubErr := p.producer.Publish(ctx, task.ID); pubErr != nil {
		wrapped := xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("requeue task %s", task.ID))
		_ = p.store.MarkFailed(ctx, task.ID, CodeTaskPublish, wrapped.Error(), true)
		p.emitAlert(ctx, task, CodeTaskPublish, wrapped, "requeue")
		return wrapped
	}
	p.logger.Debug("task requeued", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	severity := attrs.Severity
	metadata := map[string]string{}
	if cause != nil {
		message = cause.Error()
		severity = xerrors.SeverityOf(cause)
		if e, ok := xerrors.From(cause); ok {
			for k, v := range e.Metadata() {
				metadata[k] = v
			}
		}
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   severity,
		TaskID:     task.ID,
		Task:       task.Task,
		Stage:      stage,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now().UTC(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("send alert",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
