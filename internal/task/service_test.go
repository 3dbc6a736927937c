package task

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "solagent/internal/errors"
)

func TestServiceSubmitValidates(t *testing.T) {
	service := NewService(NewMemoryStore(), &recordingProducer{}, 0)
	ctx := context.Background()

	if _, err := service.Submit(ctx, Submission{Task: "  "}); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("expected validation error for empty task, got %v", err)
	}
	if _, err := service.Submit(ctx, Submission{Task: "get_balance", Input: []byte(`{"pubkey":`)}); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("expected validation error for bad input, got %v", err)
	}
}

func TestServiceSubmitIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	producer := &recordingProducer{}
	service := NewService(store, producer, 0)
	ctx := context.Background()

	first, err := service.Submit(ctx, Submission{ID: "fixed", Task: "get_balance", Input: []byte(` {"pubkey":"abc"} `)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.MaxRetries != DefaultMaxRetries || first.Status != StatusPending || string(first.Input) != `{"pubkey":"abc"}` {
		t.Fatalf("unexpected task: %+v", first)
	}

	second, err := service.Submit(ctx, Submission{ID: "fixed", Task: "get_tps"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.Task != "get_balance" {
		t.Fatalf("resubmission replaced task: %+v", second)
	}
	if len(producer.published) != 1 {
		t.Fatalf("expected a single publish, got %v", producer.published)
	}

	generated, err := service.Submit(ctx, Submission{Task: "get_tps"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if generated.ID == "" || generated.ID == "fixed" {
		t.Fatalf("expected generated id, got %q", generated.ID)
	}
}

func TestServiceSubmitPublishFailure(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, &recordingProducer{err: errors.New("queue full")}, 2)
	ctx := context.Background()

	_, err := service.Submit(ctx, Submission{ID: "p1", Task: "get_tps"})
	if xerrors.CodeOf(err) != CodeTaskPublish {
		t.Fatalf("expected publish error, got %v", err)
	}
	stored, err := store.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != StatusFailed || stored.ErrorCode != string(CodeTaskPublish) {
		t.Fatalf("unexpected stored task: %+v", stored)
	}
}

func TestServiceWaitUntilCompleted(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, &recordingProducer{}, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	task, err := service.Submit(ctx, Submission{Task: "get_tps"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = store.Claim(context.Background(), task.ID)
		_ = store.MarkSucceeded(context.Background(), task.ID, ExecutionResult{Capability: "get_tps", Output: "ok"})
	}()

	done, err := service.WaitUntilCompleted(ctx, task.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusSucceeded || done.Result.Output != "ok" {
		t.Fatalf("unexpected task: %+v", done)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	pending, err := service.Submit(short, Submission{Task: "get_balance"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := service.WaitUntilCompleted(short, pending.ID, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestServiceListAndStats(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, &recordingProducer{}, 1)
	ctx := context.Background()

	for _, name := range []string{"get_balance", "get_balance", "get_tps"} {
		if _, err := service.Submit(ctx, Submission{Task: name}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	list, err := service.List(ctx, WithTask("get_balance"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 balance tasks, got %d", len(list))
	}
	stats, err := service.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if _, err := service.Get(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
