package main

import (
	"context"
	"testing"

	"solagent/internal/config"
	"solagent/internal/observability/alerting"
	"solagent/internal/task"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "exec", "capabilities"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %s missing: %v", name, err)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Fatalf("expected --config flag")
	}
}

func TestBuildBackendsSkipsMissingKeys(t *testing.T) {
	t.Setenv("SOLAGENT_TEST_KEY", "")
	registry, err := buildBackends([]config.BackendConfig{
		{ID: "grok3", Dialect: "grok3", Provider: config.ProviderOpenAI, APIKeyEnv: "SOLAGENT_TEST_KEY"},
		{ID: "claude", Dialect: "anthropic", Provider: config.ProviderAnthropic, APIKey: "sk-test"},
	})
	if err != nil {
		t.Fatalf("build backends: %v", err)
	}
	if _, ok := registry.Get("grok3"); ok {
		t.Fatalf("backend without key should be skipped")
	}
	if _, ok := registry.Get("claude"); !ok {
		t.Fatalf("expected anthropic backend to be registered")
	}
}

func TestNewBackendRejectsUnknownProvider(t *testing.T) {
	if _, err := newBackend(config.BackendConfig{ID: "x", Provider: "carrier_pigeon"}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestBuildQueue(t *testing.T) {
	queue, err := buildQueue(context.Background(), config.TaskQueueConfig{Driver: "memory", Buffer: 4})
	if err != nil {
		t.Fatalf("memory queue: %v", err)
	}
	defer queue.Close()
	if _, ok := queue.(*task.MemoryQueue); !ok {
		t.Fatalf("unexpected queue type %T", queue)
	}
	if _, err := buildQueue(context.Background(), config.TaskQueueConfig{Driver: "kafka"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestBuildAlerting(t *testing.T) {
	if d := buildAlerting(config.AlertingConfig{}); d != nil {
		t.Fatalf("expected no dispatcher without channels, got %T", d)
	}
	d := buildAlerting(config.AlertingConfig{Log: true, Webhook: config.WebhookAlertConfig{URL: "http://127.0.0.1:1/hook"}})
	fanout, ok := d.(*alerting.FanoutDispatcher)
	if !ok {
		t.Fatalf("unexpected dispatcher %T", d)
	}
	if got := fanout.Channels(); len(got) != 2 {
		t.Fatalf("expected two channels, got %v", got)
	}
}

func TestBuildHistoryMemoryDriver(t *testing.T) {
	cfg := config.Default(t.TempDir())
	repo, err := buildHistory(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build history: %v", err)
	}
	if repo == nil {
		t.Fatalf("expected repository")
	}
}
