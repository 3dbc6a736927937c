package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"solagent/internal/agent"
	"solagent/internal/auth"
	"solagent/internal/capability"
	"solagent/internal/capability/builtin"
	"solagent/internal/config"
	"solagent/internal/llm"
	"solagent/internal/llm/anthropic"
	"solagent/internal/llm/gemini"
	"solagent/internal/llm/openai"
	"solagent/internal/llm/pythonbridge"
	"solagent/internal/memory"
	"solagent/internal/observability/alerting"
	"solagent/internal/observability/metrics"
	"solagent/internal/storage"
	"solagent/internal/storage/jsonfile"
	"solagent/internal/storage/mysql"
	"solagent/internal/storage/redis"
	"solagent/internal/task"
	"solagent/internal/web3/provider"
	"solagent/pkg/logger"
)

// application holds every long-lived component built from configuration.
type application struct {
	cfg             *config.Config
	agent           *agent.Agent
	chains          *provider.Registry
	auth            *auth.Service
	tasks           *task.Service
	processor       *task.Processor
	capabilityCount int
	closers         []func() error
}

func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.L().Warn("release resource", slog.Any("error", err))
		}
	}
	_ = logger.Sync()
}

func (a *application) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func loadConfig(flagValue string) (*config.Config, error) {
	path := config.ResolvePath(flagValue)
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if flagValue == "" && os.Getenv(config.EnvConfigPath) == "" && errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default(".")
		return cfg, cfg.Validate()
	}
	return nil, err
}

func build(ctx context.Context, configPath string) (_ *application, err error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.Outputs,
		AddSource:   cfg.Log.AddSource,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
			Compress:   cfg.Log.Audit.Compress,
		},
	}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &application{cfg: cfg}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.auth, err = buildAuth(cfg.Auth)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	backends, err := buildBackends(cfg.LLM.Backends)
	if err != nil {
		return nil, err
	}

	chains, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return nil, err
	}
	app.chains = chains
	app.onClose(func() error { chains.Close(); return nil })

	capOpts := builtin.Options(builtin.Config{Backend: cfg.Agent.Backend, Chains: chains})
	if cfg.Agent.AliasGuard {
		capOpts = append(capOpts, capability.WithAliasGuard())
	}
	capabilities := capability.NewRegistry(capOpts...)
	skipped, err := capabilities.RegisterByTags(cfg.Agent.Capabilities...)
	if err != nil {
		return nil, err
	}
	if len(skipped) > 0 {
		logger.L().Warn("unknown capability tags skipped", slog.Any("tags", skipped))
	}
	app.capabilityCount = capabilities.Len()

	history, err := buildHistory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closer, ok := history.(interface{ Close() error }); ok {
		app.onClose(closer.Close)
	}

	app.agent = agent.New(capabilities, backends,
		memory.NewStore(memory.WithCapacity(cfg.Agent.ContextCapacity), memory.WithSizeReporter(metrics.SetContextEntries)),
		agent.WithHistory(history),
		agent.WithDefaultBackend(cfg.Agent.Backend),
		agent.WithCompletionTimeout(cfg.Agent.CompletionTimeout()),
	)

	queue, err := buildQueue(ctx, cfg.TaskQueue)
	if err != nil {
		return nil, err
	}
	store := task.NewMemoryStore()
	app.tasks = task.NewService(store, queue, cfg.TaskQueue.MaxRetries)
	app.onClose(app.tasks.Close)
	app.processor = task.NewProcessor(app.agent, store, queue, queue,
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithAlertDispatcher(buildAlerting(cfg.Alerting)),
	)
	return app, nil
}

// buildBackends registers every configured backend. Backends whose API key
// is missing are skipped so tasks targeting them fail with BACKEND_NOT_FOUND.
func buildBackends(configs []config.BackendConfig) (*llm.Registry, error) {
	registry := llm.NewRegistry()
	for _, bc := range configs {
		backend, err := newBackend(bc)
		if err != nil {
			logger.L().Warn("completion backend disabled",
				slog.String("backend", bc.ID),
				slog.String("provider", bc.Provider),
				slog.Any("error", err),
			)
			continue
		}
		if err := registry.Register(bc.ID, backend); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func newBackend(bc config.BackendConfig) (llm.Backend, error) {
	switch bc.Provider {
	case config.ProviderOpenAI:
		return openai.NewClient(openai.Config{
			Name:    bc.ID,
			Dialect: bc.Dialect,
			APIKey:  bc.ResolveAPIKey(),
			BaseURL: bc.BaseURL,
			Model:   bc.Model,
			Timeout: bc.Timeout(),
		})
	case config.ProviderGemini:
		return gemini.NewClient(gemini.Config{
			Name:    bc.ID,
			APIKey:  bc.ResolveAPIKey(),
			BaseURL: bc.BaseURL,
			Model:   bc.Model,
			Timeout: bc.Timeout(),
		})
	case config.ProviderAnthropic:
		return anthropic.NewClient(anthropic.Config{
			Name:      bc.ID,
			APIKey:    bc.ResolveAPIKey(),
			BaseURL:   bc.BaseURL,
			Model:     bc.Model,
			MaxTokens: bc.MaxTokens,
			Timeout:   bc.Timeout(),
		})
	case config.ProviderPythonBridge:
		return pythonbridge.NewClient(pythonbridge.Config{
			Name:       bc.ID,
			Dialect:    bc.Dialect,
			PythonExec: bc.Python.PythonExecutable,
			ScriptPath: pythonbridge.ResolveScriptPath(bc.Python.WorkingDir, bc.Python.ScriptPath),
			WorkingDir: bc.Python.WorkingDir,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", bc.Provider)
	}
}

func buildHistory(ctx context.Context, cfg *config.Config) (storage.HistoryRepository, error) {
	hc := cfg.Storage.History
	switch hc.Driver {
	case "", "memory":
		return jsonfile.NewHistoryRepository(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewSQLHistoryRepository(ctx, mysql.Config{
			DSN:             hc.DSN,
			MaxOpenConns:    hc.MaxOpenConns,
			MaxIdleConns:    hc.MaxIdleConns,
			ConnMaxLifetime: time.Duration(hc.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(hc.ConnMaxIdleTimeSeconds) * time.Second,
		})
	case "redis":
		return redis.NewHistoryRepository(ctx, redis.Config{
			Address:  hc.Redis.Address,
			Password: hc.Redis.Password,
			DB:       hc.Redis.DB,
			Prefix:   hc.Redis.Prefix,
			Capacity: hc.Redis.Capacity,
		})
	default:
		return nil, fmt.Errorf("unknown history driver %q", hc.Driver)
	}
}

func buildQueue(ctx context.Context, qc config.TaskQueueConfig) (task.Queue, error) {
	switch qc.Driver {
	case "", "memory":
		return task.NewMemoryQueue(qc.Buffer), nil
	case "redis":
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   qc.Redis.Address,
			Password:  qc.Redis.Password,
			DB:        qc.Redis.DB,
			Queue:     qc.Redis.Queue,
			BlockWait: time.Duration(qc.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        qc.RabbitMQ.URL,
			Queue:      qc.RabbitMQ.Queue,
			Prefetch:   qc.RabbitMQ.Prefetch,
			Durable:    qc.RabbitMQ.Durable,
			AutoDelete: qc.RabbitMQ.AutoDelete,

			MaxRedeliveries: qc.RabbitMQ.MaxRedeliveries,
		})
	default:
		return nil, fmt.Errorf("unknown queue driver %q", qc.Driver)
	}
}

func buildAuth(ac config.AuthConfig) (*auth.Service, error) {
	keys := make([]auth.KeyConfig, 0, len(ac.Keys))
	for _, k := range ac.Keys {
		keys = append(keys, auth.KeyConfig{
			Name:        k.Name,
			Key:         k.Key,
			KeyEnv:      k.KeyEnv,
			Permissions: k.Permissions,
		})
	}
	return auth.NewService(auth.Config{Mode: auth.Mode(ac.Mode), Keys: keys}, logger.Audit())
}

func buildAlerting(ac config.AlertingConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if ac.Log {
		notifiers = append(notifiers, &alerting.LogNotifier{})
	}
	if ac.Webhook.URL != "" {
		timeout := time.Duration(ac.Webhook.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:     ac.Webhook.URL,
			Headers: ac.Webhook.Headers,
			Client:  &http.Client{Timeout: timeout},
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
