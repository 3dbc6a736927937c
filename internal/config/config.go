package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted while loading.
const (
	EnvConfigPath   = "SOLAGENT_CONFIG"
	EnvSolanaRPCURL = "SOLANA_RPC_URL"
)

// DefaultPath is used when neither --config nor SOLAGENT_CONFIG is set.
var DefaultPath = filepath.Join("configs", "solagent.yaml")

// DefaultSolanaRPCURL points at the public devnet cluster.
const DefaultSolanaRPCURL = "https://api.devnet.solana.com"

// Config is the single configuration document of solagentd.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Agent     AgentConfig     `yaml:"agent" json:"agent"`
	LLM       LLMConfig       `yaml:"llm" json:"llm"`
	Web3      Web3Config      `yaml:"web3" json:"web3"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	TaskQueue TaskQueueConfig `yaml:"task_queue" json:"task_queue"`
	Alerting  AlertingConfig  `yaml:"alerting" json:"alerting"`
	Runtime   RuntimeConfig   `yaml:"runtime" json:"runtime"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address string `yaml:"address" json:"address"`
	// MetricsAddress starts a dedicated metrics listener when set. Otherwise
	// /metrics is served by the API server.
	MetricsAddress         string `yaml:"metrics_address" json:"metrics_address"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds" json:"shutdown_timeout_seconds"`
}

// ShutdownTimeout returns the graceful shutdown budget.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// AuthConfig protects the /api/v1 routes with static API keys.
type AuthConfig struct {
	// Mode is "disabled" (default) or "api_key".
	Mode string         `yaml:"mode" json:"mode"`
	Keys []APIKeyConfig `yaml:"keys" json:"keys"`
}

// APIKeyConfig declares one key and its permissions.
type APIKeyConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Key         string   `yaml:"key" json:"key"`
	KeyEnv      string   `yaml:"key_env" json:"key_env"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

// LogConfig maps onto logger.Config.
type LogConfig struct {
	Level     string         `yaml:"level" json:"level"`
	Format    string         `yaml:"format" json:"format"`
	Outputs   []string       `yaml:"outputs" json:"outputs"`
	AddSource bool           `yaml:"add_source" json:"add_source"`
	Audit     AuditLogConfig `yaml:"audit" json:"audit"`
}

// AuditLogConfig describes the rotating audit log.
type AuditLogConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// AgentConfig tunes the orchestrator and its capability set.
type AgentConfig struct {
	// Backend is the completion backend targeted by built-in capabilities.
	Backend                  string   `yaml:"backend" json:"backend"`
	CompletionTimeoutSeconds int      `yaml:"completion_timeout_seconds" json:"completion_timeout_seconds"`
	ContextCapacity          int      `yaml:"context_capacity" json:"context_capacity"`
	AliasGuard               bool     `yaml:"alias_guard" json:"alias_guard"`
	Capabilities             []string `yaml:"capabilities" json:"capabilities"`
}

// CompletionTimeout returns the per-call completion budget, zero meaning none.
func (a AgentConfig) CompletionTimeout() time.Duration {
	return time.Duration(a.CompletionTimeoutSeconds) * time.Second
}

// LLMConfig lists the completion backends.
type LLMConfig struct {
	Backends []BackendConfig `yaml:"backends" json:"backends"`
}

// Backend providers.
const (
	ProviderOpenAI       = "openai"
	ProviderGemini       = "gemini"
	ProviderAnthropic    = "anthropic"
	ProviderPythonBridge = "python_bridge"
)

// BackendConfig describes one completion backend.
type BackendConfig struct {
	ID             string             `yaml:"id" json:"id"`
	Dialect        string             `yaml:"dialect" json:"dialect"`
	Provider       string             `yaml:"provider" json:"provider"`
	APIKey         string             `yaml:"api_key" json:"api_key"`
	APIKeyEnv      string             `yaml:"api_key_env" json:"api_key_env"`
	BaseURL        string             `yaml:"base_url" json:"base_url"`
	Model          string             `yaml:"model" json:"model"`
	MaxTokens      int                `yaml:"max_tokens" json:"max_tokens"`
	TimeoutSeconds int                `yaml:"timeout_seconds" json:"timeout_seconds"`
	Python         PythonBridgeConfig `yaml:"python_bridge" json:"python_bridge"`
}

// ResolveAPIKey returns the inline key or the value of APIKeyEnv.
func (b BackendConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(b.APIKey); key != "" {
		return key
	}
	if b.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(b.APIKeyEnv))
}

// Timeout returns the HTTP timeout of the backend.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// PythonBridgeConfig locates the script used by the python_bridge provider.
type PythonBridgeConfig struct {
	PythonExecutable string `yaml:"python_executable" json:"python_executable"`
	ScriptPath       string `yaml:"script_path" json:"script_path"`
	WorkingDir       string `yaml:"working_dir" json:"working_dir"`
}

// Web3Config points at chain endpoints.
type Web3Config struct {
	// RPCURL is used as a single Solana chain when ChainConfig defines none.
	RPCURL       string `yaml:"rpc_url" json:"rpc_url"`
	Commitment   string `yaml:"commitment" json:"commitment"`
	ChainConfig  string `yaml:"chain_config" json:"chain_config"`
	DefaultChain string `yaml:"default_chain" json:"default_chain"`
}

// StorageConfig groups persistence settings.
type StorageConfig struct {
	History HistoryConfig `yaml:"history" json:"history"`
}

// HistoryConfig selects the execution archive driver.
type HistoryConfig struct {
	Driver                 string      `yaml:"driver" json:"driver"`
	DSN                    string      `yaml:"dsn" json:"dsn"`
	MaxOpenConns           int         `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns           int         `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int         `yaml:"conn_max_lifetime_seconds" json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int         `yaml:"conn_max_idle_time_seconds" json:"conn_max_idle_time_seconds"`
	Redis                  RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig is shared by the redis history driver and the redis queue.
type RedisConfig struct {
	Address  string `yaml:"address" json:"address"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
	Capacity int    `yaml:"capacity" json:"capacity"`
}

// TaskQueueConfig configures asynchronous task execution.
type TaskQueueConfig struct {
	Driver     string              `yaml:"driver" json:"driver"`
	Workers    int                 `yaml:"workers" json:"workers"`
	MaxRetries int                 `yaml:"max_retries" json:"max_retries"`
	Buffer     int                 `yaml:"buffer" json:"buffer"`
	Redis      RedisQueueConfig    `yaml:"redis" json:"redis"`
	RabbitMQ   RabbitMQQueueConfig `yaml:"rabbitmq" json:"rabbitmq"`
}

// RedisQueueConfig describes a redis list used as queue.
type RedisQueueConfig struct {
	Address          string `yaml:"address" json:"address"`
	Password         string `yaml:"password" json:"password"`
	DB               int    `yaml:"db" json:"db"`
	Queue            string `yaml:"queue" json:"queue"`
	BlockWaitSeconds int    `yaml:"block_wait_seconds" json:"block_wait_seconds"`
}

// RabbitMQQueueConfig describes an AMQP queue.
type RabbitMQQueueConfig struct {
	URL        string `yaml:"url" json:"url"`
	Queue      string `yaml:"queue" json:"queue"`
	Prefetch   int    `yaml:"prefetch" json:"prefetch"`
	Durable    bool   `yaml:"durable" json:"durable"`
	AutoDelete bool   `yaml:"auto_delete" json:"auto_delete"`
	// MaxRedeliveries caps republishing of a failed delivery.
	MaxRedeliveries int `yaml:"max_redeliveries" json:"max_redeliveries"`
}

// AlertingConfig configures failure notifications.
type AlertingConfig struct {
	Log     bool               `yaml:"log" json:"log"`
	Webhook WebhookAlertConfig `yaml:"webhook" json:"webhook"`
}

// WebhookAlertConfig posts alert events as JSON.
type WebhookAlertConfig struct {
	URL            string            `yaml:"url" json:"url"`
	Headers        map[string]string `yaml:"headers" json:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// RuntimeConfig holds process-wide paths.
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// ResolvePath picks the configuration path: explicit flag, then
// SOLAGENT_CONFIG, then DefaultPath.
func ResolvePath(flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv(EnvConfigPath)); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads a YAML or JSON configuration file, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(content, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a validated configuration without reading a file.
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// Parse decodes content as JSON when ext is ".json" and as YAML otherwise.
func Parse(content []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	}
	return &cfg, nil
}

// apiKeyEnvByDialect names the environment variable read for each dialect.
var apiKeyEnvByDialect = map[string]string{
	"grok3":     "GROK3_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path != "" && !filepath.IsAbs(c.Log.Audit.Path) {
		c.Log.Audit.Path = filepath.Join(baseDir, c.Log.Audit.Path)
	}

	if len(c.LLM.Backends) == 0 {
		c.LLM.Backends = []BackendConfig{{ID: "grok3", Dialect: "grok3"}}
	}
	for i := range c.LLM.Backends {
		b := &c.LLM.Backends[i]
		b.Dialect = strings.ToLower(strings.TrimSpace(b.Dialect))
		if b.Dialect == "" {
			b.Dialect = "openai"
		}
		if b.ID == "" {
			b.ID = b.Dialect
		}
		if b.Provider == "" {
			switch b.Dialect {
			case "gemini":
				b.Provider = ProviderGemini
			case "anthropic":
				b.Provider = ProviderAnthropic
			default:
				b.Provider = ProviderOpenAI
			}
		}
		if b.APIKeyEnv == "" {
			b.APIKeyEnv = apiKeyEnvByDialect[b.Dialect]
		}
		if b.Provider == ProviderPythonBridge {
			if b.Python.PythonExecutable == "" {
				b.Python.PythonExecutable = "python3"
			}
			if b.Python.WorkingDir == "" {
				b.Python.WorkingDir = baseDir
			} else if !filepath.IsAbs(b.Python.WorkingDir) {
				b.Python.WorkingDir = filepath.Join(baseDir, b.Python.WorkingDir)
			}
		}
	}

	if c.Agent.Backend == "" {
		c.Agent.Backend = c.LLM.Backends[0].ID
	}
	if c.Agent.CompletionTimeoutSeconds <= 0 {
		c.Agent.CompletionTimeoutSeconds = 60
	}
	if len(c.Agent.Capabilities) == 0 {
		c.Agent.Capabilities = []string{"balance", "staking", "token_accounts", "tps"}
	}

	if v := strings.TrimSpace(os.Getenv(EnvSolanaRPCURL)); v != "" {
		c.Web3.RPCURL = v
	}
	if c.Web3.RPCURL == "" {
		c.Web3.RPCURL = DefaultSolanaRPCURL
	}
	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Storage.History.Driver == "" {
		c.Storage.History.Driver = "memory"
	}
	if c.Storage.History.Redis.Prefix == "" {
		c.Storage.History.Redis.Prefix = "solagent:"
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 2
	}
	if c.TaskQueue.MaxRetries <= 0 {
		c.TaskQueue.MaxRetries = 1
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 1024
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// Validate rejects unknown drivers, dialects and dangling references.
func (c *Config) Validate() error {
	var errs []error

	ids := make(map[string]struct{}, len(c.LLM.Backends))
	for _, b := range c.LLM.Backends {
		if _, dup := ids[b.ID]; dup {
			errs = append(errs, fmt.Errorf("llm backend %q is defined twice", b.ID))
		}
		ids[b.ID] = struct{}{}
		if _, ok := apiKeyEnvByDialect[b.Dialect]; !ok {
			errs = append(errs, fmt.Errorf("llm backend %q has unknown dialect %q", b.ID, b.Dialect))
		}
		switch b.Provider {
		case ProviderOpenAI:
			if b.Dialect != "openai" && b.Dialect != "grok3" {
				errs = append(errs, fmt.Errorf("llm backend %q: provider openai cannot speak dialect %q", b.ID, b.Dialect))
			}
		case ProviderGemini, ProviderAnthropic:
			if b.Dialect != b.Provider {
				errs = append(errs, fmt.Errorf("llm backend %q: provider %s cannot speak dialect %q", b.ID, b.Provider, b.Dialect))
			}
		case ProviderPythonBridge:
			if b.Python.ScriptPath == "" {
				errs = append(errs, fmt.Errorf("llm backend %q: python_bridge.script_path is required", b.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("llm backend %q has unknown provider %q", b.ID, b.Provider))
		}
	}
	if _, ok := ids[c.Agent.Backend]; !ok {
		errs = append(errs, fmt.Errorf("agent.backend %q is not a configured llm backend", c.Agent.Backend))
	}

	switch c.Storage.History.Driver {
	case "memory":
	case "mysql":
		if c.Storage.History.DSN == "" {
			errs = append(errs, errors.New("storage.history.dsn is required for the mysql driver"))
		}
	case "redis":
		if c.Storage.History.Redis.Address == "" {
			errs = append(errs, errors.New("storage.history.redis.address is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.history.driver %q", c.Storage.History.Driver))
	}

	switch c.TaskQueue.Driver {
	case "memory":
	case "redis":
		if c.TaskQueue.Redis.Address == "" {
			errs = append(errs, errors.New("task_queue.redis.address is required for the redis driver"))
		}
	case "rabbitmq":
		if c.TaskQueue.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("task_queue.rabbitmq.url is required for the rabbitmq driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown task_queue.driver %q", c.TaskQueue.Driver))
	}

	switch c.Auth.Mode {
	case "disabled":
	case "api_key":
		if len(c.Auth.Keys) == 0 {
			errs = append(errs, errors.New("auth.keys must not be empty in api_key mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth.mode %q", c.Auth.Mode))
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		errs = append(errs, errors.New("log.audit.path is required when the audit log is enabled"))
	}

	return errors.Join(errs...)
}
