package agent

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"solagent/internal/capability"
	xerrors "solagent/internal/errors"
	"solagent/internal/llm"
	"solagent/internal/memory"
	"solagent/internal/observability/metrics"
	"solagent/internal/storage"
	"solagent/pkg/logger"
)

// Pipeline stages, reported in error metadata and metrics.
const (
	StageResolve   = "resolve"
	StagePrompt    = "prompt"
	StageIdentify  = "identify"
	StageComplete  = "complete"
	StageNormalize = "normalize"
	StageExecute   = "execute"
	StageArchive   = "archive"
	StageRecord    = "record"
)

// TaskRequest names a capability and carries its JSON input.
type TaskRequest struct {
	ID    string          `json:"id,omitempty"`
	Task  string          `json:"task"`
	Input json.RawMessage `json:"input,omitempty"`
}

// TaskResult describes a completed execution.
type TaskResult struct {
	ID           string          `json:"id"`
	Task         string          `json:"task"`
	Capability   string          `json:"capability"`
	Backend      string          `json:"backend"`
	InvocationID string          `json:"invocation_id,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	Output       string          `json:"output"`
	Direct       bool            `json:"direct,omitempty"`
	CreatedAt    int64           `json:"created_at"`
}

// Agent runs the dispatch pipeline: resolve, prompt, identify backend,
// complete, normalize, execute, archive, record.
type Agent struct {
	capabilities      *capability.Registry
	backends          *llm.Registry
	context           *memory.Store
	normalizer        *llm.Normalizer
	history           storage.HistoryRepository
	defaultBackend    string
	completionTimeout time.Duration
	logger            *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithCompletionTimeout bounds every backend call. Zero disables the bound.
func WithCompletionTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout < 0 {
			timeout = 0
		}
		a.completionTimeout = timeout
	}
}

// WithHistory archives every successful execution.
func WithHistory(repo storage.HistoryRepository) Option {
	return func(a *Agent) { a.history = repo }
}

func WithNormalizer(n *llm.Normalizer) Option {
	return func(a *Agent) {
		if n != nil {
			a.normalizer = n
		}
	}
}

// WithDefaultBackend is used for descriptors that name no backend.
func WithDefaultBackend(id string) Option {
	return func(a *Agent) { a.defaultBackend = strings.TrimSpace(id) }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// New wires an Agent around explicitly owned registries and context store.
func New(capabilities *capability.Registry, backends *llm.Registry, store *memory.Store, opts ...Option) *Agent {
	ag := &Agent{
		capabilities: capabilities,
		backends:     backends,
		context:      store,
		normalizer:   llm.NewNormalizer(),
		logger:       logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.context == nil {
		ag.context = memory.NewStore()
	}
	return ag
}

// ExecuteTask runs the pipeline and returns only the textual result.
func (a *Agent) ExecuteTask(ctx context.Context, name string, input json.RawMessage) (string, error) {
	res, err := a.Execute(ctx, TaskRequest{Task: name, Input: input})
	if err != nil {
		return "", err
	}
	return res.Output, nil
}

// Execute runs the pipeline for req. Any failure aborts the remaining stages
// and leaves the conversation context untouched.
func (a *Agent) Execute(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	if a.capabilities == nil || a.backends == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "agent is missing its registries")
	}
	req.Task = strings.TrimSpace(req.Task)
	if req.Task == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "task name is required")
	}
	input, err := compactInput(req.Input)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "task input must be JSON", xerrors.WithMetadata("task", req.Task))
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := a.logger.With("task", req.Task, "task_id", req.ID)

	// 1. resolve
	entry, ok := a.capabilities.Resolve(req.Task)
	if !ok {
		return nil, a.fail(log, req.Task, StageResolve, xerrors.New(xerrors.CodeCapabilityNotFound,
			"no capability named "+req.Task, xerrors.WithMetadata("task", req.Task)))
	}

	// 2. prompt
	prompt := ComposePrompt(req.Task, input, a.context.Snapshot())

	// 3. identify backend
	backendID := entry.Descriptor.Backend
	if backendID == "" {
		backendID = a.defaultBackend
	}
	backend, ok := a.backends.Get(backendID)
	if !ok {
		return nil, a.fail(log, entry.Descriptor.Name, StageIdentify, xerrors.New(xerrors.CodeBackendNotFound,
			"unknown backend "+backendID, xerrors.WithMetadata("backend", backendID)))
	}

	// 4. complete
	resp, err := a.complete(ctx, backendID, prompt)
	if err != nil {
		return nil, a.fail(log, entry.Descriptor.Name, StageComplete, err)
	}

	// 5. normalize
	extraction, err := a.normalizer.Extract(resp.Raw, resp.Dialect)
	if err != nil {
		return nil, a.fail(log, entry.Descriptor.Name, StageNormalize, err)
	}

	result := &TaskResult{
		ID:         req.ID,
		Task:       req.Task,
		Capability: entry.Descriptor.Name,
		Backend:    backendID,
		CreatedAt:  time.Now().Unix(),
	}

	if !extraction.HasInvocation() {
		result.Output = extraction.Answer
		result.Direct = true
	} else {
		// 6. execute
		inv := extraction.Invocation
		if !invokes(entry.Descriptor, inv.Name) {
			log.Warn("backend invocation names another capability; running the resolved one",
				"capability", entry.Descriptor.Name, "invocation", inv.Name)
		}
		params := inv.Arguments
		if len(params) == 0 {
			params = input
		}
		if err := entry.Validate(params); err != nil {
			return nil, a.fail(log, entry.Descriptor.Name, StageNormalize, xerrors.Wrap(xerrors.CodeNormalizationFailed, err,
				"invocation arguments do not match the capability schema", xerrors.WithMetadata("capability", entry.Descriptor.Name)))
		}

		start := time.Now()
		output, err := entry.Impl.Execute(ctx, params, backend)
		if err != nil {
			metrics.ObserveCapability(entry.Descriptor.Name, "error", time.Since(start))
			return nil, a.fail(log, entry.Descriptor.Name, StageExecute, xerrors.Wrap(xerrors.CodeExecutionFailed, err,
				"capability "+entry.Descriptor.Name+" failed", xerrors.WithMetadata("capability", entry.Descriptor.Name)))
		}
		metrics.ObserveCapability(entry.Descriptor.Name, "ok", time.Since(start))

		result.InvocationID = inv.ID
		result.Arguments = params
		result.Output = output
	}

	// 7. archive
	if a.history != nil {
		if err := a.history.Save(ctx, toRecord(result, input)); err != nil {
			return nil, a.fail(log, result.Capability, StageArchive, xerrors.Wrap(xerrors.CodeStorageFailure, err, "archive execution"))
		}
	}

	// 8. record
	a.context.Record(req.Task, result.Output)

	metrics.ObserveTask(result.Capability, StageRecord, "succeeded")
	logger.Audit().Info("task executed",
		"task_id", result.ID,
		"task", result.Task,
		"capability", result.Capability,
		"backend", result.Backend,
		"direct", result.Direct,
	)
	return result, nil
}

func (a *Agent) complete(ctx context.Context, backendID, prompt string) (*llm.Response, error) {
	callCtx := ctx
	if a.completionTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.completionTimeout)
		defer cancel()
	}

	resp, err := a.backends.CallByName(callCtx, backendID, prompt, a.tools())
	if err == nil {
		return resp, nil
	}
	if _, coded := xerrors.From(err); coded {
		return nil, err
	}
	opts := []xerrors.Option{xerrors.WithMetadata("backend", backendID)}
	if kind := llm.KindOf(err); kind != "" {
		opts = append(opts, xerrors.WithMetadata("kind", string(kind)))
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		opts = append(opts, xerrors.WithMetadata("timeout", "true"))
		return nil, xerrors.Wrap(xerrors.CodeCompletionFailed, err, "completion timed out", opts...)
	}
	if llm.KindOf(err) == llm.KindBackend {
		opts = append(opts, xerrors.WithRetryable(false))
	}
	return nil, xerrors.Wrap(xerrors.CodeCompletionFailed, err, "completion failed", opts...)
}

func (a *Agent) tools() []llm.Tool {
	descs := a.capabilities.Descriptors()
	tools := make([]llm.Tool, 0, len(descs))
	for _, d := range descs {
		tools = append(tools, d.Tool())
	}
	return tools
}

// invokes reports whether name identifies desc by name or alias.
func invokes(desc capability.Descriptor, name string) bool {
	return name == desc.Name || desc.HasAlias(name)
}

func (a *Agent) fail(log *slog.Logger, capabilityName, stage string, err error) error {
	if e, ok := xerrors.From(err); ok && e.Metadata()[xerrors.MetaStage] == "" {
		err = xerrors.Wrap(e.Code(), e.Unwrap(), e.Message(), append(metadataOptions(e), xerrors.WithStage(stage))...)
	}
	metrics.ObserveTask(capabilityName, stage, "failed")
	log.Warn("task failed", "stage", stage, "error_code", string(xerrors.CodeOf(err)), "error", err)
	return err
}

func metadataOptions(e *xerrors.Error) []xerrors.Option {
	md := e.Metadata()
	opts := make([]xerrors.Option, 0, len(md)+1)
	for k, v := range md {
		opts = append(opts, xerrors.WithMetadata(k, v))
	}
	opts = append(opts, xerrors.WithRetryable(e.Retryable()))
	return opts
}

// ListHistory returns archived executions, newest first.
func (a *Agent) ListHistory(ctx context.Context, limit int) ([]storage.Record, error) {
	if a.history == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "history archive is not configured")
	}
	records, err := a.history.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list history")
	}
	return records, nil
}

// Context returns a copy of the conversation context.
func (a *Agent) Context() map[string]string {
	return a.context.Snapshot()
}

// Capabilities lists registered descriptors in registration order.
func (a *Agent) Capabilities() []capability.Descriptor {
	return a.capabilities.Descriptors()
}

const contextValueLimit = 280

// ComposePrompt renders the deterministic prompt sent to backends. Context
// lines are sorted by key and long values truncated.
func ComposePrompt(task string, input json.RawMessage, snapshot map[string]string) string {
	var b strings.Builder
	b.WriteString("Execute task: ")
	b.WriteString(task)
	b.WriteString("\nInput: ")
	if len(input) == 0 {
		b.WriteString("{}")
	} else {
		b.Write(input)
	}
	if len(snapshot) == 0 {
		b.WriteString("\nContext: (empty)")
		return b.String()
	}
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("\nContext:")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s: %s", k, truncate(snapshot[k], contextValueLimit))
	}
	return b.String()
}

func compactInput(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncate(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return text
}

func toRecord(res *TaskResult, input json.RawMessage) storage.Record {
	return storage.Record{
		ID:           res.ID,
		Task:         res.Task,
		Capability:   res.Capability,
		Backend:      res.Backend,
		InvocationID: res.InvocationID,
		Input:        string(input),
		Arguments:    string(res.Arguments),
		Result:       res.Output,
		Direct:       res.Direct,
		CreatedAt:    res.CreatedAt,
	}
}
