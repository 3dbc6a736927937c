package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"solagent/internal/agent"
	"solagent/internal/auth"
	"solagent/internal/capability"
	xerrors "solagent/internal/errors"
	"solagent/internal/observability/metrics"
	"solagent/internal/storage"
	"solagent/internal/task"
	"solagent/internal/web3"
	"solagent/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Agent is the part of *agent.Agent the server drives.
type Agent interface {
	Execute(ctx context.Context, req agent.TaskRequest) (*agent.TaskResult, error)
	ListHistory(ctx context.Context, limit int) ([]storage.Record, error)
	Context() map[string]string
	Capabilities() []capability.Descriptor
}

// ChainInspector reports the state of configured chains.
type ChainInspector interface {
	Snapshots(ctx context.Context) ([]web3.ChainSnapshot, error)
}

// Server exposes the REST API.
type Server struct {
	addr            string
	agent           Agent
	tasks           *task.Service
	chains          ChainInspector
	auth            *auth.Service
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithChains adds chain snapshots to /healthz.
func WithChains(chains ChainInspector) Option {
	return func(s *Server) {
		s.chains = chains
	}
}

// WithAuth requires API keys on the /api/v1 routes.
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.shutdownTimeout = timeout
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer builds the API server. tasks may be nil, in which case the
// queued task routes answer 503.
func NewServer(addr string, ag Agent, tasks *task.Service, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		agent:           ag,
		tasks:           tasks,
		logger:          logger.Named("api"),
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/tasks/execute", "execute", auth.PermissionExecute, s.handleExecute)
	s.route(mux, "POST /api/v1/tasks", "submit", auth.PermissionSubmit, s.handleSubmit)
	s.route(mux, "GET /api/v1/tasks", "list_tasks", auth.PermissionRead, s.handleListTasks)
	s.route(mux, "GET /api/v1/tasks/stats", "task_stats", auth.PermissionRead, s.handleTaskStats)
	s.route(mux, "GET /api/v1/tasks/{id}", "task_detail", auth.PermissionRead, s.handleTaskDetail)
	s.route(mux, "GET /api/v1/capabilities", "capabilities", auth.PermissionRead, s.handleCapabilities)
	s.route(mux, "GET /api/v1/context", "context", auth.PermissionRead, s.handleContext)
	s.route(mux, "GET /api/v1/history", "history", auth.PermissionRead, s.handleHistory)
	s.route(mux, "GET /healthz", "healthz", "", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("api listening", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// route registers h under pattern. A non-empty permission puts the handler
// behind the auth middleware.
func (s *Server) route(mux *http.ServeMux, pattern, name, permission string, h http.HandlerFunc) {
	var handler http.Handler = h
	if permission != "" && s.auth != nil {
		handler = s.auth.Middleware(auth.MiddlewareConfig{
			RequiredPermissions: map[string][]string{"*": {permission}},
			AuditEvent:          name,
		})(handler)
	}
	mux.Handle(pattern, instrument(name, handler))
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "agent is not initialised"))
		return
	}
	var req agent.TaskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := s.agent.Execute(r.Context(), req)
	if err != nil {
		s.logger.Warn("execute task",
			slog.String("task", req.Task),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "task queue is not configured"))
		return
	}
	var sub task.Submission
	if err := decodeBody(r, &sub); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.tasks.Submit(r.Context(), sub)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "task queue is not configured"))
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "task queue is not configured"))
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "task queue is not configured"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "task id is required"))
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	if s.agent == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "agent is not initialised"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"capabilities": s.agent.Capabilities()})
}

func (s *Server) handleContext(w http.ResponseWriter, _ *http.Request) {
	if s.agent == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "agent is not initialised"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"context": s.agent.Context()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "agent is not initialised"))
		return
	}
	limit, err := intParam(r, "limit", storage.DefaultListLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := s.agent.ListHistory(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.chains != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		snapshots, err := s.chains.Snapshots(ctx)
		body["chains"] = snapshots
		if err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func listOptionsFromQuery(r *http.Request) ([]task.ListOption, error) {
	q := r.URL.Query()
	var opts []task.ListOption

	limit, err := intParam(r, "limit", 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		opts = append(opts, task.WithLimit(limit))
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.ToLower(strings.TrimSpace(part)))
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown status "+strconv.Quote(part))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if name := q.Get("task"); name != "" {
		opts = append(opts, task.WithTask(name))
	}
	if query := q.Get("q"); query != "" {
		opts = append(opts, task.WithQuery(query))
	}
	if raw := q.Get("has_result"); raw != "" {
		hasResult, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_result must be a boolean")
		}
		opts = append(opts, task.WithResultPresence(hasResult))
	}
	if strings.EqualFold(q.Get("order"), "asc") {
		opts = append(opts, task.WithOldestFirst())
	}
	for key, apply := range map[string]func(time.Time) task.ListOption{
		"updated_since": task.WithUpdatedSince,
		"updated_until": task.WithUpdatedUntil,
	} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		ts, err := parseTime(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, key+" must be RFC 3339 or unix seconds")
		}
		opts = append(opts, apply(ts))
	}
	return opts, nil
}

func parseTime(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func intParam(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, key+" must be a non-negative integer")
	}
	return v, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode request body")
	}
	return nil
}

type errorBody struct {
	Code     xerrors.Code      `json:"code"`
	Message  string            `json:"message"`
	Stage    string            `json:"stage,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: xerrors.CodeOf(err), Message: err.Error()}
	if e, ok := xerrors.From(err); ok {
		body.Stage = xerrors.StageOf(err)
		body.Metadata = e.Metadata()
	}
	writeJSON(w, statusFor(err), map[string]any{"error": body})
}

// statusFor maps an error code onto an HTTP status.
func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, xerrors.CodeCapabilityNotFound, xerrors.CodeBackendNotFound, task.CodeTaskNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeCompletionFailed, xerrors.CodeNormalizationFailed:
		return http.StatusBadGateway
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func instrument(name string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// withContext rejects requests once the root context is cancelled.
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
