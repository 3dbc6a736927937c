package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"solagent/internal/agent"
	"solagent/internal/auth"
	"solagent/internal/capability"
	xerrors "solagent/internal/errors"
	"solagent/internal/storage"
	"solagent/internal/task"
	"solagent/internal/web3"
)

type stubAgent struct {
	lastRequest agent.TaskRequest
	err         error
}

func (s *stubAgent) Execute(_ context.Context, req agent.TaskRequest) (*agent.TaskResult, error) {
	s.lastRequest = req
	if s.err != nil {
		return nil, s.err
	}
	return &agent.TaskResult{ID: "exec-1", Task: req.Task, Capability: "get_balance", Backend: "grok3", Output: `{"sol":1.5}`}, nil
}

func (s *stubAgent) ListHistory(_ context.Context, limit int) ([]storage.Record, error) {
	return []storage.Record{{ID: "h1", Task: "get_balance", Result: "ok"}}[:min(limit, 1)], nil
}

func (s *stubAgent) Context() map[string]string {
	return map[string]string{"get_balance": `{"sol":1.5}`}
}

func (s *stubAgent) Capabilities() []capability.Descriptor {
	return []capability.Descriptor{{Name: "get_balance", Aliases: []string{"balance"}, Version: "1.0.0"}}
}

type stubChains struct {
	err error
}

func (s stubChains) Snapshots(context.Context) ([]web3.ChainSnapshot, error) {
	return []web3.ChainSnapshot{{Chain: "devnet", Type: web3.TypeSolana, Height: 42}}, s.err
}

func newTestServer(t *testing.T, ag Agent, opts ...Option) (*httptest.Server, *task.Service) {
	t.Helper()
	svc := task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(16), 2)
	srv := httptest.NewServer(NewServer(":0", ag, svc, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv, svc
}

func doJSON(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, decoded
}

func TestExecuteTask(t *testing.T) {
	ag := &stubAgent{}
	srv, _ := newTestServer(t, ag)

	code, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks/execute", `{"task":"balance","input":{"pubkey":"abc"}}`)
	if code != http.StatusOK {
		t.Fatalf("unexpected status %d: %v", code, body)
	}
	if body["capability"] != "get_balance" || body["output"] != `{"sol":1.5}` {
		t.Fatalf("unexpected body %v", body)
	}
	if ag.lastRequest.Task != "balance" || string(ag.lastRequest.Input) != `{"pubkey":"abc"}` {
		t.Fatalf("unexpected request %+v", ag.lastRequest)
	}
}

func TestExecuteTaskErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		body   string
		status int
		code   string
	}{
		{"bad body", nil, `{"task":`, http.StatusBadRequest, string(xerrors.CodeInvalidArgument)},
		{"unknown capability", xerrors.New(xerrors.CodeCapabilityNotFound, "capability mint not found", xerrors.WithStage("resolve")), `{"task":"mint"}`, http.StatusNotFound, string(xerrors.CodeCapabilityNotFound)},
		{"backend failure", xerrors.New(xerrors.CodeCompletionFailed, "upstream 500"), `{"task":"get_tps"}`, http.StatusBadGateway, string(xerrors.CodeCompletionFailed)},
		{"execution failure", xerrors.New(xerrors.CodeExecutionFailed, "rpc down"), `{"task":"get_tps"}`, http.StatusInternalServerError, string(xerrors.CodeExecutionFailed)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &stubAgent{err: tc.err})
			code, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks/execute", tc.body)
			if code != tc.status {
				t.Fatalf("expected %d, got %d (%v)", tc.status, code, body)
			}
			errBody, _ := body["error"].(map[string]any)
			if errBody["code"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, errBody)
			}
		})
	}

	srv, _ := newTestServer(t, &stubAgent{err: xerrors.New(xerrors.CodeCapabilityNotFound, "x", xerrors.WithStage("resolve"))})
	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks/execute", `{"task":"x"}`)
	if errBody := body["error"].(map[string]any); errBody["stage"] != "resolve" {
		t.Fatalf("expected stage in error body, got %v", errBody)
	}
}

func TestSubmitAndInspectTask(t *testing.T) {
	srv, _ := newTestServer(t, &stubAgent{})

	code, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", `{"id":"t-1","task":"get_balance","input":{"pubkey":"abc"}}`)
	if code != http.StatusAccepted {
		t.Fatalf("unexpected submit status %d: %v", code, body)
	}
	if body["id"] != "t-1" || body["status"] != string(task.StatusPending) {
		t.Fatalf("unexpected submit body %v", body)
	}

	code, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/t-1", "")
	if code != http.StatusOK || body["task"] != "get_balance" {
		t.Fatalf("unexpected detail %d %v", code, body)
	}

	code, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/missing", "")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %v", code, body)
	}

	code, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks?status=pending&task=get_balance", "")
	if code != http.StatusOK {
		t.Fatalf("unexpected list status %d", code)
	}
	if list, _ := body["tasks"].([]any); len(list) != 1 {
		t.Fatalf("unexpected list %v", body)
	}

	code, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks?status=exploded", "")
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", code)
	}

	code, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/stats", "")
	if code != http.StatusOK || body["total"] != float64(1) || body["pending"] != float64(1) {
		t.Fatalf("unexpected stats %d %v", code, body)
	}

	code, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/tasks", `{"task":""}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty task, got %d %v", code, body)
	}
}

func TestTaskRoutesWithoutQueue(t *testing.T) {
	srv := httptest.NewServer(NewServer(":0", &stubAgent{}, nil).Handler())
	defer srv.Close()

	code, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/any", "")
	if code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}

func TestDiscoveryRoutes(t *testing.T) {
	srv, _ := newTestServer(t, &stubAgent{})

	code, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/capabilities", "")
	caps, _ := body["capabilities"].([]any)
	if code != http.StatusOK || len(caps) != 1 {
		t.Fatalf("unexpected capabilities %d %v", code, body)
	}

	code, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/context", "")
	ctxBody, _ := body["context"].(map[string]any)
	if code != http.StatusOK || ctxBody["get_balance"] != `{"sol":1.5}` {
		t.Fatalf("unexpected context %d %v", code, body)
	}

	code, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/history?limit=5", "")
	history, _ := body["history"].([]any)
	if code != http.StatusOK || len(history) != 1 {
		t.Fatalf("unexpected history %d %v", code, body)
	}

	code, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/history?limit=abc", "")
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", code)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &stubAgent{}, WithChains(stubChains{}))
	code, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", "")
	chains, _ := body["chains"].([]any)
	if code != http.StatusOK || body["status"] != "ok" || len(chains) != 1 {
		t.Fatalf("unexpected health %d %v", code, body)
	}

	degraded, _ := newTestServer(t, &stubAgent{}, WithChains(stubChains{err: errors.New("devnet: connection refused")}))
	code, body = doJSON(t, http.MethodGet, degraded.URL+"/healthz", "")
	if code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("unexpected degraded health %d %v", code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubAgent{})
	doJSON(t, http.MethodGet, srv.URL+"/api/v1/capabilities", "")

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(buf.String(), `solagent_http_requests_total{code="200",handler="capabilities",method="GET"}`) {
		t.Fatalf("request metric missing from exposition")
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[xerrors.Code]int{
		xerrors.CodeInvalidArgument:       http.StatusBadRequest,
		task.CodeTaskValidation:           http.StatusBadRequest,
		xerrors.CodeBackendNotFound:       http.StatusNotFound,
		task.CodeTaskNotFound:             http.StatusNotFound,
		xerrors.CodeConflict:              http.StatusConflict,
		xerrors.CodeNormalizationFailed:   http.StatusBadGateway,
		xerrors.CodeTimeout:               http.StatusGatewayTimeout,
		xerrors.CodeInitializationFailure: http.StatusServiceUnavailable,
		xerrors.CodeStorageFailure:        http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusFor(xerrors.New(code, "x")); got != want {
			t.Errorf("%s: expected %d, got %d", code, want, got)
		}
	}
	if got := statusFor(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("plain error: expected 500, got %d", got)
	}
}

func TestAuthProtectsAPIRoutes(t *testing.T) {
	svc, err := auth.NewService(auth.Config{
		Mode: auth.ModeAPIKey,
		Keys: []auth.KeyConfig{{Name: "reader", Key: "read-only", Permissions: []string{auth.PermissionRead}}},
	}, nil)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	srv, _ := newTestServer(t, &stubAgent{}, WithAuth(svc))

	resp, err := http.Get(srv.URL + "/api/v1/capabilities")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/capabilities", nil)
	req.Header.Set("Authorization", "Bearer read-only")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get with key: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with read key, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/api/v1/tasks/execute", strings.NewReader(`{"task":"get_tps"}`))
	req.Header.Set("Authorization", "Bearer read-only")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post with key: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for execute with read key, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz must stay public, got %d", resp.StatusCode)
	}
}
