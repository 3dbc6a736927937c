package solagent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecuteTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/tasks/execute" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Task  string          `json:"task"`
			Input json.RawMessage `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Task != "get_balance" || string(body.Input) != `{"pubkey":"abc"}` {
			t.Errorf("unexpected body %+v", body)
		}
		_ = json.NewEncoder(w).Encode(ExecutionResult{ID: "e1", Task: body.Task, Capability: "get_balance", Output: `{"sol":2}`})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	res, err := client.ExecuteTask(context.Background(), "get_balance", map[string]string{"pubkey": "abc"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Capability != "get_balance" || res.Output != `{"sol":2}` {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"CAPABILITY_NOT_FOUND","message":"capability mint not found","stage":"resolve"}}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.ExecuteTask(context.Background(), "mint", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "CAPABILITY_NOT_FOUND" || apiErr.Stage != "resolve" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestSubmitAndWaitForTask(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		var sub Submission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			t.Errorf("decode submission: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(Task{ID: "t-1", Task: sub.Task, Status: "pending", MaxRetries: 1})
	})
	mux.HandleFunc("GET /api/v1/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		task := Task{ID: r.PathValue("id"), Task: "get_tps", Status: "running"}
		if polls.Add(1) >= 3 {
			task.Status = "succeeded"
			task.Result = &TaskResult{Capability: "get_tps", Output: `{"tps":3000}`}
		}
		_ = json.NewEncoder(w).Encode(task)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	task, err := client.SubmitTask(ctx, Submission{Task: "get_tps"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if task.ID != "t-1" || task.Status != "pending" {
		t.Fatalf("unexpected submitted task %+v", task)
	}
	done, err := client.WaitForTask(ctx, task.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !done.Done() || done.Result == nil || done.Result.Output != `{"tps":3000}` {
		t.Fatalf("unexpected final task %+v", done)
	}
}

func TestListCapabilities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/capabilities" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"capabilities":[{"name":"get_balance","aliases":["balance"]},{"name":"get_tps"}]}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL+"/", srv.Client())
	caps, err := client.ListCapabilities(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(caps) != 2 || caps[0].Aliases[0] != "balance" {
		t.Fatalf("unexpected capabilities %+v", caps)
	}
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost:8080", nil); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
}

func TestAPIKeyIsSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"capabilities":[]}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	if _, err := client.ListCapabilities(context.Background()); err == nil {
		t.Fatalf("expected 401 without key")
	}
	client.SetAPIKey("k-123")
	if _, err := client.ListCapabilities(context.Background()); err != nil {
		t.Fatalf("list with key: %v", err)
	}
}
