package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"solagent/internal/llm"
)

func TestCompleteHeadersAndTools(t *testing.T) {
	var (
		apiKey, version string
		body            struct {
			Model string `json:"model"`
			Tools []struct {
				Name        string         `json:"name"`
				InputSchema map[string]any `json:"input_schema"`
			} `json:"tools"`
		}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("x-api-key")
		version = r.Header.Get("anthropic-version")
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"type":"message","content":[{"type":"tool_use","id":"t1","name":"get_balance","input":{"pubkey":"x"}}]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	resp, err := client.Complete(context.Background(), "p", []llm.Tool{{Name: "get_balance"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if apiKey != "k" || version != defaultVersion {
		t.Fatalf("unexpected headers key=%q version=%q", apiKey, version)
	}
	if body.Model != defaultModel || len(body.Tools) != 1 || body.Tools[0].InputSchema["type"] != "object" {
		t.Fatalf("unexpected payload %+v", body)
	}

	out, err := llm.NewNormalizer().Extract(resp.Raw, resp.Dialect)
	if err != nil || out.Invocation.Name != "get_balance" {
		t.Fatalf("round trip through normalizer failed: %+v %v", out, err)
	}
}

func TestCompleteReportsBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "k", BaseURL: srv.URL})
	client.httpClient = srv.Client()

	_, err := client.Complete(context.Background(), "p", nil)
	if llm.KindOf(err) != llm.KindBackend {
		t.Fatalf("expected backend error, got %v", err)
	}
}
