package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesPipelineMetrics(t *testing.T) {
	ObserveHTTPRequest("/api/v1/tasks/execute", http.MethodPost, http.StatusBadGateway, 40*time.Millisecond)
	ObserveTask("get_balance", "record", "succeeded")
	ObserveBackendCall("grok3", "openai", "ok", 300*time.Millisecond)
	ObserveCapability("get_balance", "ok", 10*time.Millisecond)
	SetContextEntries(3)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`solagent_http_request_errors_total{handler="/api/v1/tasks/execute",method="POST"} 1`,
		`solagent_task_executions_total{capability="get_balance",stage="record",status="succeeded"} 1`,
		`solagent_backend_calls_total{backend="grok3",dialect="openai",outcome="ok"} 1`,
		`solagent_context_entries 3`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
