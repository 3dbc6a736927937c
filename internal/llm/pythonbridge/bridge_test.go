package pythonbridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"solagent/internal/llm"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestCompleteReturnsScriptOutput(t *testing.T) {
	script := writeScript(t, "cat >/dev/null\nprintf '%s' '{\"choices\":[{\"message\":{\"content\":\"hi\"}}]}'\n")
	client, err := NewClient(Config{PythonExec: "sh", ScriptPath: script})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := client.Complete(context.Background(), "Execute task: x", []llm.Tool{{Name: "x"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := llm.NewNormalizer().Extract(resp.Raw, resp.Dialect)
	if err != nil || out.Answer != "hi" {
		t.Fatalf("unexpected extraction %+v %v", out, err)
	}
}

func TestCompleteScriptFailure(t *testing.T) {
	script := writeScript(t, "echo broken >&2\nexit 3\n")
	client, _ := NewClient(Config{PythonExec: "sh", ScriptPath: script})
	_, err := client.Complete(context.Background(), "p", nil)
	if llm.KindOf(err) != llm.KindBackend {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestCompleteInvalidOutput(t *testing.T) {
	script := writeScript(t, "echo not-json\n")
	client, _ := NewClient(Config{PythonExec: "sh", ScriptPath: script})
	_, err := client.Complete(context.Background(), "p", nil)
	if llm.KindOf(err) != llm.KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestResolveScriptPath(t *testing.T) {
	if got := ResolveScriptPath("/srv", "bridge.py"); got != filepath.Join("/srv", "bridge.py") {
		t.Fatalf("unexpected path %s", got)
	}
	if got := ResolveScriptPath("/srv", "/abs/bridge.py"); got != "/abs/bridge.py" {
		t.Fatalf("unexpected path %s", got)
	}
}
