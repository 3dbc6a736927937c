package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"solagent/internal/llm"
)

// Client runs a local script as a completion backend. The script reads a JSON
// request from stdin and prints a provider response in the configured dialect.
type Client struct {
	name       string
	dialect    string
	pythonExec string
	scriptPath string
	workingDir string
}

var _ llm.Backend = (*Client)(nil)

// Config locates the interpreter and script.
type Config struct {
	Name       string
	Dialect    string
	PythonExec string
	ScriptPath string
	WorkingDir string
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.ScriptPath == "" {
		return nil, errors.New("pythonbridge: script path is required")
	}
	c := &Client{
		name:       cfg.Name,
		dialect:    strings.ToLower(cfg.Dialect),
		pythonExec: cfg.PythonExec,
		scriptPath: cfg.ScriptPath,
		workingDir: cfg.WorkingDir,
	}
	if c.name == "" {
		c.name = "pythonbridge"
	}
	if c.dialect == "" {
		c.dialect = llm.DialectOpenAI
	}
	if c.pythonExec == "" {
		c.pythonExec = "python3"
	}
	return c, nil
}

func (c *Client) Name() string    { return c.name }
func (c *Client) Dialect() string { return c.dialect }

// Complete runs the script once per call. A non-zero exit is reported as a
// backend error; a killed process or unparsable stdout as a transport error.
func (c *Client) Complete(ctx context.Context, prompt string, tools []llm.Tool) (*llm.Response, error) {
	encoded, err := json.Marshal(map[string]any{
		"prompt":    prompt,
		"tools":     tools,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode bridge request: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, llm.TransportError(c.name, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, llm.BackendError(c.name, 0, fmt.Sprintf("script exited with %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String())))
		}
		return nil, llm.TransportError(c.name, err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if !json.Valid(out) {
		return nil, llm.TransportError(c.name, fmt.Errorf("%w: script output is not JSON", llm.ErrMalformedResponse))
	}
	return &llm.Response{Backend: c.name, Dialect: c.dialect, Raw: json.RawMessage(out)}, nil
}

// ResolveScriptPath joins a relative script path onto baseDir.
func ResolveScriptPath(baseDir, script string) string {
	if script == "" || filepath.IsAbs(script) || baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
