package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const errorBodyLimit = 2048

// PostJSON posts payload to endpoint and returns the response body.
//
// Network failures, unreadable bodies and non-JSON bodies are transport
// errors. Statuses >= 400 and bodies carrying a top-level "error" object are
// backend errors.
func PostJSON(ctx context.Context, client *http.Client, backend, endpoint string, headers map[string]string, payload any) (json.RawMessage, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", backend, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", backend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, TransportError(backend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, BackendError(backend, resp.StatusCode, errorMessage(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, TransportError(backend, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, TransportError(backend, fmt.Errorf("%w: body is not valid JSON", ErrMalformedResponse))
	}
	if e := gjson.GetBytes(body, "error"); e.IsObject() {
		return nil, BackendError(backend, resp.StatusCode, errorMessage(body))
	}
	return json.RawMessage(body), nil
}

func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			return msg.String()
		}
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return text
}
