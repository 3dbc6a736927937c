// Package rpctest provides an in-process JSON-RPC 2.0 node for tests that
// exercise the chain clients.
package rpctest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Handler answers one JSON-RPC method. Returning an *Error produces a
// JSON-RPC error object.
type Handler func(params []json.RawMessage) (any, error)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Server is a JSON-RPC node backed by httptest.
type Server struct {
	URL string

	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string][]json.RawMessage
}

type request struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type response struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewServer starts a node that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{handlers: map[string]Handler{}, calls: map[string][]json.RawMessage{}}
	srv := httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(srv.Close)
	s.URL = srv.URL
	return s
}

// Handle registers fn for method.
func (s *Server) Handle(method string, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

// Result registers a method that always returns v.
func (s *Server) Result(method string, v any) {
	s.Handle(method, func([]json.RawMessage) (any, error) { return v, nil })
}

// Calls returns how many times method was invoked.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls[method])
}

// LastParams returns the raw params array of the latest call to method.
func (s *Server) LastParams(method string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := s.calls[method]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	raw, _ := json.Marshal(req.Params)

	s.mu.Lock()
	s.calls[req.Method] = append(s.calls[req.Method], raw)
	handler := s.handlers[req.Method]
	s.mu.Unlock()

	resp := response{Version: "2.0", ID: req.ID}
	if handler == nil {
		resp.Error = &Error{Code: -32601, Message: "Method not found"}
	} else if result, err := handler(req.Params); err != nil {
		rpcErr, ok := err.(*Error)
		if !ok {
			rpcErr = &Error{Code: -32603, Message: err.Error()}
		}
		resp.Error = rpcErr
	} else if encoded, err := json.Marshal(result); err != nil {
		resp.Error = &Error{Code: -32603, Message: err.Error()}
	} else {
		resp.Result = encoded
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
