package auth

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestService(t *testing.T, audit *slog.Logger) *Service {
	t.Helper()
	t.Setenv("SOLAGENT_READER_KEY", "reader-secret")
	svc, err := NewService(Config{
		Mode: ModeAPIKey,
		Keys: []KeyConfig{
			{Name: "ops", Key: "ops-secret", Permissions: []string{PermissionAll}},
			{Name: "reader", KeyEnv: "SOLAGENT_READER_KEY", Permissions: []string{PermissionRead}},
		},
	}, audit)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestAuthenticateRequest(t *testing.T) {
	svc := newTestService(t, nil)

	subject, err := svc.AuthenticateRequest("Bearer reader-secret")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject.Name != "reader" || !subject.HasPermission(PermissionRead) || subject.HasPermission(PermissionExecute) {
		t.Fatalf("unexpected subject %+v", subject)
	}
	if !errors.Is(subject.Authorize(PermissionSubmit), ErrPermissionDenied) {
		t.Fatalf("expected permission denied")
	}

	ops, err := svc.AuthenticateRequest("Bearer ops-secret")
	if err != nil || ops.Authorize(PermissionExecute, PermissionSubmit) != nil {
		t.Fatalf("wildcard subject should hold every permission: %v", err)
	}

	if _, err := svc.AuthenticateRequest(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
	if _, err := svc.AuthenticateRequest("Basic b3BzOnNlY3JldA=="); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token for non-bearer scheme, got %v", err)
	}
	if _, err := svc.AuthenticateRequest("Bearer nope"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestNewServiceValidation(t *testing.T) {
	if svc, err := NewService(Config{}, nil); err != nil || svc.Mode() != ModeDisabled {
		t.Fatalf("empty config should disable auth: %v", err)
	}
	if _, err := NewService(Config{Mode: "oauth"}, nil); err == nil {
		t.Fatalf("expected unknown mode error")
	}
	if _, err := NewService(Config{Mode: ModeAPIKey}, nil); err == nil {
		t.Fatalf("expected error without keys")
	}
	t.Setenv("SOLAGENT_EMPTY_KEY", "")
	if _, err := NewService(Config{Mode: ModeAPIKey, Keys: []KeyConfig{{Name: "a", KeyEnv: "SOLAGENT_EMPTY_KEY"}}}, nil); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := NewService(Config{Mode: ModeAPIKey, Keys: []KeyConfig{{Name: "a", Key: "x"}, {Name: "a", Key: "y"}}}, nil); err == nil {
		t.Fatalf("expected duplicate name error")
	}
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	audit := slog.New(slog.NewJSONHandler(&buf, nil))
	svc := newTestService(t, audit)

	var seen *Subject
	handler := svc.Middleware(MiddlewareConfig{RequiredPermissions: map[string][]string{
		http.MethodPost: {PermissionExecute},
		"*":             {PermissionRead},
	}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		method string
		token  string
		status int
	}{
		{http.MethodGet, "", http.StatusUnauthorized},
		{http.MethodGet, "Bearer reader-secret", http.StatusNoContent},
		{http.MethodPost, "Bearer reader-secret", http.StatusForbidden},
		{http.MethodPost, "Bearer ops-secret", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/api/v1/tasks", nil)
		if tc.token != "" {
			req.Header.Set("Authorization", tc.token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("%s with %q: expected %d, got %d", tc.method, tc.token, tc.status, rec.Code)
		}
	}
	if seen == nil || seen.Name != "ops" {
		t.Fatalf("subject not propagated: %+v", seen)
	}
	logs := buf.String()
	if !strings.Contains(logs, "access_denied") || !strings.Contains(logs, "permission_denied") || !strings.Contains(logs, `"subject":"ops"`) {
		t.Fatalf("audit log incomplete: %s", logs)
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	svc, _ := NewService(Config{Mode: ModeDisabled}, nil)
	handler := svc.Middleware(MiddlewareConfig{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("disabled auth should pass through, got %d", rec.Code)
	}
}
