package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Mode selects whether requests are authenticated.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeAPIKey   Mode = "api_key"
)

// KeyConfig declares one API key. Key takes precedence over KeyEnv.
type KeyConfig struct {
	Name        string
	Key         string
	KeyEnv      string
	Permissions []string
}

// Config configures the Service.
type Config struct {
	Mode Mode
	Keys []KeyConfig
}

type credential struct {
	digest  [sha256.Size]byte
	subject Subject
}

// Service authenticates bearer tokens against the configured keys. Only
// digests of the keys are kept in memory.
type Service struct {
	mode        Mode
	credentials []credential
	audit       *slog.Logger
}

// NewService validates cfg. Keys whose value resolves empty are rejected.
func NewService(cfg Config, audit *slog.Logger) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	s := &Service{mode: mode, audit: audit}
	switch mode {
	case ModeDisabled:
		return s, nil
	case ModeAPIKey:
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}

	seen := make(map[string]struct{}, len(cfg.Keys))
	for i, kc := range cfg.Keys {
		name := strings.TrimSpace(kc.Name)
		if name == "" {
			name = fmt.Sprintf("key-%d", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate api key name %q", name)
		}
		seen[name] = struct{}{}

		value := strings.TrimSpace(kc.Key)
		if value == "" && kc.KeyEnv != "" {
			value = strings.TrimSpace(os.Getenv(kc.KeyEnv))
		}
		if value == "" {
			return nil, fmt.Errorf("api key %q has no value", name)
		}
		s.credentials = append(s.credentials, credential{
			digest:  sha256.Sum256([]byte(value)),
			subject: Subject{Name: name, Permissions: append([]string(nil), kc.Permissions...)},
		})
	}
	if len(s.credentials) == 0 {
		return nil, errors.New("api_key mode requires at least one key")
	}
	return s, nil
}

// Mode returns the configured mode.
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest resolves an Authorization header value to a subject.
func (s *Service) AuthenticateRequest(authorization string) (*Subject, error) {
	token, ok := strings.CutPrefix(strings.TrimSpace(authorization), "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return nil, ErrMissingToken
	}
	digest := sha256.Sum256([]byte(token))
	var match *credential
	for i := range s.credentials {
		if subtle.ConstantTimeCompare(digest[:], s.credentials[i].digest[:]) == 1 {
			match = &s.credentials[i]
		}
	}
	if match == nil {
		return nil, ErrInvalidToken
	}
	subject := match.subject
	subject.Permissions = append([]string(nil), match.subject.Permissions...)
	subject.permissionsSet = nil
	return &subject, nil
}
