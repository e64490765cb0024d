package remote

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"fleetinspect/internal/infrastructure/auth"
	"fleetinspect/internal/ports"
)

// StaticToken is a bearer token obtained out of band (admin token command).
type StaticToken string

var _ ports.CredentialSource = StaticToken("")

func (t StaticToken) Credential(context.Context) (string, error) {
	token := strings.TrimSpace(string(t))
	if token == "" {
		return "", errors.New("sync token is not configured")
	}
	return token, nil
}

// Signer mints its own short-lived tokens from a shared secret and reuses
// one until it is close to expiry.
type Signer struct {
	Secret  string
	Subject string
	Role    auth.Role
	TTL     time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

var _ ports.CredentialSource = (*Signer)(nil)

func (s *Signer) Credential(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if s.now != nil {
		now = s.now()
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	if s.token != "" && now.Add(ttl/10).Before(s.expires) {
		return s.token, nil
	}

	role := s.Role
	if role == "" {
		role = auth.RoleInspector
	}
	token, err := auth.Issue(s.Secret, s.Subject, role, ttl, now)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = now.Add(ttl)
	return token, nil
}
