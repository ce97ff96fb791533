package httpclient

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// sessionSafetyMargin is how long before its recorded expiry a cached
// token is already treated as stale.
const sessionSafetyMargin = 60 * time.Second

// Authenticator obtains a fresh session token from the target service.
type Authenticator interface {
	Authenticate(ctx context.Context) (token string, expiresAt time.Time, err error)
}

// Session caches a bearer token with its expiry. The cache is
// read-check-then-use under a lock and replaced wholesale on refresh,
// never patched in place.
type Session struct {
	mu        sync.Mutex
	auth      Authenticator
	token     string
	expiresAt time.Time
	now       func() time.Time
}

// NewSession creates a session cache over an authenticator.
func NewSession(auth Authenticator) *Session {
	return &Session{auth: auth, now: time.Now}
}

// Token returns a valid session token, refreshing it when the cached one
// is missing or within the safety margin of its expiry.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Add(sessionSafetyMargin).Before(s.expiresAt) {
		return s.token, nil
	}
	return s.refreshLocked(ctx)
}

// Refresh discards the cached token and authenticates again. Used after
// the service rejects a token the cache still considered valid.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) (string, error) {
	token, expiresAt, err := s.auth.Authenticate(ctx)
	if err != nil {
		s.token = ""
		s.expiresAt = time.Time{}
		return "", fmt.Errorf("authentication failed: %w", err)
	}
	s.token = token
	s.expiresAt = expiresAt
	return token, nil
}
