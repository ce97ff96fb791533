package evm

import (
	"sync"
	"time"
)

// NonceStore tracks authorization nonces a verifier has already accepted.
// Verification alone proves possession and intent, not exclusivity of use;
// deployments that do not settle on-chain immediately after verifying can
// plug in a store to reject replays within the authorization's validity
// window.
type NonceStore interface {
	// CheckAndMark returns true if the nonce was unseen and is now
	// recorded until expiry, false if it was already recorded.
	CheckAndMark(nonce string, expiry time.Time) bool
}

// InMemoryNonceStore is a mutex-guarded nonce set with lazy expiry.
// Suitable for single-instance deployments; distributed deployments need
// a NonceStore backed by shared storage.
type InMemoryNonceStore struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	now   func() time.Time
	sweep int
}

// NewInMemoryNonceStore creates an empty nonce store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// CheckAndMark implements NonceStore.
func (s *InMemoryNonceStore) CheckAndMark(nonce string, expiry time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if until, exists := s.seen[nonce]; exists {
		if now.Before(until) {
			return false
		}
		delete(s.seen, nonce)
	}

	// Sweep expired entries periodically so long-lived stores do not grow
	// with every rejected replay window.
	s.sweep++
	if s.sweep >= 1024 {
		s.sweep = 0
		for n, until := range s.seen {
			if !now.Before(until) {
				delete(s.seen, n)
			}
		}
	}

	s.seen[nonce] = expiry
	return true
}
