// Package verification holds short-lived email verification codes in
// memory. Codes are never persisted to the store — they are a
// process-lifetime concern only (spec.md §3: "VerificationCode (in-memory,
// TTL 10 min)").
package verification

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// TTL is how long an issued code remains valid.
const TTL = 10 * time.Minute

type entry struct {
	code      string
	expiresAt time.Time
}

// Store holds pending verification codes keyed by a caller-chosen string
// (the auth service uses the username). Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	pending map[string]entry
	now     func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{pending: make(map[string]entry), now: time.Now}
}

// Issue generates a fresh 6-digit code for the key email, overwriting any
// code already pending for that key, and returns it for the caller to send.
func (s *Store) Issue(email string) (string, error) {
	code, err := randomDigits(6)
	if err != nil {
		return "", fmt.Errorf("generate verification code: %w", err)
	}
	s.mu.Lock()
	s.pending[email] = entry{code: code, expiresAt: s.now().Add(TTL)}
	s.mu.Unlock()
	return code, nil
}

// Verify checks code against the pending code for email. A successful
// verification consumes the code — it cannot be reused.
func (s *Store) Verify(email, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[email]
	if !ok {
		return false
	}
	if s.now().After(e.expiresAt) {
		delete(s.pending, email)
		return false
	}
	if e.code != code {
		return false
	}
	delete(s.pending, email)
	return true
}

// Purge removes expired entries; intended to be called periodically so the
// map does not grow unboundedly with abandoned codes.
func (s *Store) Purge() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for email, e := range s.pending {
		if now.After(e.expiresAt) {
			delete(s.pending, email)
		}
	}
}

func randomDigits(n int) (string, error) {
	const digits = "0123456789"
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, v := range b {
		out[i] = digits[int(v)%len(digits)]
	}
	return string(out), nil
}
