package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// RevocationStore records invalidated tokens until they would have
// expired naturally. Implementations hold one-way digests, never raw
// tokens: a dump of the store must not let an attacker reconstruct a
// valid credential.
//
// The ttl passed to Revoke is the revoked kind's maximum lifetime, so
// no entry ever needs to outlive the token it shadows.
type RevocationStore interface {
	Revoke(ctx context.Context, rawToken string, ttl time.Duration) error
	IsRevoked(ctx context.Context, rawToken string) (bool, error)
}

// Digest computes the deterministic one-way hash under which a token
// is recorded.
func Digest(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// MemoryRevocations is the in-process RevocationStore: an RWMutex map
// of digest to deadline. Reads take the shared lock only; expired
// entries are skipped on read and physically removed by a background
// sweeper.
type MemoryRevocations struct {
	mu      sync.RWMutex
	entries map[string]time.Time

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// MemoryOption configures MemoryRevocations.
type MemoryOption func(*MemoryRevocations)

// WithRevocationClock overrides the time source (useful for tests).
func WithRevocationClock(fn func() time.Time) MemoryOption {
	return func(s *MemoryRevocations) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewMemoryRevocations constructs the store and starts its sweeper.
// Call Stop when the store is no longer needed.
func NewMemoryRevocations(sweepEvery time.Duration, opts ...MemoryOption) *MemoryRevocations {
	s := &MemoryRevocations{
		entries: make(map[string]time.Time),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	go s.sweep(sweepEvery)
	return s
}

// Revoke inserts the token digest with its deletion deadline.
// Revoking an already-revoked token extends nothing observable beyond
// IsRevoked continuing to return true.
func (s *MemoryRevocations) Revoke(_ context.Context, rawToken string, ttl time.Duration) error {
	deadline := s.now().Add(ttl)
	key := Digest(rawToken)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok && existing.After(deadline) {
		return nil
	}
	s.entries[key] = deadline
	return nil
}

// IsRevoked reports whether the token digest is present and not yet
// past its deadline.
func (s *MemoryRevocations) IsRevoked(_ context.Context, rawToken string) (bool, error) {
	key := Digest(rawToken)

	s.mu.RLock()
	deadline, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return s.now().Before(deadline), nil
}

// Stop terminates the background sweeper.
func (s *MemoryRevocations) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func (s *MemoryRevocations) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := s.now()
			s.mu.Lock()
			for key, deadline := range s.entries {
				if !now.Before(deadline) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// len reports live entry count, for tests.
func (s *MemoryRevocations) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
