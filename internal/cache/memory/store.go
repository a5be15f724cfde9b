// Package memory provides the process-wide snapshot cache shared by every
// consumer in the service. It is constructed once at wire time and passed by
// reference, so all components observe the same entries.
package memory

import (
	"sync"
	"time"

	"github.com/trezury/walletsync/internal/domain"
)

type entry struct {
	data      any
	timestamp time.Time
}

// Store is a key -> {data, timestamp} cache. Freshness is decided per read:
// Get returns an entry only when it is younger than the caller-supplied TTL.
// Entries are never deleted on expiry; they are overwritten on the next Set
// and stay reachable through Last as a fallback for failed fetches.
// Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached value for key iff it was written less than ttl ago.
// A stale entry is a miss but is left in place.
func (s *Store) Get(key string, ttl time.Duration) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.now().Sub(e.timestamp) >= ttl {
		return nil, false
	}
	return e.data, true
}

// Last returns the most recently written value for key regardless of age,
// along with its write timestamp.
func (s *Store) Last(key string) (any, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, time.Time{}, false
	}
	return e.data, e.timestamp, true
}

// Set stores data under key with the current time, overwriting any prior
// entry. Writes are last-write-wins.
func (s *Store) Set(key string, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{data: data, timestamp: s.now()}
}

// Invalidate removes the entry for key, if any.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Sweep removes entries older than maxAge and returns how many were dropped.
// Callers that worry about unbounded growth can run it periodically.
func (s *Store) Sweep(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dropped := 0
	for k, e := range s.entries {
		if now.Sub(e.timestamp) >= maxAge {
			delete(s.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of entries currently held, fresh or stale.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*Store)(nil)
