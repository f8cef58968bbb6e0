// Package bars resolves the underlying's spot price at a past instant
// from cached minute bars.
package bars

import (
	"context"
	"sync"
	"time"
)

// Key identifies one underlying's minute bars for one session date.
type Key struct {
	Underlying string
	Date       string // YYYY-MM-DD, exchange time
}

func (k Key) String() string {
	return k.Underlying + "/" + k.Date
}

// Bar is a minute bar reduced to what spot resolution needs.
type Bar struct {
	Start time.Time `json:"start"`
	Close float64   `json:"close"`
}

// Store caches bars per Key. A miss is (nil, false, nil). Entries expire
// after the ttl given to Put; a zero ttl keeps them until evicted.
type Store interface {
	Get(ctx context.Context, key Key) ([]Bar, bool, error)
	Put(ctx context.Context, key Key, bars []Bar, ttl time.Duration) error
	Delete(ctx context.Context, key Key) error
}

type memoryEntry struct {
	bars    []Bar
	expires time.Time
}

// MemoryStore is a process-local Store. The mutex only guards the map;
// it is never held across a fetch, so two scans racing on the same key
// both fetch and the last Put wins.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Key]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[Key]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key Key) ([]Bar, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		s.mu.Lock()
		// Re-check: a concurrent Put may have refreshed it.
		if cur, ok := s.entries[key]; ok && cur.expires.Equal(e.expires) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	return e.bars, true, nil
}

func (s *MemoryStore) Put(_ context.Context, key Key, bars []Bar, ttl time.Duration) error {
	e := memoryEntry{bars: bars}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Purge drops expired entries and returns how many were removed.
func (s *MemoryStore) Purge() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, e := range s.entries {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of cached keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
