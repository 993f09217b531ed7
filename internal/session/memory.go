// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process session cache for development and tests. It
// mirrors the Redis backend's semantics, including the drift behaviour of the
// live-session counter: TTL expiry does not decrement it.
type MemoryStore struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]memoryEntry
	counter int64
	stop    chan struct{}
	stopped sync.Once
}

type memoryEntry struct {
	record  Record
	expires time.Time
}

// NewMemoryStore creates an in-memory session cache with a background janitor
// that removes expired entries.
func NewMemoryStore(ttl time.Duration, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.janitor(cleanupInterval)
	}
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok || time.Now().After(entry.expires) {
		return nil, ErrNotFound
	}
	rec := entry.record
	return &rec, nil
}

// Set implements Store with sliding expiration.
func (s *MemoryStore) Set(_ context.Context, key string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	live := ok && time.Now().Before(entry.expires)
	s.entries[key] = memoryEntry{record: *rec, expires: time.Now().Add(s.ttl)}
	if !live {
		s.counter++
	}
	return nil
}

// Invalidate implements Store.
func (s *MemoryStore) Invalidate(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	if s.counter > 0 {
		s.counter--
	}
	return nil
}

// InvalidateBySessionID implements Store. Unlike Redis, the in-memory map can
// be enumerated cheaply, so this removes every record of the session.
func (s *MemoryStore) InvalidateBySessionID(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.entries {
		if entry.record.SessionID == sessionID {
			delete(s.entries, key)
			if s.counter > 0 {
				s.counter--
			}
		}
	}
	return nil
}

// Stats implements Store.
func (s *MemoryStore) Stats(_ context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{TTL: s.ttl, Backend: "memory", ApproxSize: s.counter}
}

// Close stops the janitor goroutine.
func (s *MemoryStore) Close() error {
	s.stopped.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.deleteExpired()
		case <-s.stop:
			return
		}
	}
}

// deleteExpired drops expired entries. The live-session counter is left
// untouched on purpose, matching the Redis backend where record expiry never
// reaches the counter entry.
func (s *MemoryStore) deleteExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.entries {
		if now.After(entry.expires) {
			delete(s.entries, key)
		}
	}
}
