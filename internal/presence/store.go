package presence

import (
	"context"
	"sync"
	"time"
)

// Store is the pluggable last-seen backend behind the Tracker. The memory
// implementation serves a single process; swapping in the Redis
// implementation moves presence to a shared store without touching call
// sites.
type Store interface {
	// Get returns the recorded last-seen time for a user. The boolean is
	// false when the user has no record.
	Get(ctx context.Context, userID string) (time.Time, bool, error)
	// GetBatch resolves many users in one round trip. Users without a
	// record are absent from the returned map.
	GetBatch(ctx context.Context, userIDs []string) (map[string]time.Time, error)
	// Set records a heartbeat, creating the record if needed.
	Set(ctx context.Context, userID string, lastSeen time.Time) error
	// Delete removes a user's record. Deleting an absent record is not an error.
	Delete(ctx context.Context, userID string) error
	// Sweep evicts every record whose last-seen time is at or before olderThan.
	Sweep(ctx context.Context, olderThan time.Time) error
}

// MemoryStore keeps last-seen timestamps in a mutex-guarded map. It is
// volatile by design: presence does not survive a process restart.
type MemoryStore struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
}

// NewMemoryStore constructs an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lastSeen: make(map[string]time.Time)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, userID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen, ok := s.lastSeen[userID]
	return seen, ok, nil
}

// GetBatch implements Store.
func (s *MemoryStore) GetBatch(_ context.Context, userIDs []string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]time.Time, len(userIDs))
	for _, userID := range userIDs {
		if seen, ok := s.lastSeen[userID]; ok {
			result[userID] = seen
		}
	}
	return result, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, userID string, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[userID] = lastSeen
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lastSeen, userID)
	return nil
}

// Sweep implements Store with a single pass over the map.
func (s *MemoryStore) Sweep(_ context.Context, olderThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, seen := range s.lastSeen {
		if !seen.After(olderThan) {
			delete(s.lastSeen, userID)
		}
	}
	return nil
}

// Len reports the number of live records. Used to verify that sweeps bound
// memory under churn.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lastSeen)
}
