package behavior

import (
	"context"
	"sync"
	"time"
)

// userBuckets holds the events of one user. Each user has its own lock so
// concurrent chats never contend on a global mutex.
type userBuckets struct {
	mu      sync.Mutex
	events  map[Signal][]time.Time
	removed bool
}

// MemoryStore is a process-local Store. State is lost on restart and is not
// shared between instances.
type MemoryStore struct {
	users sync.Map // map[string]*userBuckets
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append records an event for the user.
func (s *MemoryStore) Append(_ context.Context, userID string, signal Signal, at time.Time, _ time.Duration) error {
	for {
		value, _ := s.users.LoadOrStore(userID, &userBuckets{events: make(map[Signal][]time.Time)})
		buckets := value.(*userBuckets)

		buckets.mu.Lock()
		if buckets.removed {
			// Lost a race with Evict; retry with a fresh bucket
			buckets.mu.Unlock()
			continue
		}

		buckets.events[signal] = append(buckets.events[signal], at)
		buckets.mu.Unlock()

		return nil
	}
}

// Count returns the events at or after since, dropping older ones.
func (s *MemoryStore) Count(_ context.Context, userID string, signal Signal, since time.Time) (int, error) {
	value, ok := s.users.Load(userID)
	if !ok {
		return 0, nil
	}

	buckets := value.(*userBuckets)
	buckets.mu.Lock()
	defer buckets.mu.Unlock()

	events := prune(buckets.events[signal], since)
	buckets.events[signal] = events

	return len(events), nil
}

// Evict removes expired events user by user and drops empty users.
func (s *MemoryStore) Evict(_ context.Context, cutoffs map[Signal]time.Time) (int, error) {
	removed := 0

	s.users.Range(func(key, value any) bool {
		buckets := value.(*userBuckets)

		buckets.mu.Lock()
		for signal, events := range buckets.events {
			cutoff, ok := cutoffs[signal]
			if !ok {
				continue
			}

			if events = prune(events, cutoff); len(events) == 0 {
				delete(buckets.events, signal)
			} else {
				buckets.events[signal] = events
			}
		}

		if len(buckets.events) == 0 {
			buckets.removed = true
			s.users.Delete(key)
			removed++
		}
		buckets.mu.Unlock()

		return true
	})

	return removed, nil
}

// Users returns the number of users currently tracked.
func (s *MemoryStore) Users() int {
	count := 0
	s.users.Range(func(_, _ any) bool {
		count++
		return true
	})

	return count
}

// prune drops timestamps before cutoff.
func prune(events []time.Time, cutoff time.Time) []time.Time {
	kept := events[:0]
	for _, at := range events {
		if !at.Before(cutoff) {
			kept = append(kept, at)
		}
	}

	return kept
}
