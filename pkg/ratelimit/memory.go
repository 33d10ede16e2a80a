package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps windows in process. Each window is an ascending slice of
// admission times.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: map[string][]time.Time{}}
}

func (s *MemoryStore) Admit(_ context.Context, identity string, now time.Time, window time.Duration, limit int) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := prune(s.windows[identity], now.Add(-window))
	if len(ts) >= limit {
		s.windows[identity] = ts
		return false, len(ts), nil
	}
	ts = append(ts, now)
	s.windows[identity] = ts
	return true, len(ts), nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time, window time.Duration) (int, error) {
	cutoff := now.Add(-window)
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, ts := range s.windows {
		if len(prune(ts, cutoff)) == 0 {
			delete(s.windows, id)
			evicted++
		}
	}
	return evicted, nil
}

// Len reports how many identities currently hold a window.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// prune drops entries at or before cutoff. ts is ascending.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	out := make([]time.Time, len(ts)-i)
	copy(out, ts[i:])
	return out
}
