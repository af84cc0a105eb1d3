package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// sweepEvery is how many Take calls pass between sweeps of idle keys
const sweepEvery = 1024

type slidingWindow struct {
	times  []time.Time
	window time.Duration
}

// MemoryStore keeps sorted call timestamps per key. It is shared by every
// worker goroutine of one process.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
	takes   int
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*slidingWindow)}
}

func (s *MemoryStore) Take(_ context.Context, key string, now time.Time, limit int, window time.Duration) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.takes++
	if s.takes%sweepEvery == 0 {
		s.sweep(now)
	}

	w, ok := s.windows[key]
	if !ok {
		w = &slidingWindow{}
		s.windows[key] = w
	}
	w.window = window
	w.times = prune(w.times, now.Add(-window))

	if len(w.times) >= limit {
		return Decision{
			Allowed:    false,
			Count:      len(w.times),
			RetryAfter: w.times[0].Add(window).Sub(now),
		}, nil
	}

	w.times = insertSorted(w.times, now)
	return Decision{Allowed: true, Count: len(w.times)}, nil
}

// prune drops timestamps at or before the cutoff
func prune(times []time.Time, cutoff time.Time) []time.Time {
	idx := sort.Search(len(times), func(i int) bool {
		return times[i].After(cutoff)
	})
	if idx == 0 {
		return times
	}
	return append(times[:0], times[idx:]...)
}

// insertSorted keeps times ascending when callers read the clock out of order
func insertSorted(times []time.Time, t time.Time) []time.Time {
	idx := sort.Search(len(times), func(i int) bool {
		return times[i].After(t)
	})
	times = append(times, time.Time{})
	copy(times[idx+1:], times[idx:])
	times[idx] = t
	return times
}

// sweep forgets keys whose newest call has left its window
func (s *MemoryStore) sweep(now time.Time) {
	for key, w := range s.windows {
		if len(w.times) == 0 || !w.times[len(w.times)-1].After(now.Add(-w.window)) {
			delete(s.windows, key)
		}
	}
}

// Reset forgets every recorded call
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = make(map[string]*slidingWindow)
	s.takes = 0
}
