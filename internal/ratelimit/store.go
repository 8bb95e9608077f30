package ratelimit

import (
	"sync"
	"time"
)

// WindowStore holds rate limit windows. Counting and window rollover
// happen inside the store so a single call is atomic; a shared backend
// (e.g. Redis INCR with expiry) would implement the same contract.
// Each process instance owns its own store, so in multi-process
// deployments the effective limit is max × processCount.
type WindowStore interface {
	// Take records a request against key. If no window is open, or the
	// open window is older than window, a fresh one starts at now with
	// count 1. Returns the count after recording and the window start.
	Take(key string, window time.Duration, now time.Time) (count int, windowStart time.Time)
	// Sweep removes windows idle for at least twice their length and
	// returns how many were removed.
	Sweep(now time.Time) int
	// Len reports how many windows are currently held.
	Len() int
}

type window struct {
	count  int
	start  time.Time
	length time.Duration
}

// MemoryStore is the in-process window store.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryStore creates an empty in-memory window store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*window),
	}
}

func (m *MemoryStore) Take(key string, length time.Duration, now time.Time) (int, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= w.length {
		w = &window{count: 1, start: now, length: length}
		m.windows[key] = w
		return 1, now
	}
	w.count++
	return w.count, w.start
}

func (m *MemoryStore) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, w := range m.windows {
		if now.Sub(w.start) >= 2*w.length {
			delete(m.windows, k)
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
