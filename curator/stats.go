package curator

import "sync"

// Stats is a set of named monotonic counters.
type Stats struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{counters: make(map[string]int64)}
}

// Inc bumps the counter by one.
func (s *Stats) Inc(name string) { s.Add(name, 1) }

// Add bumps the counter by n.
func (s *Stats) Add(name string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] += n
}

// Snapshot returns a copy of all counters.
func (s *Stats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}
