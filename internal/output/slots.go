package output

import (
	"sync"
	"time"
)

// Pipeline names a stream of jobs whose outputs share a directory.
type Pipeline string

const (
	PipelineDownload   Pipeline = "download"
	PipelineConversion Pipeline = "conversion"
)

type slotKey struct {
	pipeline Pipeline
	session  string
}

type slot struct {
	path    string
	updated time.Time
}

// Slots tracks the live artifact of every (pipeline, session) pair.
type Slots struct {
	now func() time.Time

	mu    sync.Mutex
	slots map[slotKey]slot
}

// NewSlots creates an empty slot arena.
func NewSlots() *Slots {
	return &Slots{now: time.Now, slots: make(map[slotKey]slot)}
}

// Swap stores path as the slot's artifact and returns the previous one.
func (s *Slots) Swap(p Pipeline, session, path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := slotKey{p, session}
	prev := s.slots[key].path
	s.slots[key] = slot{path: path, updated: s.now()}
	return prev
}

// Get returns the slot's artifact path, or "" when the slot is empty.
func (s *Slots) Get(p Pipeline, session string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[slotKey{p, session}].path
}

// Expire empties every slot last written at or before cutoff and returns
// the artifacts they held, by pipeline.
func (s *Slots) Expire(cutoff time.Time) map[Pipeline][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := make(map[Pipeline][]string)
	for key, v := range s.slots {
		if v.updated.After(cutoff) {
			continue
		}
		expired[key.pipeline] = append(expired[key.pipeline], v.path)
		delete(s.slots, key)
	}
	return expired
}

// Live reports whether path is the artifact of any slot.
func (s *Slots) Live(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.slots {
		if v.path == path {
			return true
		}
	}
	return false
}

// Paths returns every live artifact path.
func (s *Slots) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.slots))
	for _, v := range s.slots {
		out = append(out, v.path)
	}
	return out
}

// Len returns the number of occupied slots.
func (s *Slots) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
