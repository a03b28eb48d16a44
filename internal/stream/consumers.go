package stream

import (
	"sync"
	"time"
)

// Priority classifies a registered consumer. Background consumers keep a
// stream alive but allow the acquisition loop to drop to its background
// rate when no interactive consumer is present.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityInteractive
)

// ConsumerSet tracks the consumers attached to one stream. A consumer is
// registered implicitly by its first read and kept alive by subsequent
// reads; consumers that stop reading are swept out after the timeout.
type ConsumerSet struct {
	mu      sync.Mutex
	timeout time.Duration
	seen    map[string]consumerEntry
}

type consumerEntry struct {
	lastRead time.Time
	priority Priority
}

// NewConsumerSet creates a registry with the given liveness timeout.
func NewConsumerSet(timeout time.Duration) *ConsumerSet {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return &ConsumerSet{
		timeout: timeout,
		seen:    make(map[string]consumerEntry),
	}
}

// Touch records a read by the given consumer, registering it if unknown.
func (s *ConsumerSet) Touch(id string, priority Priority) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.seen[id] = consumerEntry{lastRead: time.Now(), priority: priority}
	s.mu.Unlock()
}

// Remove deregisters a consumer explicitly.
func (s *ConsumerSet) Remove(id string) {
	s.mu.Lock()
	delete(s.seen, id)
	s.mu.Unlock()
}

// Sweep drops consumers that have not read within the timeout and returns
// how many were removed.
func (s *ConsumerSet) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.seen {
		if now.Sub(e.lastRead) > s.timeout {
			delete(s.seen, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of live consumers.
func (s *ConsumerSet) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// OnlyBackground reports whether consumers exist but none is interactive.
func (s *ConsumerSet) OnlyBackground() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seen) == 0 {
		return false
	}
	for _, e := range s.seen {
		if e.priority == PriorityInteractive {
			return false
		}
	}
	return true
}
