package stream

import (
	"fmt"
	"sync"
	"time"
)

// ErrorHistory keeps a bounded, de-duplicated list of recent error
// messages. Repeated identical errors are collapsed into a single entry
// with a repeat count instead of flooding the history.
type ErrorHistory struct {
	mu      sync.Mutex
	entries []errEntry
	max     int
}

type errEntry struct {
	msg   string
	count int
	first time.Time
	last  time.Time
}

// NewErrorHistory creates a history holding at most max distinct entries.
func NewErrorHistory(max int) *ErrorHistory {
	if max <= 0 {
		max = 8
	}
	return &ErrorHistory{max: max}
}

// Record adds an error message, collapsing repeats of the newest entry.
func (h *ErrorHistory) Record(msg string) {
	if msg == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if n := len(h.entries); n > 0 && h.entries[n-1].msg == msg {
		h.entries[n-1].count++
		h.entries[n-1].last = now
		return
	}
	h.entries = append(h.entries, errEntry{msg: msg, count: 1, first: now, last: now})
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// Latest returns the newest error message, or "" if none.
func (h *ErrorHistory) Latest() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return ""
	}
	return h.entries[len(h.entries)-1].msg
}

// Recent returns formatted recent errors, newest last.
func (h *ErrorHistory) Recent() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.entries))
	for _, e := range h.entries {
		if e.count > 1 {
			out = append(out, fmt.Sprintf("%s (repeated x%d)", e.msg, e.count))
		} else {
			out = append(out, e.msg)
		}
	}
	return out
}

// Count returns the total number of recorded errors including repeats.
func (h *ErrorHistory) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, e := range h.entries {
		total += e.count
	}
	return total
}

// Clear drops all entries.
func (h *ErrorHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}
