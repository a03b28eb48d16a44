package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorHistoryCollapsesRepeats(t *testing.T) {
	h := NewErrorHistory(4)
	h.Record("read failed")
	h.Record("read failed")
	h.Record("read failed")

	recent := h.Recent()
	assert.Equal(t, []string{"read failed (repeated x3)"}, recent)
	assert.Equal(t, 3, h.Count())
	assert.Equal(t, "read failed", h.Latest())
}

func TestErrorHistoryBounded(t *testing.T) {
	h := NewErrorHistory(2)
	h.Record("a")
	h.Record("b")
	h.Record("c")

	recent := h.Recent()
	assert.Equal(t, []string{"b", "c"}, recent)
}

func TestErrorHistoryInterleaved(t *testing.T) {
	h := NewErrorHistory(8)
	h.Record("a")
	h.Record("b")
	h.Record("a")

	// Only consecutive repeats collapse.
	assert.Equal(t, []string{"a", "b", "a"}, h.Recent())
}

func TestErrorHistoryClear(t *testing.T) {
	h := NewErrorHistory(4)
	h.Record("a")
	h.Clear()
	assert.Empty(t, h.Recent())
	assert.Equal(t, "", h.Latest())
}

func TestConsumerSetSweep(t *testing.T) {
	s := NewConsumerSet(50 * time.Millisecond)
	s.Touch("a", PriorityInteractive)
	s.Touch("b", PriorityBackground)
	assert.Equal(t, 2, s.Count())
	assert.False(t, s.OnlyBackground())

	time.Sleep(80 * time.Millisecond)
	s.Touch("b", PriorityBackground)
	removed := s.Sweep(time.Now())
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Count())
	assert.True(t, s.OnlyBackground())
}

func TestConsumerSetEmptyIsNotBackgroundOnly(t *testing.T) {
	s := NewConsumerSet(time.Second)
	assert.False(t, s.OnlyBackground())
	s.Touch("a", PriorityBackground)
	s.Remove("a")
	assert.False(t, s.OnlyBackground())
}
