package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start of a Timeline.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Timeline hands out deterministic creation timestamps for test records.
//
// Each call to Next advances by a fixed step, so a scenario that creates the
// same records in the same order gets the same timestamps on every run.
// Use Same to create records that tie on CreatedAt.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Timeline struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	now   time.Time
}

// NewTimeline creates a timeline that starts at Epoch and advances by one
// second. The first call to Next returns Epoch + 1s.
func NewTimeline() *Timeline {
	return NewTimelineAt(Epoch, time.Second)
}

// NewTimelineAt creates a timeline starting at start and advancing by step.
func NewTimelineAt(start time.Time, step time.Duration) *Timeline {
	start = start.UTC()
	return &Timeline{start: start, step: step, now: start}
}

// Next advances the timeline and returns the new time.
func (t *Timeline) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = t.now.Add(t.step)
	return t.now
}

// Same returns the current time without advancing.
func (t *Timeline) Same() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}

// Reset rewinds the timeline to its start.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = t.start
}
