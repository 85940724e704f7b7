package clock

import "sync/atomic"

// Counter is a monotonic per-user clock cursor.
//
// Next increments and returns, so a counter created at base hands out
// base+1, base+2, ... Calls are linearizable; a Counter is safe for
// concurrent use, but one user's assignment is only ever driven by one
// goroutine inside its store transaction.
type Counter struct {
	v atomic.Int64
}

// NewCounter creates a counter positioned at start. The first Next returns start+1.
func NewCounter(start int64) *Counter {
	c := &Counter{}
	c.v.Store(start)
	return c
}

// Next returns the next clock value.
func (c *Counter) Next() int64 {
	return c.v.Add(1)
}

// Current returns the last value handed out (or the start position).
func (c *Counter) Current() int64 {
	return c.v.Load()
}
