package abuse

import (
	"sync"
	"time"
)

// Defaults for the chat-repeat detector.
const (
	DefaultRepeatLimit  = 5
	DefaultRepeatWindow = 60 * time.Second
)

// RepeatCounter is a sliding-window occurrence counter. Each Trip advances
// the counter; once the window expires the count starts over. The caller
// decides what a trip means (for chat, one repeated message).
type RepeatCounter struct {
	limit  int
	window time.Duration

	mu          sync.Mutex
	count       int
	windowStart time.Time

	now func() time.Time // overridable for tests
}

// NewRepeatCounter returns a counter that trips after limit occurrences
// within window.
func NewRepeatCounter(limit int, window time.Duration) *RepeatCounter {
	return &RepeatCounter{limit: limit, window: window, now: time.Now}
}

// Trip records one occurrence and reports whether the threshold has been
// reached within the current window.
func (c *RepeatCounter) Trip() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if c.count == 0 || now.Sub(c.windowStart) > c.window {
		c.windowStart = now
		c.count = 0
	}
	c.count++
	return c.count >= c.limit
}

// Reset clears the counter, e.g. when the repeated input changes.
func (c *RepeatCounter) Reset() {
	c.mu.Lock()
	c.count = 0
	c.mu.Unlock()
}

// Count returns the occurrences recorded in the current window.
func (c *RepeatCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
