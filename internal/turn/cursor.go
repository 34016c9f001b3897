package turn

import "time"

// Step is the minimum gap between consecutive child observations.
const Step = time.Millisecond

// Cursor hands out strictly increasing start times for the child
// observations of one turn, so they never render out of order even when
// source timestamps coincide or are missing.
type Cursor struct {
	next time.Time
}

// NewCursor starts a cursor one step after the turn's creation instant.
func NewCursor(created time.Time) *Cursor {
	return &Cursor{next: created.Add(Step)}
}

// Now returns the current cursor position without advancing it.
func (c *Cursor) Now() time.Time {
	return c.next
}

// Take returns the current position and advances by one step.
func (c *Cursor) Take() time.Time {
	at := c.next
	c.next = at.Add(Step)
	return at
}

// Place returns ts when it lies after the cursor, otherwise one step past
// the cursor, and moves the cursor one step beyond the returned instant.
func (c *Cursor) Place(ts time.Time) time.Time {
	start := ts
	if !ts.After(c.next) {
		start = c.next.Add(Step)
	}
	c.next = start.Add(Step)
	return start
}
