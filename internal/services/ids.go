package services

import (
	"sync"
	"time"
)

// ParentIDGenerator mints the id shared by every day record of one event.
type ParentIDGenerator interface {
	Next() int64
}

// ClockParentIDs hands out nanosecond timestamps, bumped when the clock has
// not advanced so ids stay unique and increasing within the process.
type ClockParentIDs struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewClockParentIDs() *ClockParentIDs {
	return &ClockParentIDs{now: time.Now}
}

func (g *ClockParentIDs) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.now().UnixNano()
	if n <= g.last {
		n = g.last + 1
	}
	g.last = n
	return n
}
