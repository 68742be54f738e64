// Package status holds the server's read-mostly status snapshot.
package status

import (
	"sync/atomic"
	"time"
)

// Status is an immutable snapshot. Replace it wholesale, never mutate a
// value obtained from a Cell in place.
type Status struct {
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
	ToolCount uint      `json:"tool_count"`
}

// Cell is a lock-free holder for the current Status. Readers never block
// and never observe a partial write; concurrent writers are last-write-wins.
type Cell struct {
	p atomic.Pointer[Status]
}

func NewCell(initial Status) *Cell {
	c := &Cell{}
	c.Store(initial)
	return c
}

func (c *Cell) Load() Status {
	if p := c.p.Load(); p != nil {
		return *p
	}
	return Status{}
}

func (c *Cell) Store(s Status) {
	c.p.Store(&s)
}

// Update derives a new snapshot from the current one and installs it,
// retrying if another writer got there first. fn may run more than once.
func (c *Cell) Update(fn func(Status) Status) Status {
	for {
		old := c.p.Load()
		var cur Status
		if old != nil {
			cur = *old
		}
		next := fn(cur)
		if c.p.CompareAndSwap(old, &next) {
			return next
		}
	}
}
