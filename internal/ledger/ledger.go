// Package ledger keeps a bounded history of recent tool calls.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of records retained when no capacity is
// configured.
const DefaultCapacity = 1000

// Record describes one completed tool invocation. Immutable once created.
type Record struct {
	ID         string    `json:"id"`
	ToolName   string    `json:"tool_name"`
	Success    bool      `json:"success"`
	DurationMS uint64    `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
	Summary    string    `json:"summary"`
}

// NewRecord stamps a record with a fresh ID and the current time.
func NewRecord(tool string, success bool, d time.Duration, summary string) Record {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return Record{
		ID:         uuid.NewString(),
		ToolName:   tool,
		Success:    success,
		DurationMS: uint64(ms),
		Timestamp:  time.Now(),
		Summary:    summary,
	}
}

// Ledger is a fixed-capacity ring of records. Once full, each append evicts
// the oldest record. Appends take the write lock; snapshots share the read
// lock and copy out, so a reader never holds the lock past the copy.
type Ledger struct {
	mu    sync.RWMutex
	buf   []Record
	head  int // index the next append writes to
	count int
}

// New returns a ledger retaining at most capacity records. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{buf: make([]Record, capacity)}
}

func (l *Ledger) Append(r Record) {
	l.mu.Lock()
	l.buf[l.head] = r
	l.head = (l.head + 1) % len(l.buf)
	if l.count < len(l.buf) {
		l.count++
	}
	l.mu.Unlock()
}

// Snapshot returns every retained record, newest first.
func (l *Ledger) Snapshot() []Record {
	return l.Recent(0)
}

// Recent returns up to limit records, newest first. A non-positive limit
// returns everything.
func (l *Ledger) Recent(limit int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, n)
	size := len(l.buf)
	for i := 0; i < n; i++ {
		out[i] = l.buf[(l.head-1-i+size)%size]
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

func (l *Ledger) Cap() int {
	return len(l.buf)
}
