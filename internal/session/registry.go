package session

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Registry is a concurrent map of sessions keyed by ID. It is backed by
// sync.Map so operations on different keys never contend on a shared lock.
// Values are copied on the way in and out; callers never alias stored data.
type Registry struct {
	sessions sync.Map // string -> *Session
	count    atomic.Int64
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Get(id string) (*Session, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session).Clone(), true
}

// List returns copies of every session, oldest first.
func (r *Registry) List() []*Session {
	var result []*Session
	r.sessions.Range(func(_, v any) bool {
		result = append(result, v.(*Session).Clone())
		return true
	})
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Upsert stores s under s.ID, replacing any existing value entirely.
func (r *Registry) Upsert(s *Session) {
	if _, loaded := r.sessions.Swap(s.ID, s.Clone()); !loaded {
		r.count.Add(1)
	}
}

// Remove deletes the session and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	if _, loaded := r.sessions.LoadAndDelete(id); loaded {
		r.count.Add(-1)
		return true
	}
	return false
}

// Touch marks the session as seen at now. A concurrent Upsert or Touch on
// the same key is retried against, never overwritten.
func (r *Registry) Touch(id string, now time.Time) (*Session, bool) {
	for {
		v, ok := r.sessions.Load(id)
		if !ok {
			return nil, false
		}
		next := v.(*Session).Touched(now)
		if r.sessions.CompareAndSwap(id, v, next) {
			return next.Clone(), true
		}
	}
}

// RemoveIdle deletes every session last seen before cutoff and returns
// their IDs. A session touched while the sweep runs is left alone.
func (r *Registry) RemoveIdle(cutoff time.Time) []string {
	var removed []string
	r.sessions.Range(func(k, v any) bool {
		if !v.(*Session).LastSeen.Before(cutoff) {
			return true
		}
		if r.sessions.CompareAndDelete(k, v) {
			r.count.Add(-1)
			removed = append(removed, k.(string))
		}
		return true
	})
	sort.Strings(removed)
	return removed
}

func (r *Registry) Len() int {
	return int(r.count.Load())
}
