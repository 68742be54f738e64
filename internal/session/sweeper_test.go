package session

import (
	"testing"
	"time"
)

func TestSweeper_ExpiresOnlyIdleSessions(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.Upsert(&Session{ID: "idle-1", LastSeen: now.Add(-2 * time.Hour)})
	r.Upsert(&Session{ID: "idle-2", LastSeen: now.Add(-31 * time.Minute)})
	r.Upsert(&Session{ID: "active", LastSeen: now.Add(-time.Minute)})

	var expired []string
	s := NewSweeper(r, 30*time.Minute, time.Minute, func(id string) {
		expired = append(expired, id)
	})
	s.now = func() time.Time { return now }

	removed := s.Sweep()
	if len(removed) != 2 {
		t.Fatalf("Sweep removed %v, want 2 sessions", removed)
	}
	if len(expired) != 2 || expired[0] != "idle-1" || expired[1] != "idle-2" {
		t.Errorf("onExpire saw %v, want [idle-1 idle-2]", expired)
	}
	if _, ok := r.Get("active"); !ok {
		t.Error("active session was swept")
	}
}

func TestSweeper_NothingToExpire(t *testing.T) {
	r := NewRegistry()
	r.Upsert(New(nil))

	called := false
	s := NewSweeper(r, time.Hour, time.Minute, func(string) { called = true })
	if removed := s.Sweep(); len(removed) != 0 {
		t.Errorf("Sweep removed %v, want none", removed)
	}
	if called {
		t.Error("onExpire called with nothing to expire")
	}
}
