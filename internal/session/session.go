// Package session tracks the live client sessions attached to the server.
package session

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Session is one connected client. Created on first contact, refreshed on
// each interaction, removed on disconnect or idle expiry.
type Session struct {
	ID           string            `json:"id"`
	CreatedAt    time.Time         `json:"created_at"`
	LastSeen     time.Time         `json:"last_seen"`
	RequestCount uint64            `json:"request_count"`
	ClientMeta   map[string]string `json:"client_meta,omitempty"`
}

// New returns a session with a fresh random ID, created and last seen now.
func New(meta map[string]string) *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		LastSeen:   now,
		ClientMeta: maps.Clone(meta),
	}
}

// Clone returns a deep copy, duplicating the metadata map so the copy can
// be mutated independently of the original.
func (s *Session) Clone() *Session {
	c := *s
	c.ClientMeta = maps.Clone(s.ClientMeta)
	return &c
}

// Touched returns a copy marked as seen at now with one more request.
func (s *Session) Touched(now time.Time) *Session {
	c := s.Clone()
	c.LastSeen = now
	c.RequestCount++
	return c
}

func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastSeen)
}
