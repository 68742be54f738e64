package state

import (
	"time"

	"github.com/opsboard/opsboard/internal/event"
	"github.com/opsboard/opsboard/internal/ledger"
	"github.com/opsboard/opsboard/internal/session"
)

// SubscribableBus is the publish/subscribe surface handlers depend on.
type SubscribableBus interface {
	Publish(e event.Event) event.Event
	Subscribe() *event.Subscriber
	SubscriberCount() int
	Published() uint64
}

// BoundedLog is a fixed-capacity, newest-first history.
type BoundedLog interface {
	Append(r ledger.Record)
	Snapshot() []ledger.Record
	Recent(limit int) []ledger.Record
	Len() int
	Cap() int
}

// KeyedRegistry is a concurrent map of sessions.
type KeyedRegistry interface {
	Upsert(s *session.Session)
	Remove(id string) bool
	Get(id string) (*session.Session, bool)
	List() []*session.Session
	Touch(id string, now time.Time) (*session.Session, bool)
	RemoveIdle(cutoff time.Time) []string
	Len() int
}

var (
	_ SubscribableBus = (*event.Bus)(nil)
	_ BoundedLog      = (*ledger.Ledger)(nil)
	_ KeyedRegistry   = (*session.Registry)(nil)
)
