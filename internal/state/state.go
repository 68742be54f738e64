// Package state wires the server's shared containers together. A State is
// built once at startup and handed to every handler and background task.
//
// Operations that touch more than one container are not atomic as a pair:
// a subscriber may see an event before the matching ledger append is
// visible to readers, or the reverse.
package state

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsboard/opsboard/internal/event"
	"github.com/opsboard/opsboard/internal/ledger"
	"github.com/opsboard/opsboard/internal/logging"
	"github.com/opsboard/opsboard/internal/session"
	"github.com/opsboard/opsboard/internal/status"
)

type Options struct {
	LedgerCapacity int
	QueueSize      int
	Version        string
}

type State struct {
	Status   *status.Cell
	Sessions KeyedRegistry
	Ledger   BoundedLog
	Bus      SubscribableBus
	Metrics  *Metrics

	bus *event.Bus
	now func() time.Time
	log zerolog.Logger
}

func New(opts Options) *State {
	bus := event.NewBus(opts.QueueSize)
	return &State{
		Status: status.NewCell(status.Status{
			Running:   true,
			StartedAt: time.Now(),
			Version:   opts.Version,
		}),
		Sessions: session.NewRegistry(),
		Ledger:   ledger.New(opts.LedgerCapacity),
		Bus:      bus,
		Metrics:  NewMetrics(),
		bus:      bus,
		now:      time.Now,
		log:      logging.Component("state"),
	}
}

// RecordToolCall appends r to the ledger, bumps the per-tool counters and
// publishes ToolCalled.
func (s *State) RecordToolCall(r ledger.Record) {
	s.Ledger.Append(r)
	s.Metrics.RecordCall(context.Background(), r.ToolName, r.Success)
	s.Bus.Publish(event.ToolCalled(r))
}

func (s *State) OpenSession(meta map[string]string) *session.Session {
	sess := session.New(meta)
	s.Sessions.Upsert(sess)
	s.Bus.Publish(event.SessionOpened(sess))
	s.log.Debug().Str("session", sess.ID).Msg("session opened")
	return sess
}

func (s *State) TouchSession(id string) (*session.Session, bool) {
	return s.Sessions.Touch(id, s.now())
}

// CloseSession removes the session and publishes SessionClosed. It reports
// false, publishing nothing, if the session was already gone.
func (s *State) CloseSession(id string) bool {
	if !s.Sessions.Remove(id) {
		return false
	}
	s.Bus.Publish(event.SessionClosed(id))
	s.log.Debug().Str("session", id).Msg("session closed")
	return true
}

// SessionExpired publishes SessionClosed for a session an idle sweep has
// already removed.
func (s *State) SessionExpired(id string) {
	s.Bus.Publish(event.SessionClosed(id))
}

func (s *State) SetStatus(st status.Status) {
	s.Status.Store(st)
	s.Bus.Publish(event.StatusChanged(st))
}

func (s *State) UpdateStatus(fn func(status.Status) status.Status) status.Status {
	st := s.Status.Update(fn)
	s.Bus.Publish(event.StatusChanged(st))
	return st
}

func (s *State) ReportError(msg string) {
	s.log.Warn().Str("message", msg).Msg("error reported")
	s.Bus.Publish(event.Error(msg))
}

func (s *State) TriggerReload() {
	s.log.Info().Msg("reload triggered")
	s.Bus.Publish(event.Reload())
}

// Close shuts down the event bus, closing every subscriber.
func (s *State) Close() {
	s.Status.Update(func(st status.Status) status.Status {
		st.Running = false
		return st
	})
	s.bus.Close()
	if err := s.Metrics.Shutdown(context.Background()); err != nil {
		s.log.Debug().Err(err).Msg("metrics shutdown")
	}
}
