// Package event distributes state changes to live subscribers.
package event

import (
	"time"

	"github.com/opsboard/opsboard/internal/ledger"
	"github.com/opsboard/opsboard/internal/session"
	"github.com/opsboard/opsboard/internal/status"
)

type Kind string

const (
	KindToolCalled    Kind = "tool_called"
	KindSessionOpened Kind = "session_opened"
	KindSessionClosed Kind = "session_closed"
	KindStatusChanged Kind = "status_changed"
	KindError         Kind = "error"
	KindReload        Kind = "reload"
)

// Event is a tagged union; exactly the payload field matching Kind is set.
// ID and Time are assigned by the bus at publish time.
type Event struct {
	ID        string           `json:"id"`
	Kind      Kind             `json:"kind"`
	Time      time.Time        `json:"time"`
	ToolCall  *ledger.Record   `json:"tool_call,omitempty"`
	Session   *session.Session `json:"session,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	Status    *status.Status   `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
}

func ToolCalled(r ledger.Record) Event {
	return Event{Kind: KindToolCalled, ToolCall: &r}
}

func SessionOpened(s *session.Session) Event {
	return Event{Kind: KindSessionOpened, Session: s.Clone()}
}

func SessionClosed(id string) Event {
	return Event{Kind: KindSessionClosed, SessionID: id}
}

func StatusChanged(s status.Status) Event {
	return Event{Kind: KindStatusChanged, Status: &s}
}

func Error(msg string) Event {
	return Event{Kind: KindError, Message: msg}
}

func Reload() Event {
	return Event{Kind: KindReload}
}

// Payload returns the variant-specific data of the event, or nil for
// variants that carry none.
func (e Event) Payload() any {
	switch e.Kind {
	case KindToolCalled:
		return e.ToolCall
	case KindSessionOpened:
		return e.Session
	case KindSessionClosed:
		return map[string]string{"id": e.SessionID}
	case KindStatusChanged:
		return e.Status
	case KindError:
		return map[string]string{"message": e.Message}
	default:
		return nil
	}
}
