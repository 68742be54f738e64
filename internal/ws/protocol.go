package ws

import (
	"time"

	"github.com/opsboard/opsboard/internal/event"
)

type MessageType string

const (
	MsgReload MessageType = "reload"
	MsgPing   MessageType = "ping"
	MsgPong   MessageType = "pong"
	MsgError  MessageType = "error"
)

// ActionRefresh is the only action a reload message carries.
const ActionRefresh = "refresh"

// Envelope is the JSON frame exchanged on the socket and the SSE stream.
// Type is always present; the remaining fields depend on it.
type Envelope struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id,omitempty"`
	Timestamp *time.Time  `json:"timestamp,omitempty"`
	Action    string      `json:"action,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      any         `json:"data,omitempty"`
}

// EnvelopeFor converts a bus event into its wire form.
func EnvelopeFor(e event.Event) Envelope {
	env := Envelope{Type: MessageType(e.Kind), ID: e.ID}
	if !e.Time.IsZero() {
		ts := e.Time
		env.Timestamp = &ts
	}
	switch e.Kind {
	case event.KindReload:
		env.Action = ActionRefresh
	case event.KindError:
		env.Message = e.Message
	default:
		env.Data = e.Payload()
	}
	return env
}

func errorEnvelope(msg string) Envelope {
	return Envelope{Type: MsgError, Message: msg}
}
