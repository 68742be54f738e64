package client

// Message is an inbound frame. Only Type is guaranteed.
type Message struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message,omitempty"`
	Raw     []byte `json:"-"`
}

const (
	typeReload = "reload"
	typePing   = "ping"
	typePong   = "pong"
	typeError  = "error"
)

// Dashboard events relayed on the socket. The client passes them through
// to OnMessage without acting on them.
var eventTypes = map[string]bool{
	"tool_called":    true,
	"session_opened": true,
	"session_closed": true,
	"status_changed": true,
}

type outbound struct {
	Type string `json:"type"`
}
