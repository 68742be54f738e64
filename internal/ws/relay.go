package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/opsboard/opsboard/internal/event"
	"github.com/opsboard/opsboard/internal/state"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	replyBuffer    = 8
)

// Hub tracks the live socket connections so they can be counted, capped,
// and closed together on shutdown.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	slots   int // connections admitted, including those still upgrading
	max     int
}

func NewHub(maxConns int) *Hub {
	return &Hub{clients: make(map[*client]struct{}), max: maxConns}
}

// acquire admits one connection unless the hub is at capacity.
func (h *Hub) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.max > 0 && h.slots >= h.max {
		return false
	}
	h.slots++
	return true
}

// abandon returns a slot taken by acquire for a connection that never
// registered.
func (h *Hub) abandon() {
	h.mu.Lock()
	h.slots--
	h.mu.Unlock()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) release(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		h.slots--
	}
	h.mu.Unlock()
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll sends a going-away close frame to every client and drops the
// transports. Each client's read loop then runs its normal cleanup.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
}

// client relays bus events to one socket. writePump is the only goroutine
// that writes to conn; readPump is the only one that reads.
type client struct {
	conn      *websocket.Conn
	sub       *event.Subscriber
	state     *state.State
	hub       *Hub
	sessionID string
	replies   chan Envelope
	done      chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case e, ok := <-c.sub.Events():
			if !ok {
				c.writeClose(websocket.CloseGoingAway, "event stream closed")
				return
			}
			if err := c.write(EnvelopeFor(e)); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}
		case env := <-c.replies:
			if err := c.write(env); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) write(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		c.log.Error().Err(err).Str("type", string(env.Type)).Msg("marshal envelope")
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) writeClose(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

// readPump consumes inbound frames until the transport fails or closes,
// then tears the client down.
func (c *client) readPump() {
	defer c.cleanup()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("connection closed unexpectedly")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.state.TouchSession(c.sessionID)
		c.handle(data)
	}
}

func (c *client) handle(data []byte) {
	var msg Envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn().Err(err).Msg("malformed message")
		c.reply(errorEnvelope("malformed message"))
		return
	}

	switch msg.Type {
	case MsgPing:
		c.reply(Envelope{Type: MsgPong})
	case MsgPong:
	case "":
		c.log.Warn().Msg("message without type")
		c.reply(errorEnvelope("missing message type"))
	default:
		c.log.Info().Str("type", string(msg.Type)).Msg("ignoring unrecognized message type")
	}
}

// reply queues a direct response. Replies are dropped if the writer has
// exited or has fallen behind.
func (c *client) reply(env Envelope) {
	select {
	case c.replies <- env:
	case <-c.done:
	default:
		c.log.Debug().Str("type", string(env.Type)).Msg("reply dropped")
	}
}

func (c *client) shutdown(code int, reason string) {
	c.writeClose(code, reason)
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.conn.Close()
}

func (c *client) cleanup() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.sub.Close()
	c.hub.release(c)
	c.state.CloseSession(c.sessionID)
	c.conn.Close()
	c.log.Info().Uint64("dropped", c.sub.Dropped()).Msg("websocket client disconnected")
}
