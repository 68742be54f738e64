package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opsboard/opsboard/internal/event"
)

const sseHeartbeatInterval = 30 * time.Second

type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, rc: http.NewResponseController(w)}, nil
}

func (s *sseWriter) writeEvent(e event.Event) error {
	data, err := json.Marshal(EnvelopeFor(e))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\nid: %s\ndata: %s\n\n", e.Kind, e.ID, data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseWriter) writeHeartbeat() error {
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}

// handleSSE relays the bus to a continuous event stream until the client
// goes away or the bus closes.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// subscribe before the headers go out so the client never misses an
	// event published after it sees the response
	sub := s.state.Bus.Subscribe()
	defer sub.Close()
	sess := s.state.OpenSession(clientMeta(r, "sse"))
	defer s.state.CloseSession(sess.ID)

	w.WriteHeader(http.StatusOK)
	if err := sse.rc.Flush(); err != nil {
		return
	}

	log := s.log.With().Str("session", sess.ID).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("sse client connected")
	defer func() {
		log.Info().Uint64("dropped", sub.Dropped()).Msg("sse client disconnected")
	}()

	ticker := time.NewTicker(s.sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := sse.writeEvent(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := sse.writeHeartbeat(); err != nil {
				return
			}
			s.state.TouchSession(sess.ID)
		}
	}
}
