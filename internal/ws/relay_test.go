package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsboard/opsboard/internal/config"
	"github.com/opsboard/opsboard/internal/state"
)

func startServer(t *testing.T, mutate func(*config.Config)) (*Server, *state.State, string) {
	t.Helper()
	s, st := newTestServer(t, mutate)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return s, st, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// readUntil skips envelopes until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType) Envelope {
	t.Helper()
	for i := 0; i < 20; i++ {
		if env := readEnvelope(t, conn); env.Type == want {
			return env
		}
	}
	t.Fatalf("no %s envelope received", want)
	return Envelope{}
}

func TestWS_RejectsDisallowedOrigin(t *testing.T) {
	_, st, url := startServer(t, nil)

	_, resp, err := dial(t, url, "https://evil.example.com")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, st.Bus.SubscriberCount())
	assert.Equal(t, 0, st.Sessions.Len())
}

func TestWS_RejectsMissingOrigin(t *testing.T) {
	_, _, url := startServer(t, nil)

	_, resp, err := dial(t, url, "")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWS_BypassAcceptsAnyOrigin(t *testing.T) {
	_, _, url := startServer(t, func(c *config.Config) { c.WebSocket.DevBypass = true })

	conn, _, err := dial(t, url, "https://evil.example.com")
	require.NoError(t, err)
	assert.Equal(t, MessageType("session_opened"), readEnvelope(t, conn).Type)
}

func TestWS_RelaysEvents(t *testing.T) {
	_, st, url := startServer(t, nil)

	conn, _, err := dial(t, url, testOrigin)
	require.NoError(t, err)

	opened := readEnvelope(t, conn)
	assert.Equal(t, MessageType("session_opened"), opened.Type)
	assert.NotEmpty(t, opened.ID)

	st.TriggerReload()
	env := readEnvelope(t, conn)
	assert.Equal(t, MsgReload, env.Type)
	assert.Equal(t, ActionRefresh, env.Action)

	st.ReportError("disk full")
	env = readEnvelope(t, conn)
	assert.Equal(t, MsgError, env.Type)
	assert.Equal(t, "disk full", env.Message)
}

func TestWS_PingPong(t *testing.T) {
	_, _, url := startServer(t, nil)
	conn, _, err := dial(t, url, testOrigin)
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(Envelope{Type: MsgPing}))
	readUntil(t, conn, MsgPong)
}

func TestWS_MalformedMessageKeepsConnection(t *testing.T) {
	_, _, url := startServer(t, nil)
	conn, _, err := dial(t, url, testOrigin)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	env := readUntil(t, conn, MsgError)
	assert.Equal(t, "malformed message", env.Message)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "mystery"}))
	require.NoError(t, conn.WriteJSON(Envelope{Type: MsgPing}))
	readUntil(t, conn, MsgPong)
}

func TestWS_TouchesSessionOnMessage(t *testing.T) {
	_, st, url := startServer(t, nil)
	conn, _, err := dial(t, url, testOrigin)
	require.NoError(t, err)
	opened := readEnvelope(t, conn)
	id := opened.Data.(map[string]any)["id"].(string)

	require.NoError(t, conn.WriteJSON(Envelope{Type: MsgPing}))
	readUntil(t, conn, MsgPong)

	sess, ok := st.Sessions.Get(id)
	require.True(t, ok)
	assert.Equal(t, uint64(1), sess.RequestCount)
}

func TestWS_DisconnectReleasesSubscriberAndSession(t *testing.T) {
	s, st, url := startServer(t, nil)
	conn, _, err := dial(t, url, testOrigin)
	require.NoError(t, err)
	readEnvelope(t, conn)

	assert.Equal(t, 1, st.Bus.SubscriberCount())
	assert.Equal(t, 1, st.Sessions.Len())
	assert.Equal(t, 1, s.Hub().ClientCount())

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	conn.Close()

	require.Eventually(t, func() bool {
		return st.Bus.SubscriberCount() == 0 && st.Sessions.Len() == 0 && s.Hub().ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWS_ConnectionLimit(t *testing.T) {
	_, _, url := startServer(t, func(c *config.Config) { c.WebSocket.MaxConnections = 1 })

	_, _, err := dial(t, url, testOrigin)
	require.NoError(t, err)

	_, resp, err := dial(t, url, testOrigin)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServe_ShutdownClosesSockets(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	ln, err := listen()
	require.NoError(t, err)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "ws://" + ln.Addr().String() + "/ws"
	conn, _, err := dial(t, url, testOrigin)
	require.NoError(t, err)
	readEnvelope(t, conn)

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	if assert.ErrorAs(t, err, &ce) {
		assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
