package client

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opsboard/opsboard/internal/clock"
)

const waitTimeout = 2 * time.Second

// fakeConn is a scripted transport. Inbound frames are queued on in; the
// remote side closes it with drop.
type fakeConn struct {
	in     chan []byte
	writes chan string
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	remote    *CloseError
	localCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		writes: make(chan string, 16),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.remote != nil {
			return nil, c.remote
		}
		return nil, &CloseError{Code: CloseAbnormal}
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	out, ok := v.(outbound)
	if !ok {
		return nil
	}
	select {
	case c.writes <- out.Type:
	default:
	}
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.localCode == 0 {
		c.localCode = code
	}
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) deliver(frame string) { c.in <- []byte(frame) }

func (c *fakeConn) drop(code int) {
	c.mu.Lock()
	c.remote = &CloseError{Code: code}
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

func (c *fakeConn) closedWith() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localCode
}

func (c *fakeConn) expectWrite(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-c.writes:
		require.Equal(t, want, got)
	case <-time.After(waitTimeout):
		t.Fatalf("no %q written", want)
	}
}

type dialResult struct {
	conn Conn
	err  error
}

type dialAttempt struct {
	ctx    context.Context
	result chan dialResult
}

func (a *dialAttempt) succeed() *fakeConn {
	conn := newFakeConn()
	a.result <- dialResult{conn: conn}
	return conn
}

func (a *dialAttempt) fail(err error) { a.result <- dialResult{err: err} }

// fakeDialer hands every Dial to the test, which resolves it.
type fakeDialer struct {
	attempts chan *dialAttempt
	count    atomic.Int32
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{attempts: make(chan *dialAttempt, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, _ http.Header) (Conn, error) {
	d.count.Add(1)
	a := &dialAttempt{ctx: ctx, result: make(chan dialResult, 1)}
	d.attempts <- a
	select {
	case r := <-a.result:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) next(t *testing.T) *dialAttempt {
	t.Helper()
	select {
	case a := <-d.attempts:
		return a
	case <-time.After(waitTimeout):
		t.Fatal("no dial attempt")
		return nil
	}
}

func (d *fakeDialer) expectNone(t *testing.T) {
	t.Helper()
	select {
	case <-d.attempts:
		t.Fatal("unexpected dial attempt")
	case <-time.After(50 * time.Millisecond):
	}
}

type recordingNotifier struct {
	mu         sync.Mutex
	infos      []string
	warns      []string
	persistent []string
	dismissed  int
}

func (n *recordingNotifier) Info(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos = append(n.infos, msg)
}

func (n *recordingNotifier) Warn(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warns = append(n.warns, msg)
}

func (n *recordingNotifier) Persistent(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.persistent = append(n.persistent, msg)
}

func (n *recordingNotifier) Dismiss() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dismissed++
}

func (n *recordingNotifier) snapshot() (infos, warns, persistent []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.infos...),
		append([]string(nil), n.warns...),
		append([]string(nil), n.persistent...)
}

type harness struct {
	t        *testing.T
	c        *Client
	dialer   *fakeDialer
	clock    *clock.Fake
	notes    *recordingNotifier
	states   chan State
	messages chan Message
	closes   chan closeReport
	reloads  atomic.Int32
}

type closeReport struct {
	code     int
	retrying bool
}

func testConfig() Config {
	return Config{
		Policy: Policy{
			Base:        time.Second,
			Max:         30 * time.Second,
			MaxAttempts: 10,
			Jitter:      time.Second,
		},
		KeepaliveInterval: 30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		ReloadGrace:       500 * time.Millisecond,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		dialer:   newFakeDialer(),
		clock:    clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		notes:    &recordingNotifier{},
		states:   make(chan State, 256),
		messages: make(chan Message, 64),
		closes:   make(chan closeReport, 16),
	}
	h.c = New("ws://dashboard.test/ws", cfg,
		WithDialer(h.dialer),
		WithClock(h.clock),
		WithNotifier(h.notes),
		WithRand(func() float64 { return 0 }),
		OnStateChange(func(s State) { h.states <- s }),
		OnMessage(func(m Message) { h.messages <- m }),
		OnReload(func() { h.reloads.Add(1) }),
		OnClose(func(code int, retrying bool) {
			select {
			case h.closes <- closeReport{code, retrying}:
			default:
			}
		}),
	)
	t.Cleanup(h.c.Close)
	return h
}

// waitState consumes transitions until want is seen.
func (h *harness) waitState(want State) {
	h.t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
		case <-timeout:
			h.t.Fatalf("state %s never reached, currently %s", want, h.c.State())
		}
	}
}

func (h *harness) waitMessage() Message {
	h.t.Helper()
	select {
	case m := <-h.messages:
		return m
	case <-time.After(waitTimeout):
		h.t.Fatal("no message handled")
		return Message{}
	}
}

// open starts the client and completes the first dial.
func (h *harness) open() *fakeConn {
	h.t.Helper()
	h.c.Start()
	conn := h.dialer.next(h.t).succeed()
	h.waitState(Open)
	return conn
}

func (h *harness) eventually(cond func() bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, cond, waitTimeout, 5*time.Millisecond, msg)
}
