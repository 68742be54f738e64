// Package client is a reconnecting consumer of the dashboard socket. It
// keeps the connection alive, retries with exponential backoff when it
// drops, and performs a one-shot action when the server asks for a reload.
//
// All state lives in a single control loop. Transport goroutines and timers
// only post commands to it, tagged with the generation they belong to, so a
// callback from a superseded connection or a cancelled timer is dropped
// instead of mutating current state.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/opsboard/opsboard/internal/clock"
	"github.com/opsboard/opsboard/internal/logging"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
	Closed
	ReconnectScheduled
	ManuallyDisconnected
	Exhausted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case ReconnectScheduled:
		return "reconnect_scheduled"
	case ManuallyDisconnected:
		return "manually_disconnected"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the timing knobs. Zero fields take the defaults.
type Config struct {
	Policy            Policy
	KeepaliveInterval time.Duration
	HandshakeTimeout  time.Duration
	ReloadGrace       time.Duration
	Header            http.Header
}

func DefaultConfig() Config {
	return Config{
		Policy:            DefaultPolicy(),
		KeepaliveInterval: 30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		ReloadGrace:       500 * time.Millisecond,
	}
}

type Option func(*Client)

func WithDialer(d Dialer) Option         { return func(c *Client) { c.dialer = d } }
func WithClock(clk clock.Clock) Option   { return func(c *Client) { c.clock = clk } }
func WithNotifier(n Notifier) Option     { return func(c *Client) { c.notifier = n } }
func WithRand(rnd func() float64) Option { return func(c *Client) { c.rnd = rnd } }

// OnReload sets the action run when the server requests a reload. Repeated
// requests on one connection run it once.
func OnReload(fn func()) Option { return func(c *Client) { c.onReload = fn } }

// OnStateChange is called from the control loop after every transition.
// Callbacks must not call back into the Client.
func OnStateChange(fn func(State)) Option { return func(c *Client) { c.onState = fn } }

// OnClose is called from the control loop when an open connection ends,
// with the close code and whether a reconnect follows. Transport errors
// without a close frame report CloseAbnormal.
func OnClose(fn func(code int, retrying bool)) Option { return func(c *Client) { c.onClose = fn } }

// OnMessage receives every well-formed inbound message.
func OnMessage(fn func(Message)) Option { return func(c *Client) { c.onMessage = fn } }

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdConnected
	cmdDialFailed
	cmdClosed
	cmdMessage
	cmdTimer
	cmdTeardown
	cmdReconnect
	cmdStop
)

type timerKind int

const (
	timerHandshake timerKind = iota
	timerReconnect
	timerKeepalive
	timerGrace
	numTimers
)

type command struct {
	kind  cmdKind
	gen   uint64
	conn  Conn
	err   error
	data  []byte
	timer timerKind
	reply chan struct{}
}

type snapshot struct {
	state    State
	attempts int
	lastErr  error
	retryIn  time.Duration
}

type Client struct {
	url       string
	cfg       Config
	dialer    Dialer
	clock     clock.Clock
	notifier  Notifier
	rnd       func() float64
	onReload  func()
	onState   func(State)
	onClose   func(int, bool)
	onMessage func(Message)
	log       zerolog.Logger

	cmds       chan command
	done       chan struct{}
	reloaded   chan struct{}
	start      sync.Once
	reloadOnce sync.Once
	snap       atomic.Pointer[snapshot]

	// owned by the control loop
	state       State
	backoff     *Backoff
	lastErr     error
	retryIn     time.Duration
	gen         uint64
	conn        Conn
	cancelDial  context.CancelFunc
	timers      [numTimers]clock.Timer
	timerGen    [numTimers]uint64
	reloadGuard bool
}

func New(url string, cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.Policy.Base <= 0 {
		cfg.Policy = def.Policy
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ReloadGrace <= 0 {
		cfg.ReloadGrace = def.ReloadGrace
	}

	c := &Client{
		url:      url,
		cfg:      cfg,
		clock:    clock.Real(),
		notifier: nopNotifier{},
		log:      logging.Component("client").With().Str("url", url).Logger(),
		cmds:     make(chan command),
		done:     make(chan struct{}),
		reloaded: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = WebSocketDialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	c.backoff = NewBackoff(cfg.Policy, c.rnd)
	c.publish()
	return c
}

// Start begins connecting. Calling it again has no effect.
func (c *Client) Start() {
	c.start.Do(func() {
		go c.loop()
		c.send(command{kind: cmdStart})
	})
}

// Disconnect tears the connection down with a clean close. The client stays
// in ManuallyDisconnected until Reconnect.
func (c *Client) Disconnect() { c.call(cmdTeardown) }

// Reconnect resets the attempt counter and connects again, from any state.
func (c *Client) Reconnect() { c.call(cmdReconnect) }

// Close disconnects and stops the control loop. The client cannot be
// restarted.
func (c *Client) Close() {
	c.start.Do(func() {
		// never started: nothing to tear down
		c.state = ManuallyDisconnected
		c.publish()
		close(c.done)
	})
	c.call(cmdStop)
	<-c.done
}

func (c *Client) State() State           { return c.snap.Load().state }
func (c *Client) Attempts() int          { return c.snap.Load().attempts }
func (c *Client) LastError() error       { return c.snap.Load().lastErr }
func (c *Client) RetryIn() time.Duration { return c.snap.Load().retryIn }

// Reloaded is closed once the first reload action has run. A later reload,
// after Reconnect, runs the action again but leaves the channel as is.
func (c *Client) Reloaded() <-chan struct{} { return c.reloaded }

// Done is closed when the control loop exits.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) send(cmd command) {
	select {
	case c.cmds <- cmd:
	case <-c.done:
	}
}

// call posts a command and waits until the loop has handled it.
func (c *Client) call(kind cmdKind) {
	c.Start()
	reply := make(chan struct{})
	c.send(command{kind: kind, reply: reply})
	select {
	case <-reply:
	case <-c.done:
	}
}

func (c *Client) loop() {
	defer close(c.done)
	for cmd := range c.cmds {
		stop := c.handle(cmd)
		c.publish()
		if cmd.reply != nil {
			close(cmd.reply)
		}
		if stop {
			return
		}
	}
}

func (c *Client) handle(cmd command) (stop bool) {
	switch cmd.kind {
	case cmdStart:
		if c.state == Disconnected {
			c.connect()
		}
	case cmdConnected:
		c.onConnected(cmd)
	case cmdDialFailed:
		if cmd.gen == c.gen && c.state == Connecting {
			c.cancelTimer(timerHandshake)
			c.fail(cmd.err)
		}
	case cmdClosed:
		c.onClosed(cmd)
	case cmdMessage:
		if cmd.gen == c.gen && c.state == Open {
			c.onMessageData(cmd.data)
		}
	case cmdTimer:
		c.onTimer(cmd)
	case cmdTeardown:
		c.teardown("client disconnect")
	case cmdReconnect:
		c.teardown("client reconnect")
		c.reloadGuard = false
		c.backoff.Reset()
		c.lastErr = nil
		c.notifier.Dismiss()
		c.connect()
	case cmdStop:
		c.teardown("client closed")
		return true
	}
	return false
}

func (c *Client) setState(s State) {
	if c.state == s {
		return
	}
	c.log.Debug().Stringer("from", c.state).Stringer("to", s).Msg("state change")
	c.state = s
	c.publish()
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Client) publish() {
	c.snap.Store(&snapshot{
		state:    c.state,
		attempts: c.backoff.Attempts(),
		lastErr:  c.lastErr,
		retryIn:  c.retryIn,
	})
}

func (c *Client) connect() {
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	c.setState(Connecting)
	c.armTimer(timerHandshake, c.cfg.HandshakeTimeout)

	go func() {
		conn, err := c.dialer.Dial(ctx, c.url, c.cfg.Header)
		if err != nil {
			c.send(command{kind: cmdDialFailed, gen: gen, err: err})
			return
		}
		c.send(command{kind: cmdConnected, gen: gen, conn: conn})
	}()
}

func (c *Client) onConnected(cmd command) {
	if cmd.gen != c.gen || c.state != Connecting {
		// superseded attempt; the loop has moved on
		cmd.conn.Close(CloseNormal, "superseded")
		return
	}
	c.cancelTimer(timerHandshake)
	c.cancelTimer(timerReconnect)
	c.cancelDial = nil

	wasRetrying := c.backoff.Attempts() > 0
	c.conn = cmd.conn
	c.backoff.Reset()
	c.lastErr = nil
	c.retryIn = 0
	c.armTimer(timerKeepalive, c.cfg.KeepaliveInterval)
	c.setState(Open)
	c.notifier.Dismiss()
	if wasRetrying {
		c.notifier.Info("Reconnected")
	}
	c.log.Info().Msg("connected")

	go c.readLoop(cmd.conn, cmd.gen)
}

func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.send(command{kind: cmdClosed, gen: gen, err: err})
			return
		}
		c.send(command{kind: cmdMessage, gen: gen, data: data})
	}
}

func (c *Client) onClosed(cmd command) {
	if cmd.gen != c.gen || c.state != Open {
		return
	}
	if c.reloadGuard {
		// expected fallout of the pending reload
		return
	}
	c.cancelTimer(timerKeepalive)
	c.conn = nil
	c.setState(Closed)

	code, retry := CloseAbnormal, true
	var ce *CloseError
	if errors.As(cmd.err, &ce) {
		code = ce.Code
		_, retry = ClassifyClose(code)
	}
	if c.onClose != nil {
		c.onClose(code, retry)
	}
	if !retry {
		c.log.Info().Int("code", code).Msg("connection closed cleanly")
		c.notifier.Info("Connection closed")
		return
	}
	c.fail(cmd.err)
}

// fail records a failed attempt or dropped connection and either schedules
// the next attempt or gives up.
func (c *Client) fail(err error) {
	classified := classify(err)
	c.lastErr = classified

	next := c.backoff.NextBackOff()
	if next == backoff.Stop {
		c.retryIn = 0
		c.lastErr = &Error{Kind: KindExhausted, Err: fmt.Errorf("%w after %d attempts: %w", ErrExhausted, c.backoff.Attempts(), classified)}
		c.setState(Exhausted)
		c.log.Error().Err(classified).Int("attempts", c.backoff.Attempts()).Msg("giving up reconnecting")
		c.notifier.Persistent(fmt.Sprintf(
			"Connection lost. Stopped retrying after %d attempts; refresh or reconnect manually.",
			c.backoff.Attempts()))
		return
	}

	c.retryIn = next
	c.armTimer(timerReconnect, next)
	c.setState(ReconnectScheduled)
	c.log.Warn().Err(classified).Int("attempt", c.backoff.Attempts()).Dur("delay", next).Msg("reconnect scheduled")

	if classified.Kind == KindSecurity {
		// never reveal why the server refused
		c.notifier.Warn("Unable to connect to server. Retrying.")
		return
	}
	c.notifier.Warn(fmt.Sprintf("Connection lost. Reconnecting in %s (attempt %d of %d).",
		next.Round(time.Second/10), c.backoff.Attempts(), c.cfg.Policy.MaxAttempts))
}

func (c *Client) onMessageData(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		if err == nil {
			err = errors.New("message without type")
		}
		c.lastErr = &Error{Kind: KindProtocol, Err: err}
		c.log.Warn().Err(err).Msg("malformed message")
		c.notifier.Warn("Received a malformed message from the server")
		return
	}
	msg.Raw = data

	switch msg.Type {
	case typeReload:
		c.onReloadRequest()
	case typePing:
		conn := c.conn
		go conn.WriteJSON(outbound{Type: typePong})
	case typePong:
		c.log.Trace().Msg("pong")
	case typeError:
		c.log.Warn().Str("message", msg.Message).Msg("server reported error")
		c.notifier.Warn(msg.Message)
	default:
		if !eventTypes[msg.Type] {
			c.lastErr = &Error{Kind: KindProtocol, Err: fmt.Errorf("unknown message type %q", msg.Type)}
			c.log.Warn().Str("type", msg.Type).Msg("unknown message type")
			c.notifier.Warn("Received an unknown message from the server")
		}
	}
	if c.onMessage != nil {
		c.onMessage(msg)
	}
}

func (c *Client) onReloadRequest() {
	if c.reloadGuard {
		return
	}
	c.reloadGuard = true
	c.cancelTimer(timerKeepalive)
	c.cancelTimer(timerReconnect)
	c.cancelTimer(timerHandshake)
	c.log.Info().Dur("grace", c.cfg.ReloadGrace).Msg("reload requested")
	c.notifier.Info("Update available. Reloading.")
	c.armTimer(timerGrace, c.cfg.ReloadGrace)
}

func (c *Client) onTimer(cmd command) {
	k := cmd.timer
	if c.timers[k] == nil || c.timerGen[k] != cmd.gen {
		return
	}
	c.timers[k] = nil

	switch k {
	case timerHandshake:
		if c.state != Connecting {
			return
		}
		if c.cancelDial != nil {
			c.cancelDial()
			c.cancelDial = nil
		}
		// the dial goroutine's eventual result belongs to this generation
		c.gen++
		c.fail(ErrHandshakeTimeout)
	case timerReconnect:
		if c.state == ReconnectScheduled {
			c.connect()
		}
	case timerKeepalive:
		if c.state != Open || c.reloadGuard {
			return
		}
		c.armTimer(timerKeepalive, c.cfg.KeepaliveInterval)
		conn := c.conn
		go func() {
			if err := conn.WriteJSON(outbound{Type: typePing}); err != nil {
				c.log.Debug().Err(err).Msg("keepalive write failed")
			}
		}()
	case timerGrace:
		c.performReload()
	}
}

func (c *Client) performReload() {
	c.teardownTransport("reload")
	c.setState(ManuallyDisconnected)
	if c.onReload != nil {
		c.onReload()
	}
	c.reloadOnce.Do(func() { close(c.reloaded) })
}

// teardown stops everything and leaves the client ManuallyDisconnected.
// A pending reload is abandoned, but a reload that already ran stays done.
func (c *Client) teardown(reason string) {
	if c.state == ManuallyDisconnected {
		return
	}
	if c.state == Open {
		c.setState(Closing)
	}
	c.teardownTransport(reason)
	c.retryIn = 0
	c.setState(ManuallyDisconnected)
}

func (c *Client) teardownTransport(reason string) {
	for k := range c.timers {
		c.cancelTimer(timerKind(k))
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	// outstanding dial results and reads belong to a dead generation now
	c.gen++
	if c.conn != nil {
		if err := c.conn.Close(CloseNormal, reason); err != nil {
			c.log.Debug().Err(err).Msg("close transport")
		}
		c.conn = nil
	}
}

func (c *Client) armTimer(k timerKind, d time.Duration) {
	c.cancelTimer(k)
	gen := c.timerGen[k]
	c.timers[k] = c.clock.AfterFunc(d, func() {
		c.send(command{kind: cmdTimer, timer: k, gen: gen})
	})
}

func (c *Client) cancelTimer(k timerKind) {
	if t := c.timers[k]; t != nil {
		t.Stop()
		c.timers[k] = nil
	}
	c.timerGen[k]++
}
