// Package mock drives simulated client sessions and tool traffic through the
// server state so the dashboard has something to show without real clients.
package mock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsboard/opsboard/internal/ledger"
	"github.com/opsboard/opsboard/internal/logging"
	"github.com/opsboard/opsboard/internal/session"
)

const DefaultInterval = 500 * time.Millisecond

// Target is the slice of the server state the generator writes to.
type Target interface {
	OpenSession(meta map[string]string) *session.Session
	TouchSession(id string) (*session.Session, bool)
	CloseSession(id string) bool
	RecordToolCall(r ledger.Record)
	ReportError(msg string)
}

type pattern int

const (
	steady pattern = iota
	burst
	stall
	failing
	methodical
)

func (p pattern) String() string {
	switch p {
	case steady:
		return "steady"
	case burst:
		return "burst"
	case stall:
		return "stall"
	case failing:
		return "failing"
	default:
		return "methodical"
	}
}

type profile struct {
	name    string
	pattern pattern
	tools   []string
	calls   int // session closes after this many calls
	failAt  int // failing only: the call that fails
}

var profiles = []profile{
	{name: "desktop-assistant", pattern: steady, calls: 60,
		tools: []string{"read_file", "list_dir", "echo", "system_info", "read_file"}},
	{name: "editor-agent", pattern: burst, calls: 80,
		tools: []string{"read_file", "http_get", "read_file", "echo"}},
	{name: "cli-inspector", pattern: stall, calls: 40,
		tools: []string{"system_info", "echo"}},
	{name: "flaky-crawler", pattern: failing, calls: 100, failAt: 12,
		tools: []string{"http_get", "read_file", "http_get"}},
	{name: "batch-indexer", pattern: methodical, calls: 120,
		tools: []string{"list_dir", "read_file", "read_file", "read_file"}},
}

type simSession struct {
	profile
	id      string
	calls   int
	toolIdx int
	done    bool
}

type Generator struct {
	target   Target
	interval time.Duration
	rnd      *rand.Rand
	sims     []*simSession
	tick     int
	log      zerolog.Logger
}

func NewGenerator(target Target, interval time.Duration) *Generator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Generator{
		target:   target,
		interval: interval,
		rnd:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed)),
		log:      logging.Component("mock"),
	}
}

// Run opens the simulated sessions and advances them every interval until
// ctx is cancelled. Sessions still open at that point are closed.
func (g *Generator) Run(ctx context.Context) error {
	g.start()
	g.log.Info().Int("sessions", len(g.sims)).Dur("interval", g.interval).Msg("mock traffic started")

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.stop()
			return nil
		case <-ticker.C:
			g.step()
		}
	}
}

func (g *Generator) start() {
	g.tick = 0
	g.sims = g.sims[:0]
	for _, p := range profiles {
		sess := g.target.OpenSession(map[string]string{
			"name":    p.name,
			"source":  "mock",
			"pattern": p.pattern.String(),
		})
		g.sims = append(g.sims, &simSession{profile: p, id: sess.ID})
	}
}

func (g *Generator) stop() {
	for _, s := range g.sims {
		if !s.done {
			g.target.CloseSession(s.id)
			s.done = true
		}
	}
}

func (g *Generator) step() {
	g.tick++
	active := 0
	for _, s := range g.sims {
		if s.done {
			continue
		}
		g.advance(s)
		if !s.done {
			active++
		}
	}
	if active == 0 {
		// every simulated session has finished; begin a fresh round
		g.log.Debug().Msg("mock round complete")
		g.start()
	}
}

func (g *Generator) advance(s *simSession) {
	if s.pattern == stall {
		// work for 40 ticks, go quiet for 30
		if g.tick%70 >= 40 {
			return
		}
	}
	if _, ok := g.target.TouchSession(s.id); !ok {
		// removed underneath us, most likely by the idle sweep
		s.done = true
		return
	}

	switch s.pattern {
	case steady:
		if g.tick%3 == 0 {
			g.call(s)
		}
	case burst:
		if g.tick%8 < 3 {
			g.call(s)
		}
	case stall:
		if g.tick%4 == 0 {
			g.call(s)
		}
	case failing:
		if g.tick%3 == 0 {
			g.call(s)
		}
	case methodical:
		if g.tick%5 != 0 {
			g.call(s)
		}
	}
	if s.done {
		return
	}

	if s.calls >= s.profile.calls {
		g.target.CloseSession(s.id)
		s.done = true
	}
}

func (g *Generator) call(s *simSession) {
	tool := s.tools[s.toolIdx%len(s.tools)]
	s.toolIdx++
	s.calls++

	d := time.Duration(20+g.rnd.IntN(400)) * time.Millisecond
	if s.pattern == failing && s.calls == s.failAt {
		g.target.RecordToolCall(ledger.NewRecord(tool, false, d, "error: upstream returned 502"))
		g.target.ReportError(fmt.Sprintf("%s: %s failed", s.name, tool))
		g.target.CloseSession(s.id)
		s.done = true
		return
	}
	g.target.RecordToolCall(ledger.NewRecord(tool, true, d, summaryFor(tool, s.calls)))
}

func summaryFor(tool string, n int) string {
	switch tool {
	case "read_file":
		return "read src/file_" + strconv.Itoa(n) + ".go"
	case "list_dir":
		return strconv.Itoa(n%17+3) + " entries"
	case "http_get":
		return "200 OK"
	case "echo":
		return "ping " + strconv.Itoa(n)
	default:
		return "ok"
	}
}
