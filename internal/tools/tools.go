// Package tools is the registry and execution boundary for server tools.
// Every execution is timed and recorded in the tool call ledger.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opsboard/opsboard/internal/ledger"
)

var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrDuplicateTool = errors.New("tool already registered")
)

type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, args map[string]any) (any, error)
}

type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Info{Name: t.Name(), Description: t.Description()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Recorder receives a record for every completed execution.
type Recorder interface {
	RecordToolCall(r ledger.Record)
}

type Executor struct {
	registry *Registry
	recorder Recorder
	now      func() time.Time
}

func NewExecutor(registry *Registry, recorder Recorder) *Executor {
	return &Executor{registry: registry, recorder: recorder, now: time.Now}
}

// Result is what Execute returns to the caller alongside the ledger record.
type Result struct {
	Record ledger.Record `json:"record"`
	Output any           `json:"output,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Execute runs the named tool and records the outcome. Unknown tools are
// rejected without a ledger entry. A tool error is recorded as a failed
// call and also returned.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (Result, error) {
	t, ok := e.registry.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	start := e.now()
	out, err := t.Call(ctx, args)
	elapsed := e.now().Sub(start)

	var res Result
	if err != nil {
		res.Error = err.Error()
		res.Record = ledger.NewRecord(name, false, elapsed, Summarize(err.Error()))
	} else {
		res.Output = out
		res.Record = ledger.NewRecord(name, true, elapsed, summarizeValue(out))
	}
	e.recorder.RecordToolCall(res.Record)

	if err != nil {
		return res, fmt.Errorf("tool %s: %w", name, err)
	}
	return res, nil
}

const maxSummary = 200

// Summarize truncates s to a display-sized summary.
func Summarize(s string) string {
	r := []rune(s)
	if len(r) <= maxSummary {
		return s
	}
	return string(r[:maxSummary-3]) + "..."
}

func summarizeValue(v any) string {
	if s, ok := v.(string); ok {
		return Summarize(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Summarize(fmt.Sprint(v))
	}
	return Summarize(string(b))
}
