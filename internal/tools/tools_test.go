package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsboard/opsboard/internal/ledger"
	"github.com/opsboard/opsboard/internal/status"
)

type recorder struct {
	records []ledger.Record
}

func (r *recorder) RecordToolCall(rec ledger.Record) { r.records = append(r.records, rec) }

type failing struct{}

func (failing) Name() string        { return "fail" }
func (failing) Description() string { return "always fails" }
func (failing) Call(context.Context, map[string]any) (any, error) {
	return nil, errors.New("nope")
}

func newTestExecutor(t *testing.T) (*Executor, *recorder) {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, t.TempDir()))
	require.NoError(t, reg.Register(failing{}))
	rec := &recorder{}
	ex := NewExecutor(reg, rec)

	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ex.now = func() time.Time {
		tick = tick.Add(25 * time.Millisecond)
		return tick
	}
	return ex, rec
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Echo{}))
	err := reg.Register(Echo{})
	assert.ErrorIs(t, err, ErrDuplicateTool)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, ""))
	list := reg.List()
	require.Len(t, list, 5)
	assert.Equal(t, "echo", list[0].Name)
	assert.Equal(t, "http_get", list[1].Name)
	assert.Equal(t, "list_dir", list[2].Name)
	assert.Equal(t, "read_file", list[3].Name)
	assert.Equal(t, "system_info", list[4].Name)
}

func TestExecute_Success(t *testing.T) {
	ex, rec := newTestExecutor(t)

	res, err := ex.Execute(context.Background(), "echo", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Output)
	assert.True(t, res.Record.Success)
	assert.Equal(t, uint64(25), res.Record.DurationMS)
	assert.Equal(t, "hello", res.Record.Summary)

	require.Len(t, rec.records, 1)
	assert.Equal(t, res.Record.ID, rec.records[0].ID)
}

func TestExecute_ToolErrorIsRecorded(t *testing.T) {
	ex, rec := newTestExecutor(t)

	res, err := ex.Execute(context.Background(), "fail", nil)
	require.Error(t, err)
	assert.Equal(t, "nope", res.Error)
	assert.False(t, res.Record.Success)
	require.Len(t, rec.records, 1)
	assert.False(t, rec.records[0].Success)
}

func TestExecute_UnknownTool(t *testing.T) {
	ex, rec := newTestExecutor(t)

	_, err := ex.Execute(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.Empty(t, rec.records)
}

func TestExecute_EchoMissingArgument(t *testing.T) {
	ex, _ := newTestExecutor(t)
	_, err := ex.Execute(context.Background(), "echo", map[string]any{"text": 5})
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "short", Summarize("short"))

	long := strings.Repeat("x", 500)
	got := Summarize(long)
	assert.Len(t, []rune(got), 200)
	assert.True(t, strings.HasSuffix(got, "..."))

	assert.Equal(t, `{"a":1}`, summarizeValue(map[string]int{"a": 1}))
}

func TestSystemInfo_PartialSample(t *testing.T) {
	tool := SystemInfo{Collect: func(context.Context) (status.HostStats, error) {
		return status.HostStats{NumCPU: 4, SampledAt: time.Now()}, errors.New("load unavailable")
	}}
	out, err := tool.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, out.(status.HostStats).NumCPU)

	tool.Collect = func(context.Context) (status.HostStats, error) {
		return status.HostStats{}, errors.New("broken")
	}
	_, err = tool.Call(context.Background(), nil)
	assert.Error(t, err)
}
