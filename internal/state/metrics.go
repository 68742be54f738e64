package state

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/opsboard/opsboard/internal/logging"
)

const meterName = "github.com/opsboard/opsboard/internal/state"

const (
	toolCallsInstrument  = "opsboard.tool.calls"
	toolErrorsInstrument = "opsboard.tool.errors"
)

var toolAttr = attribute.Key("tool")

// counterPrefix maps instrument names to the flat keys served by the API.
var counterPrefix = map[string]string{
	toolCallsInstrument:  "tool_calls_",
	toolErrorsInstrument: "tool_errors_",
}

// Metrics counts tool calls and failures per tool on an OpenTelemetry
// meter. Nothing is exported; a manual reader collects the cumulative sums
// whenever the API asks for them.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
	calls    metric.Int64Counter
	errors   metric.Int64Counter
}

func NewMetrics() *Metrics {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter(meterName)
	log := logging.Component("metrics")

	calls, err := meter.Int64Counter(toolCallsInstrument,
		metric.WithDescription("Tool calls recorded, by tool"),
		metric.WithUnit("{call}"))
	if err != nil {
		log.Warn().Err(err).Str("instrument", toolCallsInstrument).Msg("create counter")
	}
	errs, err := meter.Int64Counter(toolErrorsInstrument,
		metric.WithDescription("Failed tool calls, by tool"),
		metric.WithUnit("{call}"))
	if err != nil {
		log.Warn().Err(err).Str("instrument", toolErrorsInstrument).Msg("create counter")
	}
	return &Metrics{provider: provider, reader: reader, calls: calls, errors: errs}
}

// RecordCall counts one call of tool, and one error when it failed.
func (m *Metrics) RecordCall(ctx context.Context, tool string, success bool) {
	opt := metric.WithAttributes(toolAttr.String(tool))
	m.calls.Add(ctx, 1, opt)
	if !success {
		m.errors.Add(ctx, 1, opt)
	}
}

// Snapshot collects every counter as tool_calls_<tool> and
// tool_errors_<tool>. It is empty after Shutdown.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(context.Background(), &rm); err != nil {
		return out
	}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			prefix, ok := counterPrefix[md.Name]
			if !ok {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				tool, _ := dp.Attributes.Value(toolAttr)
				out[prefix+tool.AsString()] = uint64(dp.Value)
			}
		}
	}
	return out
}

func (m *Metrics) Get(name string) uint64 {
	return m.Snapshot()[name]
}

// TotalCalls sums the per-tool call counters. Unlike the ledger it is not
// bounded by capacity.
func (m *Metrics) TotalCalls() uint64 {
	var total uint64
	for k, v := range m.Snapshot() {
		if strings.HasPrefix(k, counterPrefix[toolCallsInstrument]) {
			total += v
		}
	}
	return total
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
