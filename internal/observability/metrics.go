package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys shared by engine metrics.
const (
	attrKeyColumn  = "gen_kind"
	attrKeyOutcome = "outcome"
	attrKeyUsage   = "usage_kind"
)

// Cell outcomes recorded on completion.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// EngineMetrics instruments the row-generation engine: cells, chunks,
// rows and usage events. All methods are safe for concurrent use and
// no-ops under a noop meter.
type EngineMetrics struct {
	cellsStarted   metric.Int64Counter
	cellsCompleted metric.Int64Counter
	chunksEmitted  metric.Int64Counter
	rowsCommitted  metric.Int64Counter
	usageEvents    metric.Int64Counter
	cellLatency    metric.Float64Histogram
	rowsInFlight   metric.Int64UpDownCounter
}

// NewEngineMetrics constructs the engine instruments on the meter.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	b := newMetricBuilder(meter)

	m := &EngineMetrics{
		cellsStarted:   b.counter("tablefang.cells.started", "Cell generations dispatched", "{cell}"),
		cellsCompleted: b.counter("tablefang.cells.completed", "Cell generations finished, by outcome", "{cell}"),
		chunksEmitted:  b.counter("tablefang.chunks.emitted", "Streamed chunks multiplexed to clients", "{chunk}"),
		rowsCommitted:  b.counter("tablefang.rows.committed", "Rows committed to storage", "{row}"),
		usageEvents:    b.counter("tablefang.usage.events", "Usage events recorded, by kind", "{event}"),
		cellLatency: b.histogram("tablefang.cell.duration", "Wall time of one cell generation", "s",
			0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
		rowsInFlight: b.upDownCounter("tablefang.rows.in_flight", "Row executors currently running", "{row}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return m, nil
}

// CellStarted records one dispatched cell.
func (m *EngineMetrics) CellStarted(ctx context.Context, genKind string) {
	if m == nil {
		return
	}

	m.cellsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String(attrKeyColumn, genKind)))
}

// CellCompleted records one finished cell with its outcome and duration.
func (m *EngineMetrics) CellCompleted(ctx context.Context, genKind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrKeyColumn, genKind),
		attribute.String(attrKeyOutcome, outcome),
	)

	m.cellsCompleted.Add(ctx, 1, attrs)
	m.cellLatency.Record(ctx, elapsed.Seconds(), attrs)
}

// ChunkEmitted records one multiplexed chunk.
func (m *EngineMetrics) ChunkEmitted(ctx context.Context) {
	if m == nil {
		return
	}

	m.chunksEmitted.Add(ctx, 1)
}

// RowsCommitted records a batch commit.
func (m *EngineMetrics) RowsCommitted(ctx context.Context, count int) {
	if m == nil {
		return
	}

	m.rowsCommitted.Add(ctx, int64(count))
}

// UsageEvent records one usage event emission.
func (m *EngineMetrics) UsageEvent(ctx context.Context, kind string) {
	if m == nil {
		return
	}

	m.usageEvents.Add(ctx, 1, metric.WithAttributes(attribute.String(attrKeyUsage, kind)))
}

// RowStarted marks a row executor entering flight.
func (m *EngineMetrics) RowStarted(ctx context.Context) {
	if m == nil {
		return
	}

	m.rowsInFlight.Add(ctx, 1)
}

// RowFinished marks a row executor leaving flight.
func (m *EngineMetrics) RowFinished(ctx context.Context) {
	if m == nil {
		return
	}

	m.rowsInFlight.Add(ctx, -1)
}
