package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Export outcomes recorded in metrics.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Delivery modes.
const (
	ModeBuffered = "buffered"
	ModeStreamed = "streamed"
	ModeAsync    = "async"
)

// Metrics records export counters with OpenTelemetry.
type Metrics struct {
	exports  metric.Int64Counter
	rows     metric.Int64Counter
	bytes    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics creates the export instruments on meter. A nil meter records
// nothing.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("tabexport")
	}
	m := &Metrics{}

	var err error
	m.exports, err = meter.Int64Counter(
		"tabexport.exports",
		metric.WithDescription("Number of exports by format, mode and outcome"),
		metric.WithUnit("{export}"),
	)
	if err != nil {
		return nil, err
	}

	m.rows, err = meter.Int64Counter(
		"tabexport.rows",
		metric.WithDescription("Rows written by successful exports"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	m.bytes, err = meter.Int64Counter(
		"tabexport.bytes",
		metric.WithDescription("Encoded bytes delivered"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(
		"tabexport.duration",
		metric.WithDescription("Export duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Record adds one export to the instruments.
func (m *Metrics) Record(ctx context.Context, format, mode, outcome string, rows int, bytes int64, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("format", format),
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	)
	m.exports.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(d.Microseconds())/1000, attrs)
	if outcome == OutcomeSuccess {
		m.rows.Add(ctx, int64(rows), attrs)
		m.bytes.Add(ctx, bytes, attrs)
	}
}
