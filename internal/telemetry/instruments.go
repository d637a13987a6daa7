package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instruments are the calendar feed's metrics.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: recording never fails or panics.
type Instruments struct {
	cacheLookups     metric.Int64Counter
	upstreamFetches  metric.Int64Counter
	upstreamDuration metric.Float64Histogram
	objects          metric.Int64Counter
}

// NewInstruments registers the instruments on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	cacheLookups, err := meter.Int64Counter(
		"calendar.cache.lookups",
		metric.WithDescription("Cache reads by result (hit, miss)"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	upstreamFetches, err := meter.Int64Counter(
		"calendar.upstream.fetches",
		metric.WithDescription("CalDAV fetches by outcome (ok, error)"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	upstreamDuration, err := meter.Float64Histogram(
		"calendar.upstream.duration_ms",
		metric.WithDescription("CalDAV fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	objects, err := meter.Int64Counter(
		"calendar.upstream.objects",
		metric.WithDescription("Calendar objects received from CalDAV"),
		metric.WithUnit("{object}"),
	)
	if err != nil {
		return nil, err
	}

	return &Instruments{
		cacheLookups:     cacheLookups,
		upstreamFetches:  upstreamFetches,
		upstreamDuration: upstreamDuration,
		objects:          objects,
	}, nil
}

// RecordCacheLookup counts one cache read.
func (i *Instruments) RecordCacheLookup(ctx context.Context, hit bool) {
	if i == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	i.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordFetch records one upstream fetch and how many objects it returned.
func (i *Instruments) RecordFetch(ctx context.Context, duration time.Duration, objects int, err error) {
	if i == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	opt := metric.WithAttributes(attribute.String("outcome", outcome))
	i.upstreamFetches.Add(ctx, 1, opt)
	i.upstreamDuration.Record(ctx, float64(duration.Microseconds())/1000.0, opt)
	if objects > 0 {
		i.objects.Add(ctx, int64(objects))
	}
}
