// Package calendar decides between the cached feed and a fresh CalDAV fetch
// and assembles upstream objects into one iCalendar payload.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"caldavics/internal/cache"
	"caldavics/internal/caldav"
	"caldavics/internal/ics"
	appLog "caldavics/internal/log"
	"caldavics/internal/telemetry"
)

// DefaultStartDate is used when a request names no start date.
const DefaultStartDate = "20000101"

// ErrUpstream wraps every failure of the CalDAV fetch.
var ErrUpstream = errors.New("calendar: upstream fetch failed")

// ErrInvalidDate is returned when a fetch is needed and the start date is
// not a YYYYMMDD calendar date.
var ErrInvalidDate = errors.New("calendar: start date must be YYYYMMDD")

// Upstream is the CalDAV collaborator: all calendars reachable from the
// configured account, each with the objects matching q.
type Upstream interface {
	FetchCalendars(ctx context.Context, q caldav.Query) ([]caldav.Calendar, error)
}

// Options configures an Orchestrator.
type Options struct {
	Upstream Upstream
	Cache    cache.Store
	// Timezone is the TZID attached to bare DTSTART/DTEND lines.
	Timezone string

	// Optional.
	Instruments *telemetry.Instruments
	Tracer      trace.Tracer
}

// Orchestrator serves calendar payloads from the cache or from upstream.
//
// Requests are not coordinated: concurrent misses each fetch upstream and
// each write back, and the cache keeps whichever write lands last.
type Orchestrator struct {
	upstream Upstream
	store    cache.Store
	tz       string
	inst     *telemetry.Instruments
	tracer   trace.Tracer

	pending sync.WaitGroup
}

// New builds an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Upstream == nil {
		return nil, errors.New("calendar: upstream is nil")
	}
	if opts.Cache == nil {
		return nil, errors.New("calendar: cache is nil")
	}
	if opts.Timezone == "" {
		return nil, errors.New("calendar: timezone is empty")
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("noop")
	}
	return &Orchestrator{
		upstream: opts.Upstream,
		store:    opts.Cache,
		tz:       opts.Timezone,
		inst:     opts.Instruments,
		tracer:   tracer,
	}, nil
}

// GetCalendar returns the calendar payload.
//
// With cacheEnabled, a fresh cached payload is returned as-is and startDate
// is ignored, even when malformed: the cache is not keyed by the filter.
// Otherwise events starting from startDate (YYYYMMDD) are fetched, normalized
// and written back to the cache without waiting for the write.
func (o *Orchestrator) GetCalendar(ctx context.Context, startDate string, cacheEnabled bool) (string, error) {
	ctx, span := o.tracer.Start(ctx, "calendar.GetCalendar", trace.WithAttributes(
		attribute.String("calendar.start_date", startDate),
		attribute.Bool("calendar.cache_enabled", cacheEnabled),
	))
	defer span.End()

	if cacheEnabled {
		cached := o.store.Read(ctx)
		o.inst.RecordCacheLookup(ctx, cached != "")
		if cached != "" {
			appLog.Info("returning cached calendar instead of fresh data", "bytes", len(cached))
			span.SetAttributes(attribute.Bool("calendar.cache_hit", true))
			return cached, nil
		}
	}

	payload, err := o.fetch(ctx, startDate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return "", err
	}

	o.writeBack(payload)
	return payload, nil
}

// Refresh fetches from DefaultStartDate and rewrites the cache, skipping the
// cache read. It waits for the write to land.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	payload, err := o.fetch(ctx, DefaultStartDate)
	if err != nil {
		return err
	}
	o.store.Write(ctx, payload)
	return nil
}

// Wait blocks until every pending cache write-back has finished.
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

func (o *Orchestrator) fetch(ctx context.Context, startDate string) (string, error) {
	if startDate == "" {
		startDate = DefaultStartDate
	}
	if !validDate(startDate) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, startDate)
	}
	query := caldav.Query{Component: "VEVENT", Start: startDate + "T000000Z"}

	appLog.Info("fetching calendar", "start", query.Start)
	started := time.Now()
	calendars, err := o.upstream.FetchCalendars(ctx, query)
	if err != nil {
		o.inst.RecordFetch(ctx, time.Since(started), 0, err)
		appLog.Error("calendar fetch failed", err, "start", query.Start)
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	// Objects of later calendars are appended after earlier ones as if they
	// belonged to the same VCALENDAR; one calendar is assumed.
	asm := ics.NewAssembler(o.tz)
	for _, cal := range calendars {
		for _, obj := range cal.Objects {
			asm.Add(obj.Data)
		}
	}
	payload := asm.Finish()

	o.inst.RecordFetch(ctx, time.Since(started), asm.Fragments(), nil)
	appLog.Info("calendar fetched",
		"calendars", len(calendars),
		"objects", asm.Fragments(),
		"bytes", len(payload),
		"duration", time.Since(started),
	)
	if len(calendars) > 1 {
		appLog.Info("more than one calendar found; events are merged into one feed", "calendars", len(calendars))
	}
	o.inspect(payload)

	return payload, nil
}

// writeBack stores payload without blocking the caller. It runs detached
// from the request context so a finished request does not cancel it.
func (o *Orchestrator) writeBack(payload string) {
	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		o.store.Write(context.Background(), payload)
	}()
}

func (o *Orchestrator) inspect(payload string) {
	sum, err := ics.Inspect(payload)
	if err != nil {
		appLog.Info("assembled calendar does not parse cleanly; serving as-is", "err", err)
		return
	}
	appLog.Debug("assembled calendar", "events", sum.Events, "summaries", sum.Summaries)
}

func validDate(s string) bool {
	if len(s) != 8 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	_, err := time.Parse("20060102", s)
	return err == nil
}
