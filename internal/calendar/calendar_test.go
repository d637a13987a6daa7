package calendar

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caldavics/internal/cache"
	"caldavics/internal/caldav"
	appLog "caldavics/internal/log"
)

const (
	firstObject = "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//Test//EN\n" +
		"BEGIN:VEVENT\nUID:a\nDTSTART:20240101T090000Z\nDTEND:20240101T100000Z\nSUMMARY:A\nEND:VEVENT\n" +
		"END:VCALENDAR\n"
	secondObject = "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//Test//EN\n" +
		"BEGIN:VEVENT\nUID:b\nDTSTART:20240102T090000Z\nDTEND:20240102T100000Z\nSUMMARY:B\nEND:VEVENT\n" +
		"END:VCALENDAR\n"
)

type fakeUpstream struct {
	mu        sync.Mutex
	calendars []caldav.Calendar
	err       error
	queries   []caldav.Query
}

func (f *fakeUpstream) FetchCalendars(_ context.Context, q caldav.Query) ([]caldav.Calendar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.calendars, nil
}

func (f *fakeUpstream) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func oneCalendar(data ...string) []caldav.Calendar {
	cal := caldav.Calendar{URL: "http://dav.example.com/cal/", Name: "Personal"}
	for _, d := range data {
		cal.Objects = append(cal.Objects, caldav.Object{Data: d})
	}
	return []caldav.Calendar{cal}
}

func newTestOrchestrator(t *testing.T, up Upstream, store cache.Store) *Orchestrator {
	t.Helper()
	o, err := New(Options{Upstream: up, Cache: store, Timezone: "Europe/Paris"})
	require.NoError(t, err)
	return o
}

func TestNew_Validation(t *testing.T) {
	store := cache.NewMemoryStore(0, nil)
	up := &fakeUpstream{}

	_, err := New(Options{Cache: store, Timezone: "UTC"})
	assert.Error(t, err)
	_, err = New(Options{Upstream: up, Timezone: "UTC"})
	assert.Error(t, err)
	_, err = New(Options{Upstream: up, Cache: store})
	assert.Error(t, err)
}

func TestGetCalendar_AssemblesFragments(t *testing.T) {
	up := &fakeUpstream{calendars: oneCalendar(firstObject, secondObject)}
	store := cache.NewMemoryStore(time.Hour, nil)
	o := newTestOrchestrator(t, up, store)

	got, err := o.GetCalendar(context.Background(), "20240101", false)
	require.NoError(t, err)
	o.Wait()

	want := "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//Test//EN\n" +
		"BEGIN:VEVENT\nUID:a\nDTSTART;TZID=Europe/Paris:20240101T090000\nDTEND;TZID=Europe/Paris:20240101T100000\nSUMMARY:A\nEND:VEVENT\n" +
		"BEGIN:VEVENT\nUID:b\nDTSTART;TZID=Europe/Paris:20240102T090000\nDTEND;TZID=Europe/Paris:20240102T100000\nSUMMARY:B\nEND:VEVENT\n" +
		"END:VCALENDAR"
	assert.Equal(t, want, got)
	assert.Equal(t, 1, strings.Count(got, "END:VCALENDAR"))

	require.Len(t, up.queries, 1)
	assert.Equal(t, "20240101T000000Z", up.queries[0].Start)
	assert.Equal(t, "VEVENT", up.queries[0].Component)

	assert.Equal(t, 1, store.Writes())
	assert.Equal(t, got, store.Read(context.Background()))
}

func TestGetCalendar_CacheDisabledAlwaysFetches(t *testing.T) {
	up := &fakeUpstream{calendars: oneCalendar(firstObject)}
	store := cache.NewMemoryStore(time.Hour, nil)
	store.Write(context.Background(), "BEGIN:VCALENDAR\nstale\nEND:VCALENDAR")
	o := newTestOrchestrator(t, up, store)

	got, err := o.GetCalendar(context.Background(), "20000101", false)
	require.NoError(t, err)
	o.Wait()

	assert.NotContains(t, got, "stale")
	assert.Equal(t, 1, up.calls())
	assert.Equal(t, got, store.Read(context.Background()))
}

func TestGetCalendar_CacheHitSkipsUpstream(t *testing.T) {
	up := &fakeUpstream{err: errors.New("must not be called")}
	store := cache.NewMemoryStore(time.Hour, nil)
	store.Write(context.Background(), "cached payload")
	o := newTestOrchestrator(t, up, store)

	// The cache is not keyed by date: any date gets the cached payload.
	for _, date := range []string{"20000101", "20991231"} {
		got, err := o.GetCalendar(context.Background(), date, true)
		require.NoError(t, err)
		assert.Equal(t, "cached payload", got)
	}
	o.Wait()

	assert.Zero(t, up.calls())
	assert.Equal(t, 1, store.Writes())
}

func TestGetCalendar_CacheMissFetchesAndPopulates(t *testing.T) {
	up := &fakeUpstream{calendars: oneCalendar(firstObject)}
	store := cache.NewMemoryStore(time.Hour, nil)
	o := newTestOrchestrator(t, up, store)

	first, err := o.GetCalendar(context.Background(), "20000101", true)
	require.NoError(t, err)
	o.Wait()

	second, err := o.GetCalendar(context.Background(), "20000101", true)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, up.calls())
}

func TestGetCalendar_ExpiredCacheRefetches(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	up := &fakeUpstream{calendars: oneCalendar(firstObject)}
	store := cache.NewMemoryStore(time.Hour, clock)
	store.Write(context.Background(), "old")
	o := newTestOrchestrator(t, up, store)

	now = now.Add(time.Hour + time.Second)
	got, err := o.GetCalendar(context.Background(), "20000101", true)
	require.NoError(t, err)
	o.Wait()

	assert.NotEqual(t, "old", got)
	assert.Equal(t, 1, up.calls())
}

func TestGetCalendar_UpstreamError(t *testing.T) {
	cause := errors.New("connection refused")
	up := &fakeUpstream{err: cause}
	store := cache.NewMemoryStore(time.Hour, nil)
	o := newTestOrchestrator(t, up, store)

	got, err := o.GetCalendar(context.Background(), "20000101", true)
	o.Wait()

	require.Error(t, err)
	assert.Empty(t, got)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, cause)
	assert.Zero(t, store.Writes())
}

func TestGetCalendar_EmptyUpstream(t *testing.T) {
	up := &fakeUpstream{}
	store := cache.NewMemoryStore(time.Hour, nil)
	o := newTestOrchestrator(t, up, store)

	got, err := o.GetCalendar(context.Background(), "", false)
	require.NoError(t, err)
	o.Wait()

	assert.Empty(t, got)
	require.Len(t, up.queries, 1)
	assert.Equal(t, DefaultStartDate+"T000000Z", up.queries[0].Start)
	// An empty payload is still written, and reads back as a miss.
	assert.Equal(t, 1, store.Writes())
	assert.Empty(t, store.Read(context.Background()))
}

func TestGetCalendar_MultipleCalendarsConcatenate(t *testing.T) {
	up := &fakeUpstream{calendars: []caldav.Calendar{
		{URL: "http://dav.example.com/a/", Objects: []caldav.Object{{Data: firstObject}}},
		{URL: "http://dav.example.com/b/", Objects: []caldav.Object{{Data: secondObject}}},
	}}
	o := newTestOrchestrator(t, up, cache.NewMemoryStore(time.Hour, nil))

	got, err := o.GetCalendar(context.Background(), "20000101", false)
	require.NoError(t, err)
	o.Wait()

	assert.Equal(t, 1, strings.Count(got, "BEGIN:VCALENDAR"))
	assert.Equal(t, 2, strings.Count(got, "BEGIN:VEVENT"))
	assert.Less(t, strings.Index(got, "UID:a"), strings.Index(got, "UID:b"))
}

func TestGetCalendar_InvalidDate(t *testing.T) {
	for _, date := range []string{"2024", "2024-01-01", "20241301", "abcdefgh", "20240101</x>"} {
		t.Run(date, func(t *testing.T) {
			up := &fakeUpstream{calendars: oneCalendar(firstObject)}
			store := cache.NewMemoryStore(time.Hour, nil)
			o := newTestOrchestrator(t, up, store)

			_, err := o.GetCalendar(context.Background(), date, false)
			o.Wait()

			assert.ErrorIs(t, err, ErrInvalidDate)
			assert.NotErrorIs(t, err, ErrUpstream)
			assert.Zero(t, up.calls())
			assert.Zero(t, store.Writes())
		})
	}
}

func TestGetCalendar_CacheHitIgnoresMalformedDate(t *testing.T) {
	up := &fakeUpstream{calendars: oneCalendar(firstObject)}
	store := cache.NewMemoryStore(time.Hour, nil)
	store.Write(context.Background(), "cached payload")
	o := newTestOrchestrator(t, up, store)

	got, err := o.GetCalendar(context.Background(), "garbage", true)
	require.NoError(t, err)
	assert.Equal(t, "cached payload", got)
	assert.Zero(t, up.calls())

	// An expired or empty cache falls through to the fetch, which rejects it.
	o2 := newTestOrchestrator(t, up, cache.NewMemoryStore(time.Hour, nil))
	_, err = o2.GetCalendar(context.Background(), "garbage", true)
	assert.ErrorIs(t, err, ErrInvalidDate)
	assert.Zero(t, up.calls())
}

func TestGetCalendar_LogsEventSummaries(t *testing.T) {
	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	appLog.SetLevel(appLog.LevelDebug)
	t.Cleanup(func() {
		appLog.SetOutput(os.Stderr)
		appLog.SetLevel(appLog.LevelInfo)
	})

	up := &fakeUpstream{calendars: oneCalendar(firstObject, secondObject)}
	o := newTestOrchestrator(t, up, cache.NewMemoryStore(time.Hour, nil))

	_, err := o.GetCalendar(context.Background(), "20000101", false)
	require.NoError(t, err)
	o.Wait()

	assert.Contains(t, buf.String(), "msg=\"assembled calendar\"")
	assert.Contains(t, buf.String(), "events=2")
	assert.Contains(t, buf.String(), "summaries=\"[A B]\"")
}

func TestRefresh(t *testing.T) {
	up := &fakeUpstream{calendars: oneCalendar(firstObject)}
	store := cache.NewMemoryStore(time.Hour, nil)
	store.Write(context.Background(), "old")
	o := newTestOrchestrator(t, up, store)

	require.NoError(t, o.Refresh(context.Background()))

	assert.Equal(t, 2, store.Writes())
	assert.Contains(t, store.Read(context.Background()), "UID:a")
	assert.Equal(t, DefaultStartDate+"T000000Z", up.queries[0].Start)

	up.err = errors.New("down")
	assert.ErrorIs(t, o.Refresh(context.Background()), ErrUpstream)
	assert.Contains(t, store.Read(context.Background()), "UID:a")
}
