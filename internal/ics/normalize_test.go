package ics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	fragmentA = "BEGIN:VCALENDAR\nVERSION:2.0\nBEGIN:VEVENT\nSUMMARY:A\nEND:VEVENT\nEND:VCALENDAR\n"
	fragmentB = "BEGIN:VCALENDAR\nVERSION:2.0\nBEGIN:VEVENT\nSUMMARY:B\nEND:VEVENT\nEND:VCALENDAR\n"
)

func TestNormalize_HeaderAndFooter(t *testing.T) {
	first := Normalize(fragmentA, true, "UTC")
	assert.Equal(t, "BEGIN:VCALENDAR\nVERSION:2.0\nBEGIN:VEVENT\nSUMMARY:A\nEND:VEVENT\n", first)

	rest := Normalize(fragmentB, false, "UTC")
	assert.Equal(t, "BEGIN:VEVENT\nSUMMARY:B\nEND:VEVENT\n", rest)
	assert.NotContains(t, rest, "VERSION")
}

func TestNormalize_TimezoneInjection(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bare dtstart",
			in:   "DTSTART:20130802T103400\n",
			want: "DTSTART;TZID=America/New_York:20130802T103400\n",
		},
		{
			name: "bare dtend",
			in:   "DTEND:20130802T110400\n",
			want: "DTEND;TZID=America/New_York:20130802T110400\n",
		},
		{
			name: "existing tzid untouched",
			in:   "DTSTART;TZID=Europe/Paris:20130802T103400\n",
			want: "DTSTART;TZID=Europe/Paris:20130802T103400\n",
		},
		{
			name: "only first occurrence",
			in:   "DTSTART:20130802T103415\nDTSTART:20130803T103415\n",
			want: "DTSTART;TZID=America/New_York:20130802T103415\nDTSTART:20130803T103415\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in, true, "America/New_York"))
		})
	}
}

func TestNormalize_UTCSuffix(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"whole minute", "DTSTART:20130802T103400Z\n", "DTSTART;TZID=Europe/Paris:20130802T103400\n"},
		{"seconds set keeps Z", "DTSTART:20130802T103415Z\n", "DTSTART;TZID=Europe/Paris:20130802T103415Z\n"},
		{"crlf whole minute", "DTEND:20130802T110000Z\r\n", "DTEND;TZID=Europe/Paris:20130802T110000\r\n"},
		{"every line", "DTSTAMP:20240101T120000Z\nCREATED:20240101T110000Z\n", "DTSTAMP:20240101T120000\nCREATED:20240101T110000\n"},
		{"not at end of line", "X-NOTE:100Z apples\n", "X-NOTE:100Z apples\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in, true, "Europe/Paris"))
		})
	}
}

func TestNormalize_MissingMarkers(t *testing.T) {
	// No BEGIN:VEVENT and no END:VCALENDAR: truncation steps do nothing.
	in := "garbage\nSUMMARY:x\n"
	assert.Equal(t, in, Normalize(in, false, "UTC"))
}

func TestAssembler_EndToEnd(t *testing.T) {
	a := NewAssembler("America/New_York")
	a.Add(fragmentA)
	a.Add(fragmentB)

	got := a.Finish()

	assert.Equal(t, 2, a.Fragments())
	assert.Equal(t, 1, strings.Count(got, "BEGIN:VCALENDAR"))
	assert.Equal(t, 1, strings.Count(got, "END:VCALENDAR"))
	assert.True(t, strings.HasPrefix(got, "BEGIN:VCALENDAR"))
	assert.True(t, strings.HasSuffix(got, "END:VCALENDAR"))
	assert.Less(t, strings.Index(got, "SUMMARY:A"), strings.Index(got, "SUMMARY:B"))
}

func TestAssembler_Empty(t *testing.T) {
	a := NewAssembler("UTC")
	assert.Equal(t, "", a.Finish())

	a.Add("")
	assert.Equal(t, "", a.Finish(), "empty fragments produce no content")
}
