package ics

import (
	"errors"
	"strings"

	ical "github.com/arran4/golang-ical"
)

// Summary describes an assembled payload for diagnostic logging.
type Summary struct {
	Events    int
	Summaries []string
}

// Inspect parses payload with a real iCalendar parser and reports what a
// subscriber will see. It never changes the payload; callers log the error
// and still serve the text as-is.
func Inspect(payload string) (Summary, error) {
	if payload == "" {
		return Summary{}, nil
	}

	cal, err := ical.ParseCalendar(strings.NewReader(payload))
	if err != nil {
		return Summary{}, err
	}
	if cal == nil {
		return Summary{}, errors.New("ics: parser returned no calendar")
	}

	var out Summary
	for _, ev := range cal.Events() {
		out.Events++
		if p := ev.GetProperty(ical.ComponentPropertySummary); p != nil {
			out.Summaries = append(out.Summaries, p.Value)
		}
	}
	return out, nil
}
