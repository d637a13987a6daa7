package ics

import "strings"

// Markers the normalizer cuts on. Matching is literal; fragments are never
// parsed.
const (
	beginEvent    = "BEGIN:VEVENT"
	endCalendar   = "END:VCALENDAR"
	bareDTStart   = "DTSTART:"
	bareDTEnd     = "DTEND:"
	utcMinuteLF   = "00Z\n"
	utcMinuteCRLF = "00Z\r\n"
)

// Normalize cleans one CalDAV calendar-data fragment so that fragments can be
// concatenated into a single VCALENDAR:
//
//  1. unless isFirst, everything before the first BEGIN:VEVENT is dropped
//     (the repeated VCALENDAR header of every object);
//  2. the first END:VCALENDAR and everything after it is dropped;
//  3. the first bare "DTSTART:" and "DTEND:" get ";TZID=<tz>" attached
//     (lines already carrying parameters do not match);
//  4. every "00Z" at end of line loses its Z.
//
// A missing marker makes its step a no-op. The result lacks the closing
// END:VCALENDAR; Assembler.Finish appends it once.
func Normalize(raw string, isFirst bool, tz string) string {
	out := raw

	if !isFirst {
		if i := strings.Index(out, beginEvent); i >= 0 {
			out = out[i:]
		}
	}

	if i := strings.Index(out, endCalendar); i >= 0 {
		out = out[:i]
	}

	out = strings.Replace(out, bareDTStart, "DTSTART;TZID="+tz+":", 1)
	out = strings.Replace(out, bareDTEnd, "DTEND;TZID="+tz+":", 1)

	// Only the whole-minute case is rewritten; T103415Z keeps its Z.
	out = strings.ReplaceAll(out, utcMinuteCRLF, "00\r\n")
	out = strings.ReplaceAll(out, utcMinuteLF, "00\n")

	return out
}

// Assembler concatenates normalized fragments into one payload. The zero
// value is not usable; create one with NewAssembler.
type Assembler struct {
	tz        string
	b         strings.Builder
	fragments int
}

// NewAssembler returns an Assembler that stamps bare DTSTART/DTEND lines
// with tz.
func NewAssembler(tz string) *Assembler {
	return &Assembler{tz: tz}
}

// Add normalizes raw and appends it. Only the first fragment added keeps its
// VCALENDAR header.
func (a *Assembler) Add(raw string) {
	a.b.WriteString(Normalize(raw, a.fragments == 0, a.tz))
	a.fragments++
}

// Fragments reports how many fragments were added.
func (a *Assembler) Fragments() int {
	return a.fragments
}

// Finish returns the assembled payload, closed with a single END:VCALENDAR.
// It returns "" when nothing was produced.
func (a *Assembler) Finish() string {
	if a.b.Len() == 0 {
		return ""
	}
	return a.b.String() + endCalendar
}
