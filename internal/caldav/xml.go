package caldav

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Namespace definitions for CalDAV and WebDAV.
const (
	nsDAV    = "DAV:"
	nsCalDAV = "urn:ietf:params:xml:ns:caldav"
)

// propTags maps property names to their prefixed element names.
var propTags = map[string]string{
	"resourcetype":           "D:resourcetype",
	"displayname":            "D:displayname",
	"current-user-principal": "D:current-user-principal",
	"getetag":                "D:getetag",
	"calendar-home-set":      "C:calendar-home-set",
	"calendar-data":          "C:calendar-data",
}

func newDocument(root string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	el := doc.CreateElement(root)
	el.CreateAttr("xmlns:D", nsDAV)
	el.CreateAttr("xmlns:C", nsCalDAV)
	return doc, el
}

func addProps(parent *etree.Element, props ...string) {
	prop := parent.CreateElement("D:prop")
	for _, p := range props {
		tag, ok := propTags[p]
		if !ok {
			tag = "D:" + p
		}
		prop.CreateElement(tag)
	}
}

// buildPropfind renders a PROPFIND body requesting props.
func buildPropfind(props ...string) ([]byte, error) {
	doc, root := newDocument("D:propfind")
	addProps(root, props...)
	return doc.WriteToBytes()
}

// buildCalendarQuery renders a calendar-query REPORT body:
// comp-filter VCALENDAR > comp-filter <component> > time-range start=<start>.
func buildCalendarQuery(q Query) ([]byte, error) {
	doc, root := newDocument("C:calendar-query")
	addProps(root, "getetag", "calendar-data")

	filter := root.CreateElement("C:filter")
	vcal := filter.CreateElement("C:comp-filter")
	vcal.CreateAttr("name", "VCALENDAR")

	comp := vcal.CreateElement("C:comp-filter")
	comp.CreateAttr("name", q.component())

	if q.Start != "" || q.End != "" {
		tr := comp.CreateElement("C:time-range")
		if q.Start != "" {
			tr.CreateAttr("start", q.Start)
		}
		if q.End != "" {
			tr.CreateAttr("end", q.End)
		}
	}
	return doc.WriteToBytes()
}

// resource is one <response> of a multistatus body, flattened to the
// properties this package reads. Only propstats with a 2xx status count.
type resource struct {
	Href         string
	IsCalendar   bool
	DisplayName  string
	Principal    string
	HomeSet      string
	ETag         string
	CalendarData string
}

// parseMultistatus reads a 207 body. Element matching ignores namespace
// prefixes, which servers choose freely.
func parseMultistatus(body []byte) ([]resource, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("parse multistatus: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "multistatus" {
		return nil, fmt.Errorf("parse multistatus: unexpected root element")
	}

	var out []resource
	for _, respEl := range root.SelectElements("response") {
		var r resource
		if href := respEl.SelectElement("href"); href != nil {
			r.Href = strings.TrimSpace(href.Text())
		}

		for _, ps := range respEl.SelectElements("propstat") {
			status := ps.SelectElement("status")
			if status == nil || !isSuccessStatus(status.Text()) {
				continue
			}
			prop := ps.SelectElement("prop")
			if prop == nil {
				continue
			}
			readProps(prop, &r)
		}
		out = append(out, r)
	}
	return out, nil
}

func readProps(prop *etree.Element, r *resource) {
	if rt := prop.SelectElement("resourcetype"); rt != nil && rt.SelectElement("calendar") != nil {
		r.IsCalendar = true
	}
	if el := prop.SelectElement("displayname"); el != nil {
		r.DisplayName = strings.TrimSpace(el.Text())
	}
	if el := prop.SelectElement("current-user-principal"); el != nil {
		r.Principal = hrefText(el)
	}
	if el := prop.SelectElement("calendar-home-set"); el != nil {
		r.HomeSet = hrefText(el)
	}
	if el := prop.SelectElement("getetag"); el != nil {
		r.ETag = strings.TrimSpace(el.Text())
	}
	if el := prop.SelectElement("calendar-data"); el != nil {
		r.CalendarData = el.Text()
	}
}

func hrefText(el *etree.Element) string {
	if href := el.SelectElement("href"); href != nil {
		return strings.TrimSpace(href.Text())
	}
	return ""
}

// isSuccessStatus reports whether a DAV status line ("HTTP/1.1 200 OK")
// carries a 2xx code.
func isSuccessStatus(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return false
	}
	return strings.HasPrefix(fields[1], "2")
}
