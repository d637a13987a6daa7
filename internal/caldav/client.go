// Package caldav is the small CalDAV client the calendar feed is built on:
// calendar discovery from a configured URL and calendar-query REPORTs that
// return raw calendar-data text, one fragment per calendar object.
package caldav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// Object is one calendar object as returned by the server.
type Object struct {
	Href string
	ETag string
	// Data is the raw calendar-data text, a complete VCALENDAR.
	Data string
}

// Calendar is a calendar collection with the objects matched by a query.
type Calendar struct {
	URL     string
	Name    string
	Objects []Object
}

// Query restricts the objects a REPORT returns.
type Query struct {
	// Component is the inner comp-filter name. Empty means VEVENT.
	Component string
	// Start / End are CalDAV UTC date-times (e.g. 20220101T000000Z).
	// Empty values are left out of the time-range.
	Start string
	End   string
}

func (q Query) component() string {
	if q.Component == "" {
		return "VEVENT"
	}
	return q.Component
}

// StatusError is returned when the server answers with anything but
// 207 Multi-Status.
type StatusError struct {
	Method string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("caldav %s: unexpected status %s", e.Method, e.Status)
}

// Config configures a Client.
type Config struct {
	// ServerURL is a calendar collection URL or any URL the server answers
	// current-user-principal on.
	ServerURL string
	Username  string
	Password  string
	// HTTPClient is used as the base client; its Transport is wrapped with
	// basic auth. Nil means a client with no timeout.
	HTTPClient *http.Client
}

// Client talks to one CalDAV server with static basic-auth credentials.
type Client struct {
	http      *http.Client
	serverURL *url.URL
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("caldav: server URL is empty")
	}
	u, err := url.Parse(cfg.ServerURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("caldav: invalid server URL %q", cfg.ServerURL)
	}
	if cfg.Username == "" {
		return nil, errors.New("caldav: username is empty")
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	client.Transport = NewBasicAuthTransport(cfg.Username, cfg.Password, base.Transport)

	return &Client{http: &client, serverURL: u}, nil
}

// FetchCalendars discovers the calendars reachable from the server URL and
// runs q against each of them, in discovery order.
func (c *Client) FetchCalendars(ctx context.Context, q Query) ([]Calendar, error) {
	calendars, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}

	for i := range calendars {
		objects, err := c.Query(ctx, calendars[i].URL, q)
		if err != nil {
			return nil, fmt.Errorf("query calendar %s: %w", redactURL(calendars[i].URL), err)
		}
		calendars[i].Objects = objects
	}
	return calendars, nil
}

// Query runs a calendar-query REPORT on calendarURL.
func (c *Client) Query(ctx context.Context, calendarURL string, q Query) ([]Object, error) {
	body, err := buildCalendarQuery(q)
	if err != nil {
		return nil, fmt.Errorf("build calendar-query: %w", err)
	}

	resources, err := c.do(ctx, "REPORT", calendarURL, 1, body)
	if err != nil {
		return nil, err
	}

	objects := make([]Object, 0, len(resources))
	for _, r := range resources {
		if r.CalendarData == "" {
			continue
		}
		objects = append(objects, Object{
			Href: c.resolve(calendarURL, r.Href),
			ETag: r.ETag,
			Data: r.CalendarData,
		})
	}
	return objects, nil
}

func (c *Client) propfind(ctx context.Context, target string, depth int, props ...string) ([]resource, error) {
	body, err := buildPropfind(props...)
	if err != nil {
		return nil, fmt.Errorf("build propfind: %w", err)
	}
	return c.do(ctx, "PROPFIND", target, depth, body)
}

func (c *Client) do(ctx context.Context, method, target string, depth int, body []byte) ([]resource, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", strconv.Itoa(depth))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("caldav %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Method: method, Code: resp.StatusCode, Status: resp.Status}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("caldav %s: read body: %w", method, err)
	}
	return parseMultistatus(data)
}

// resolve turns a (possibly relative) href from a response into an absolute
// URL using base.
func (c *Client) resolve(base, href string) string {
	if href == "" {
		return base
	}
	b, err := url.Parse(base)
	if err != nil {
		b = c.serverURL
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}
