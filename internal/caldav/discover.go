package caldav

import (
	"context"
	"errors"
	"fmt"

	appLog "caldavics/internal/log"
)

// ErrNoHomeSet is returned when the principal exposes no calendar-home-set.
var ErrNoHomeSet = errors.New("caldav: no calendar-home-set found")

// Discover lists the calendars reachable from the server URL:
//
//  1. if the server URL is itself a calendar collection, it is the only one;
//  2. else current-user-principal -> calendar-home-set -> Depth 1 listing;
//  3. without a principal the server URL is listed as if it were the home.
//
// Calendars are returned in the order the server lists them.
func (c *Client) Discover(ctx context.Context) ([]Calendar, error) {
	server := c.serverURL.String()

	self, err := c.propfind(ctx, server, 0, "resourcetype", "displayname", "current-user-principal")
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	var principal string
	for _, r := range self {
		if r.IsCalendar {
			appLog.Debug("caldav server URL is a calendar", "url", redactURL(server))
			return []Calendar{{URL: server, Name: r.DisplayName}}, nil
		}
		if principal == "" {
			principal = r.Principal
		}
	}

	home := server
	if principal != "" {
		principalURL := c.resolve(server, principal)
		res, err := c.propfind(ctx, principalURL, 0, "calendar-home-set")
		if err != nil {
			return nil, fmt.Errorf("discover calendar-home-set: %w", err)
		}
		var homeSet string
		for _, r := range res {
			if r.HomeSet != "" {
				homeSet = r.HomeSet
				break
			}
		}
		if homeSet == "" {
			return nil, ErrNoHomeSet
		}
		home = c.resolve(principalURL, homeSet)
	}

	listing, err := c.propfind(ctx, home, 1, "resourcetype", "displayname")
	if err != nil {
		return nil, fmt.Errorf("discover calendars: %w", err)
	}

	calendars := make([]Calendar, 0, len(listing))
	for _, r := range listing {
		if !r.IsCalendar {
			continue
		}
		calendars = append(calendars, Calendar{
			URL:  c.resolve(home, r.Href),
			Name: r.DisplayName,
		})
	}

	appLog.Debug("caldav discovery complete", "url", redactURL(server), "calendars", len(calendars))
	return calendars, nil
}
