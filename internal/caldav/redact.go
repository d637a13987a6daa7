package caldav

import "net/url"

// redactURL hides the path and query of a CalDAV URL for logging; calendar
// paths often embed account identifiers.
//
//	https://dav.example.com/calendars/5f61.../  ->  https://dav.example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "caldav://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + redactedSuffix
}
