package translator

import (
	"net/url"
	"regexp"
	"strings"
)

// KnownMeetingDomains are the video platforms a recording bot can join.
var KnownMeetingDomains = []string{
	"zoom.us",
	"teams.microsoft.com",
	"webex.com",
	"meet.google.com",
	"gotomeeting.com",
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"'()\[\]{}]+`)

// ResolveJoinURL picks the meeting join link: the explicit conferencing field when it is
// a usable URL, else the first known-platform link in location, else in description.
func ResolveJoinURL(explicit, location, description string) *string {
	if u := normalizeURL(explicit); u != "" {
		return &u
	}
	if u := scanForMeetingURL(location); u != "" {
		return &u
	}
	if u := scanForMeetingURL(description); u != "" {
		return &u
	}
	return nil
}

func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return raw
}

func scanForMeetingURL(text string) string {
	if text == "" {
		return ""
	}
	for _, m := range urlPattern.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".,;:!?")
		u, err := url.Parse(m)
		if err != nil {
			continue
		}
		if IsKnownMeetingHost(u.Hostname()) {
			return m
		}
	}
	return ""
}

func IsKnownMeetingHost(host string) bool {
	host = strings.ToLower(host)
	for _, d := range KnownMeetingDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
