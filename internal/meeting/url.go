package meeting

import (
	"errors"
	"regexp"
	"strings"
)

var ErrNoMeetingCode = errors.New("no meeting code in url")

// Patterns are tried in order; the first capture group is the code.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`meet\.google\.com/([a-z]{3}-[a-z]{4}-[a-z]{3})`),
	regexp.MustCompile(`meetingCode=([a-z]{3}-[a-z]{4}-[a-z]{3})`),
	regexp.MustCompile(`meet\.google\.com/([a-zA-Z0-9_-]+)`),
}

// ExtractCode returns the meeting code carried by a meeting URL, either in the
// path (meet.google.com/abc-defg-hij) or in a meetingCode query parameter.
func ExtractCode(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrNoMeetingCode
	}
	for _, re := range codePatterns {
		if m := re.FindStringSubmatch(raw); len(m) == 2 {
			return m[1], nil
		}
	}
	return "", ErrNoMeetingCode
}

// JoinURL is the canonical address a participant navigates to for code.
func JoinURL(code string) string {
	return "https://meet.google.com/" + code
}
