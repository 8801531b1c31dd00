package search

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/italolelis/yt_downloader/internal/media"
)

const (
	// MaxQueryLength bounds the backend load of a single query, in characters.
	MaxQueryLength = 100
	MinQueryLength = 2
)

// SanitizeQuery decodes percent-escapes, trims whitespace and truncates the
// query to MaxQueryLength characters. Text that does not decode cleanly is
// used as given.
func SanitizeQuery(raw string) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		decoded = raw
	}

	q := strings.TrimSpace(decoded)

	if utf8.RuneCountInString(q) > MaxQueryLength {
		q = strings.TrimSpace(string([]rune(q)[:MaxQueryLength]))
	}

	if utf8.RuneCountInString(q) < MinQueryLength {
		return "", &media.ValidationError{
			Field:  "q",
			Reason: "query too short",
			Hint:   "Use at least 2 characters",
		}
	}

	return q, nil
}
