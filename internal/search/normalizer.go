package search

import (
	"fmt"
	"strings"

	"github.com/italolelis/yt_downloader/internal/media"
)

const (
	untitled      = "Untitled"
	unknownAuthor = "Unknown"

	shortLinkPrefix = "https://youtu.be/"
)

// Normalize maps backend entries to search results, keeping the backend's
// order. Nil entries are skipped. An empty or all-nil response is a
// NotFoundError for query.
func Normalize(entries []*media.RawEntry, query string) ([]media.SearchResult, error) {
	results := make([]media.SearchResult, 0, len(entries))

	for _, e := range entries {
		if e == nil {
			continue
		}

		results = append(results, normalizeEntry(e))
	}

	if len(results) == 0 {
		return nil, &media.NotFoundError{Query: query}
	}

	return results, nil
}

func normalizeEntry(e *media.RawEntry) media.SearchResult {
	r := media.SearchResult{
		ID:     e.ID,
		Title:  orDefault(e.Title, untitled),
		URL:    canonicalURL(e),
		Author: orDefault(e.Uploader, unknownAuthor),
	}

	if n := len(e.Thumbnails); n > 0 {
		r.Thumbnail = e.Thumbnails[n-1].URL
	}

	switch {
	case e.Duration != nil && *e.Duration >= 0:
		secs := *e.Duration
		r.Duration = FormatDuration(secs)
		r.DurationSeconds = &secs
	case strings.TrimSpace(e.DurationString) != "":
		r.Duration = strings.TrimSpace(e.DurationString)
	}

	return r
}

// canonicalURL prefers the backend's own reference. It is opaque to us and
// handed back to the backend on download.
func canonicalURL(e *media.RawEntry) string {
	switch {
	case e.URL != "":
		return e.URL
	case e.WebpageURL != "":
		return e.WebpageURL
	case e.ID != "":
		return shortLinkPrefix + e.ID
	default:
		return ""
	}
}

// FormatDuration renders seconds as minutes:seconds, e.g. 75 -> "1:15".
func FormatDuration(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}

	return s
}
