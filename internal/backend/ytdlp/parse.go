package ytdlp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/italolelis/yt_downloader/internal/media"
)

// info is the subset of yt-dlp's info dict we read. Flat extraction leaves
// most fields out, so everything is optional.
type info struct {
	Type           string      `json:"_type"`
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	URL            string      `json:"url"`
	WebpageURL     string      `json:"webpage_url"`
	Thumbnail      string      `json:"thumbnail"`
	Thumbnails     []thumbnail `json:"thumbnails"`
	Uploader       string      `json:"uploader"`
	Channel        string      `json:"channel"`
	Duration       *float64    `json:"duration"`
	DurationString string      `json:"duration_string"`
	Entries        []*info     `json:"entries"`

	Filename       string `json:"filename"`
	LegacyFilename string `json:"_filename"`
}

type thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// parseResolveOutput reads a --dump-single-json document: a playlist whose
// entries may be null, or a single video.
func parseResolveOutput(data []byte, limit int) ([]*media.RawEntry, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("yt-dlp produced no output")
	}

	var root info
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to decode yt-dlp output: %w", err)
	}

	var entries []*media.RawEntry

	if root.Type == "playlist" || root.Entries != nil {
		entries = make([]*media.RawEntry, 0, len(root.Entries))
		for _, e := range root.Entries {
			entries = append(entries, toRawEntry(e))
		}
	} else {
		entries = []*media.RawEntry{toRawEntry(&root)}
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

// toRawEntry keeps nil entries nil; filtering them is the normalizer's job.
func toRawEntry(i *info) *media.RawEntry {
	if i == nil {
		return nil
	}

	e := &media.RawEntry{
		ID:             i.ID,
		Title:          i.Title,
		URL:            i.URL,
		WebpageURL:     i.WebpageURL,
		Uploader:       i.Uploader,
		DurationString: i.DurationString,
	}

	if e.Uploader == "" {
		e.Uploader = i.Channel
	}

	for _, t := range i.Thumbnails {
		e.Thumbnails = append(e.Thumbnails, media.Thumbnail{URL: t.URL, Width: t.Width, Height: t.Height})
	}

	if len(e.Thumbnails) == 0 && i.Thumbnail != "" {
		e.Thumbnails = []media.Thumbnail{{URL: i.Thumbnail}}
	}

	if i.Duration != nil && !math.IsNaN(*i.Duration) && *i.Duration >= 0 {
		secs := int(math.Round(*i.Duration))
		e.Duration = &secs
	}

	return e
}

// parseAcquireOutput reads the --print-json line of a finished download. Any
// non-JSON lines are ignored and the last JSON object wins.
func parseAcquireOutput(data []byte) (string, error) {
	var found *info

	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' {
			continue
		}

		var i info
		if err := json.Unmarshal(line, &i); err != nil {
			continue
		}

		found = &i
	}

	if found == nil {
		return "", errors.New("yt-dlp did not report the downloaded file")
	}

	switch {
	case found.Filename != "":
		return found.Filename, nil
	case found.LegacyFilename != "":
		return found.LegacyFilename, nil
	default:
		return "", errors.New("yt-dlp output has no filename")
	}
}
