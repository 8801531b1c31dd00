package media

import "strings"

// Format is the closed set of output formats a client may ask for.
type Format int

const (
	FormatVideo Format = iota
	FormatAudio
)

func (f Format) String() string {
	if f == FormatAudio {
		return "mp3"
	}

	return "mp4"
}

// ParseFormat maps a request token to a Format. Anything other than "mp3"
// falls back to video.
func ParseFormat(token string) Format {
	if strings.EqualFold(strings.TrimSpace(token), "mp3") {
		return FormatAudio
	}

	return FormatVideo
}

// StreamSelector tells the backend which stream(s) to fetch. Values use the
// yt-dlp format-selection syntax; other backends switch on the constants.
type StreamSelector string

const (
	SelectBestCombined StreamSelector = "best[ext=mp4]/best"
	SelectBestAudio    StreamSelector = "bestaudio/best"
)

// Transcode asks the backend to convert the fetched stream after download.
type Transcode struct {
	Codec     string
	Extension string
}

// Policy is everything derived from a Format.
type Policy struct {
	Format      Format
	Selector    StreamSelector
	Transcode   *Transcode
	ContentType string
}

// PolicyFor is total: every Format maps to exactly one Policy.
func PolicyFor(f Format) Policy {
	if f == FormatAudio {
		return Policy{
			Format:      FormatAudio,
			Selector:    SelectBestAudio,
			Transcode:   &Transcode{Codec: "mp3", Extension: "mp3"},
			ContentType: "audio/mpeg",
		}
	}

	return Policy{
		Format:      FormatVideo,
		Selector:    SelectBestCombined,
		ContentType: "video/mp4",
	}
}

// FinalPath returns the on-disk path once the policy's transcode step has run:
// the backend's reported path with its extension swapped for the transcode
// container, or the path unchanged when there is no transcode.
func (p Policy) FinalPath(reported string) string {
	if p.Transcode == nil {
		return reported
	}

	return ReplaceExt(reported, p.Transcode.Extension)
}
