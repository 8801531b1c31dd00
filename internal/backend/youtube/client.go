// Package youtube implements the media backend natively with kkdai/youtube,
// transcoding through an ffmpeg binary when audio output is requested.
package youtube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kkdai/youtube/v2"

	"github.com/italolelis/yt_downloader/internal/downloader/progress"
	"github.com/italolelis/yt_downloader/internal/logctx"
	"github.com/italolelis/yt_downloader/internal/media"
)

const (
	Name = "youtube"

	watchURLPrefix = "https://www.youtube.com/watch?v="

	progressInterval = 5 * 1024 * 1024
	filePerm         = 0o644
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Client is a media.Backend. Free-text search is not supported; media
// references must be video or playlist URLs, or bare video ids.
type Client struct {
	yt     *youtube.Client
	ffmpeg string
}

func NewClient(httpClient *http.Client, ffmpegPath string) *Client {
	return &Client{
		yt:     &youtube.Client{HTTPClient: httpClient},
		ffmpeg: ffmpegPath,
	}
}

func (c *Client) Resolve(ctx context.Context, queryOrURL string, limit int) ([]*media.RawEntry, error) {
	if isPlaylistRef(queryOrURL) {
		playlist, err := c.yt.GetPlaylistContext(ctx, queryOrURL)
		if err != nil {
			return nil, backendError(ctx, "resolve", queryOrURL, err)
		}

		entries := make([]*media.RawEntry, 0, len(playlist.Videos))
		for _, v := range playlist.Videos {
			entries = append(entries, fromPlaylistEntry(v))

			if limit > 0 && len(entries) == limit {
				break
			}
		}

		return entries, nil
	}

	if !isVideoRef(queryOrURL) {
		return nil, &media.AcquisitionError{
			Operation: "resolve",
			MediaRef:  queryOrURL,
			Message:   "free-text search is not supported by the youtube backend, pass a video or playlist URL",
		}
	}

	video, err := c.yt.GetVideoContext(ctx, queryOrURL)
	if err != nil {
		return nil, backendError(ctx, "resolve", queryOrURL, err)
	}

	return []*media.RawEntry{fromVideo(video)}, nil
}

// Acquire streams the chosen format into the output template. With a
// transcode directive the stream is converted by ffmpeg and the source file
// removed; the returned path is always the pre-transcode one.
func (c *Client) Acquire(ctx context.Context, req media.AcquireRequest) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	video, err := c.yt.GetVideoContext(ctx, req.MediaRef)
	if err != nil {
		return "", backendError(ctx, "acquire", req.MediaRef, err)
	}

	audioOnly := req.Selector == media.SelectBestAudio || req.Transcode != nil

	format := pickFormat(video.Formats, audioOnly)
	if format == nil {
		return "", &media.AcquisitionError{Operation: "acquire", MediaRef: req.MediaRef, Message: "no downloadable stream with audio"}
	}

	path := media.RenderTemplate(req.OutputTemplate, video.Title, video.ID, extFromMime(format.MimeType))

	logger.DebugContext(ctx, "streaming format",
		"itag", format.ItagNo,
		"mime_type", format.MimeType,
		"bitrate", format.Bitrate,
		"path", path,
	)

	if err := c.save(ctx, video, format, path); err != nil {
		return "", err
	}

	if needsTranscode(path, req.Transcode) {
		if err := c.transcode(ctx, path, media.ReplaceExt(path, req.Transcode.Extension), req.Transcode.Codec); err != nil {
			return "", err
		}
	}

	return path, nil
}

func (c *Client) save(ctx context.Context, video *youtube.Video, format *youtube.Format, path string) error {
	logger := logctx.LoggerFromContext(ctx)

	stream, size, err := c.yt.GetStreamContext(ctx, video, format)
	if err != nil {
		return backendError(ctx, "acquire", video.ID, err)
	}
	defer stream.Close()

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return &media.InternalError{Operation: "write_stream", Path: path, Reason: "cannot create output file", Err: err}
	}
	defer out.Close()

	start := time.Now()

	pr := progress.NewReader(stream, size, progressInterval, func(read, total int64) {
		if total > 0 {
			logger.DebugContext(ctx, "download progress",
				"read", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", read*100/total,
			)

			return
		}

		logger.DebugContext(ctx, "download progress", "read", humanize.Bytes(uint64(read)))
	})

	written, err := io.Copy(out, pr)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("stream interrupted: %w", ctx.Err())
		}

		return &media.AcquisitionError{Operation: "acquire", MediaRef: video.ID, Message: "stream interrupted: " + err.Error(), Err: err}
	}

	if err := out.Close(); err != nil {
		return &media.InternalError{Operation: "write_stream", Path: path, Reason: "cannot flush output file", Err: err}
	}

	logger.InfoContext(ctx, "stream saved",
		"size", humanize.Bytes(uint64(written)),
		"rate", humanize.Bytes(uint64(float64(written)/max(time.Since(start).Seconds(), 0.001)))+"/s",
	)

	return nil
}

func backendError(ctx context.Context, operation, ref string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("youtube %s interrupted: %w", operation, ctxErr)
	}

	return media.AsAcquisitionError(operation, ref, err)
}

// pickFormat returns the highest bitrate stream that carries audio. audioOnly
// prefers audio-only streams; otherwise combined mp4 streams win over other
// containers.
func pickFormat(formats youtube.FormatList, audioOnly bool) *youtube.Format {
	withAudio := formats.WithAudioChannels()
	if len(withAudio) == 0 {
		return nil
	}

	var preferred youtube.FormatList

	for _, f := range withAudio {
		mime := strings.ToLower(f.MimeType)

		if audioOnly && strings.HasPrefix(mime, "audio/") {
			preferred = append(preferred, f)
		}

		if !audioOnly && strings.HasPrefix(mime, "video/mp4") {
			preferred = append(preferred, f)
		}
	}

	if len(preferred) == 0 {
		preferred = withAudio
	}

	best := &preferred[0]
	for i := range preferred {
		if f := &preferred[i]; f.Bitrate > best.Bitrate {
			best = f
		}
	}

	return best
}

// extFromMime maps a stream mime type to a file extension.
func extFromMime(mimeType string) string {
	base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])

	switch strings.ToLower(base) {
	case "audio/mp4":
		return "m4a"
	case "audio/mpeg":
		return "mp3"
	case "video/3gpp":
		return "3gp"
	}

	if _, sub, ok := strings.Cut(base, "/"); ok && sub != "" {
		return strings.ToLower(sub)
	}

	return "bin"
}

func isPlaylistRef(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return false
	}

	return strings.Contains(u.Host, "youtube.com") && u.Path == "/playlist" && u.Query().Get("list") != ""
}

func isVideoRef(ref string) bool {
	if videoIDPattern.MatchString(ref) {
		return true
	}

	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}

	_, err = youtube.ExtractVideoID(ref)

	return err == nil
}

func fromVideo(v *youtube.Video) *media.RawEntry {
	return &media.RawEntry{
		ID:         v.ID,
		Title:      v.Title,
		WebpageURL: watchURLPrefix + v.ID,
		Uploader:   v.Author,
		Thumbnails: thumbnails(v.Thumbnails),
		Duration:   seconds(v.Duration),
	}
}

func fromPlaylistEntry(v *youtube.PlaylistEntry) *media.RawEntry {
	if v == nil {
		return nil
	}

	return &media.RawEntry{
		ID:         v.ID,
		Title:      v.Title,
		WebpageURL: watchURLPrefix + v.ID,
		Uploader:   v.Author,
		Thumbnails: thumbnails(v.Thumbnails),
		Duration:   seconds(v.Duration),
	}
}

func seconds(d time.Duration) *int {
	if d <= 0 {
		return nil
	}

	secs := int(d.Round(time.Second) / time.Second)

	return &secs
}

func thumbnails(in youtube.Thumbnails) []media.Thumbnail {
	out := make([]media.Thumbnail, 0, len(in))
	for _, t := range in {
		out = append(out, media.Thumbnail{URL: t.URL, Width: int(t.Width), Height: int(t.Height)})
	}

	return out
}
