// Package ytdlp implements the media backend on top of the yt-dlp binary.
package ytdlp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/italolelis/yt_downloader/internal/logctx"
	"github.com/italolelis/yt_downloader/internal/media"
)

const Name = "ytdlp"

// Client is a media.Backend. Each call runs one yt-dlp process.
type Client struct {
	socketTimeout time.Duration
}

func NewClient(socketTimeout time.Duration) *Client {
	return &Client{socketTimeout: socketTimeout}
}

// Install downloads or upgrades the yt-dlp binary into the user cache.
func Install(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	resolved, err := ytdlp.Install(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to install yt-dlp: %w", err)
	}

	logger.InfoContext(ctx, "yt-dlp ready", "executable", resolved.Executable, "version", resolved.Version)

	return nil
}

func (c *Client) command() *ytdlp.Command {
	cmd := ytdlp.New()
	if c.socketTimeout > 0 {
		cmd = cmd.SocketTimeout(c.socketTimeout.Seconds())
	}

	return cmd
}

// Resolve runs a flat extraction. Free text is searched with ytsearchN; URLs
// are extracted as given.
func (c *Client) Resolve(ctx context.Context, queryOrURL string, limit int) ([]*media.RawEntry, error) {
	cmd := c.command().
		DefaultSearch(fmt.Sprintf("ytsearch%d", limit)).
		FlatPlaylist().
		DumpSingleJSON()

	result, err := cmd.Run(ctx, queryOrURL)
	if err != nil {
		return nil, c.wrapRunError(ctx, "resolve", queryOrURL, result, err)
	}

	entries, err := parseResolveOutput([]byte(result.Stdout), limit)
	if err != nil {
		return nil, &media.AcquisitionError{Operation: "resolve", MediaRef: queryOrURL, Message: err.Error(), Err: err}
	}

	return entries, nil
}

// Acquire downloads one video into the request's output template and returns
// the filename yt-dlp reported before post-processing.
func (c *Client) Acquire(ctx context.Context, req media.AcquireRequest) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	cmd := c.command().
		Format(string(req.Selector)).
		Output(req.OutputTemplate).
		RestrictFilenames().
		NoPlaylist().
		PrintJSON()

	if req.Transcode != nil {
		cmd = cmd.ExtractAudio().AudioFormat(req.Transcode.Codec)
	}

	start := time.Now()

	result, err := cmd.Run(ctx, req.MediaRef)
	if err != nil {
		return "", c.wrapRunError(ctx, "acquire", req.MediaRef, result, err)
	}

	path, err := parseAcquireOutput([]byte(result.Stdout))
	if err != nil {
		return "", &media.AcquisitionError{Operation: "acquire", MediaRef: req.MediaRef, Message: err.Error(), Err: err}
	}

	logger.DebugContext(ctx, "yt-dlp finished", "path", path, "duration", time.Since(start).Round(time.Millisecond))

	return path, nil
}

// wrapRunError prefers yt-dlp's own ERROR line as the message. A process
// killed by ctx keeps the context error so callers can tell timeouts apart.
func (c *Client) wrapRunError(ctx context.Context, operation, ref string, result *ytdlp.Result, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("yt-dlp %s interrupted: %w", operation, ctxErr)
	}

	var stderr string
	if result != nil {
		stderr = result.Stderr
	}

	return &media.AcquisitionError{
		Operation: operation,
		MediaRef:  ref,
		Message:   errorDetail(stderr, err),
		Err:       err,
	}
}

// errorDetail returns the last "ERROR:" line of stderr, the last non-empty
// stderr line, or err's text.
func errorDetail(stderr string, err error) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")

	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}

	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return last
	}

	if err != nil {
		return err.Error()
	}

	return "unknown yt-dlp failure"
}
