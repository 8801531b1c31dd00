package youtube

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/italolelis/yt_downloader/internal/logctx"
	"github.com/italolelis/yt_downloader/internal/media"
)

var audioEncoders = map[string]string{
	"mp3": "libmp3lame",
}

// needsTranscode reports whether path still has to be converted. A stream
// that already is in the target container is kept as is, since ffmpeg cannot
// overwrite its own input.
func needsTranscode(path string, t *media.Transcode) bool {
	if t == nil {
		return false
	}

	return strings.TrimPrefix(filepath.Ext(path), ".") != strings.TrimPrefix(t.Extension, ".")
}

// transcode converts src to dst with ffmpeg and removes src on success.
func (c *Client) transcode(ctx context.Context, src, dst, codec string) error {
	logger := logctx.LoggerFromContext(ctx)

	encoder, ok := audioEncoders[codec]
	if !ok {
		return &media.AcquisitionError{Operation: "transcode", MediaRef: src, Message: fmt.Sprintf("unsupported audio codec %q", codec)}
	}

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, c.ffmpeg,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", src,
		"-vn", "-codec:a", encoder, "-q:a", "2",
		dst,
	)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("transcode interrupted: %w", ctx.Err())
		}

		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}

		return &media.AcquisitionError{Operation: "transcode", MediaRef: src, Message: detail, Err: err}
	}

	if err := os.Remove(src); err != nil {
		logger.WarnContext(ctx, "failed to remove transcode source", "path", src, "err", err)
	}

	logger.DebugContext(ctx, "transcoded", "codec", codec, "path", dst)

	return nil
}
