// Package delivery streams a resolved download to the client and releases
// the job's files afterwards.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/yt_downloader/internal/cleanup"
	"github.com/italolelis/yt_downloader/internal/downloader"
	"github.com/italolelis/yt_downloader/internal/logctx"
	"github.com/italolelis/yt_downloader/internal/media"
)

// ErrInterrupted is returned once the response has started and the stream
// broke off. No error body can be written at that point.
var ErrInterrupted = errors.New("delivery interrupted")

// Serve writes the job's file as an attachment. The job is released on every
// path out of Serve, including client disconnects.
func Serve(ctx context.Context, w http.ResponseWriter, job *downloader.Job) (err error) {
	logger := logctx.LoggerFromContext(ctx).With("job_id", job.ID)

	defer func() {
		reason := cleanup.ReasonDelivered
		if err != nil {
			reason = cleanup.ReasonFailed
		}

		// the client may be gone; the files still have to go
		if relErr := job.Release(context.WithoutCancel(ctx), reason); relErr != nil {
			logger.ErrorContext(ctx, "failed to release delivered job", "err", relErr)
		}
	}()

	if job.State() != downloader.StateResolved {
		return &media.InternalError{Operation: "deliver", Reason: fmt.Sprintf("job is %s, not RESOLVED", job.State())}
	}

	f, err := os.Open(job.ResolvedPath)
	if err != nil {
		return &media.InternalError{Operation: "deliver", Path: job.ResolvedPath, Reason: "cannot open resolved file", Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &media.InternalError{Operation: "deliver", Path: job.ResolvedPath, Reason: "cannot stat resolved file", Err: err}
	}

	filename := filepath.Base(job.ResolvedPath)

	h := w.Header()
	h.Set("Content-Type", job.Policy.ContentType)
	h.Set("Content-Disposition", ContentDisposition(filename))
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	start := time.Now()

	written, err := io.Copy(w, f)
	if err != nil {
		logger.WarnContext(ctx, "delivery interrupted",
			"file", filename,
			"sent", humanize.Bytes(uint64(written)),
			"size", humanize.Bytes(uint64(info.Size())),
			"err", err,
		)

		return fmt.Errorf("%w after %d of %d bytes: %w", ErrInterrupted, written, info.Size(), err)
	}

	logger.InfoContext(ctx, "file delivered",
		"file", filename,
		"size", humanize.Bytes(uint64(written)),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return nil
}

// ContentDisposition builds an attachment header; non-ASCII names are
// encoded per RFC 2231.
func ContentDisposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}

	return "attachment"
}
