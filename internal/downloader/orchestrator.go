// Package downloader drives the extraction backend from a download request to
// a verified file on disk.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/italolelis/yt_downloader/internal/cleanup"
	"github.com/italolelis/yt_downloader/internal/logctx"
	"github.com/italolelis/yt_downloader/internal/media"
	"github.com/italolelis/yt_downloader/internal/telemetry"
)

const (
	dirPerm = 0o755

	// MaxMediaRefLength bounds the url parameter of a download request.
	MaxMediaRefLength = 2048

	failedJobsBuffer = 16
)

// Options configures the orchestrator.
type Options struct {
	WorkDir        string
	MaxParallel    int
	AcquireTimeout time.Duration
}

// Orchestrator turns download requests into resolved jobs. It never retries a
// failed acquisition.
type Orchestrator struct {
	backend   media.Backend
	registry  *cleanup.Registry
	telemetry *telemetry.Telemetry
	opts      Options

	slots *semaphore.Weighted
	newID func() string

	workDirOnce sync.Once
	workDir     string
	workDirErr  error

	// OnJobFailed receives failed jobs. Sends never block; events are
	// dropped when nobody keeps up or after Close.
	OnJobFailed chan *Job

	eventsMu sync.Mutex
	closed   bool
}

func NewOrchestrator(backend media.Backend, registry *cleanup.Registry, tel *telemetry.Telemetry, opts Options) *Orchestrator {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}

	if registry == nil {
		registry = cleanup.NewRegistry(tel)
	}

	return &Orchestrator{
		backend:     backend,
		registry:    registry,
		telemetry:   tel,
		opts:        opts,
		slots:       semaphore.NewWeighted(int64(opts.MaxParallel)),
		newID:       func() string { return uuid.New().String() },
		OnJobFailed: make(chan *Job, failedJobsBuffer),
	}
}

// Close ends the OnJobFailed stream. Acquisitions still in flight keep
// running; their failures are no longer published. Close is idempotent.
func (o *Orchestrator) Close() {
	o.eventsMu.Lock()
	defer o.eventsMu.Unlock()

	if o.closed {
		return
	}

	o.closed = true
	close(o.OnJobFailed)
}

// EnsureWorkDir creates the working directory once and returns its absolute
// path. Concurrent first use is safe.
func (o *Orchestrator) EnsureWorkDir() (string, error) {
	o.workDirOnce.Do(func() {
		abs, err := filepath.Abs(o.opts.WorkDir)
		if err != nil {
			o.workDirErr = fmt.Errorf("failed to resolve work dir: %w", err)

			return
		}

		if err := os.MkdirAll(abs, dirPerm); err != nil {
			o.workDirErr = fmt.Errorf("failed to create work dir: %w", err)

			return
		}

		o.workDir = abs
	})

	return o.workDir, o.workDirErr
}

// ValidateMediaRef decodes and trims the url parameter of a download request.
func ValidateMediaRef(raw string) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		decoded = raw
	}

	ref := strings.TrimSpace(decoded)

	switch {
	case ref == "":
		return "", &media.ValidationError{
			Field:  "url",
			Reason: "missing url parameter",
			Hint:   "Pass a video URL in the url parameter",
		}
	case len(ref) > MaxMediaRefLength:
		return "", &media.ValidationError{
			Field:  "url",
			Reason: "url too long",
			Hint:   fmt.Sprintf("Use at most %d characters", MaxMediaRefLength),
		}
	}

	return ref, nil
}

// Acquire runs one download to completion. On success the returned job is
// RESOLVED and its file exists and is non-empty; the caller must Release it.
// On failure everything the job wrote has already been removed.
//
// Waiting for a free slot honors ctx. Once started, the acquisition is
// detached from ctx cancellation and bounded by the acquire timeout.
func (o *Orchestrator) Acquire(ctx context.Context, req media.DownloadRequest) (*Job, error) {
	ref, err := ValidateMediaRef(req.MediaRef)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:       o.newID(),
		MediaRef: ref,
		Policy:   media.PolicyFor(req.Format),
		state:    StatePending,
		registry: o.registry,
	}

	logger := logctx.LoggerFromContext(ctx).With("job_id", job.ID, "format", job.Policy.Format.String())
	ctx = logctx.WithLogger(ctx, logger)

	if err := o.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to wait for an acquisition slot: %w", err)
	}
	defer o.slots.Release(1)

	// from here on the job owns disk state and must finish even if the client leaves
	ctx = context.WithoutCancel(ctx)

	err = o.telemetry.InstrumentDownload(ctx, job.Policy.Format.String(), func(ctx context.Context) error {
		return o.run(ctx, job)
	})
	if err != nil {
		o.fail(ctx, job, err)

		return nil, err
	}

	logger.InfoContext(ctx, "media resolved",
		"path", job.ResolvedPath,
		"size", humanize.Bytes(uint64(job.Size)),
	)

	return job, nil
}

func (o *Orchestrator) run(ctx context.Context, job *Job) error {
	logger := logctx.LoggerFromContext(ctx)

	workDir, err := o.EnsureWorkDir()
	if err != nil {
		return &media.InternalError{Operation: "prepare_work_dir", Path: o.opts.WorkDir, Reason: "cannot create working directory", Err: err}
	}

	job.Dir = filepath.Join(workDir, job.ID)

	if err := os.Mkdir(job.Dir, dirPerm); err != nil {
		return &media.InternalError{Operation: "prepare_job_dir", Path: job.Dir, Reason: "cannot create job directory", Err: err}
	}

	if err := o.registry.Track(job.ID, job.Dir); err != nil {
		_ = os.RemoveAll(job.Dir)

		return &media.InternalError{Operation: "track_job_dir", Path: job.Dir, Reason: err.Error(), Err: err}
	}

	job.setState(StateAcquiring)
	logger.DebugContext(ctx, "acquiring media", "media_ref", job.MediaRef, "selector", string(job.Policy.Selector))

	actx := ctx
	if o.opts.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, o.opts.AcquireTimeout)

		defer cancel()
	}

	reported, err := o.backend.Acquire(actx, media.AcquireRequest{
		MediaRef:       job.MediaRef,
		Selector:       job.Policy.Selector,
		Transcode:      job.Policy.Transcode,
		OutputTemplate: filepath.Join(job.Dir, media.OutputTemplate),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded) {
			return &media.AcquisitionError{
				Operation: "acquire",
				MediaRef:  job.MediaRef,
				Message:   fmt.Sprintf("backend did not finish within %s", o.opts.AcquireTimeout),
				Timeout:   true,
				Err:       err,
			}
		}

		return media.AsAcquisitionError("acquire", job.MediaRef, err)
	}

	if job.Policy.Transcode != nil {
		job.setState(StateTranscoding)
	}

	path, err := resolvePath(job.Dir, reported, job.Policy)
	if err != nil {
		return err
	}

	size, err := verifyOutput(path)
	if err != nil {
		return err
	}

	job.ResolvedPath = path
	job.Size = size
	job.setState(StateResolved)

	return nil
}

func (o *Orchestrator) fail(ctx context.Context, job *Job, err error) {
	logger := logctx.LoggerFromContext(ctx)

	job.Err = err
	job.setState(StateFailed)

	logger.ErrorContext(ctx, "download failed", "media_ref", job.MediaRef, "err", err)

	if relErr := job.Release(ctx, cleanup.ReasonFailed); relErr != nil {
		logger.ErrorContext(ctx, "failed to release failed job", "err", relErr)
	}

	o.publishFailure(ctx, job)
}

func (o *Orchestrator) publishFailure(ctx context.Context, job *Job) {
	o.eventsMu.Lock()
	defer o.eventsMu.Unlock()

	if o.closed {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "orchestrator closed, job failure event not published")

		return
	}

	select {
	case o.OnJobFailed <- job:
	default:
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "dropping job failure event, no consumer")
	}
}

// resolvePath maps what the backend reported to the final artifact path. A
// relative report is taken relative to the job directory; an empty report
// falls back to the single finished file in the job directory.
func resolvePath(jobDir, reported string, policy media.Policy) (string, error) {
	if strings.TrimSpace(reported) == "" {
		found, err := findOutput(jobDir, policy)
		if err != nil {
			return "", err
		}

		reported = found
	}

	if !filepath.IsAbs(reported) {
		reported = filepath.Join(jobDir, reported)
	}

	final := filepath.Clean(policy.FinalPath(reported))

	rel, err := filepath.Rel(jobDir, final)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &media.InternalError{Operation: "resolve_output", Path: final, Reason: "output path escapes the job directory"}
	}

	return final, nil
}

func findOutput(jobDir string, policy media.Policy) (string, error) {
	entries, err := os.ReadDir(jobDir)
	if err != nil {
		return "", &media.InternalError{Operation: "resolve_output", Path: jobDir, Reason: "cannot list job directory", Err: err}
	}

	var candidates []string

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}

		if policy.Transcode != nil && filepath.Ext(name) == "."+policy.Transcode.Extension {
			return filepath.Join(jobDir, name), nil
		}

		candidates = append(candidates, name)
	}

	if len(candidates) != 1 {
		return "", &media.InternalError{
			Operation: "resolve_output",
			Path:      jobDir,
			Reason:    fmt.Sprintf("backend reported no output file and %d candidates were found", len(candidates)),
		}
	}

	return filepath.Join(jobDir, candidates[0]), nil
}

func verifyOutput(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, &media.InternalError{Operation: "verify_output", Path: path, Reason: "output file missing after acquisition", Err: err}
		}

		return 0, &media.InternalError{Operation: "verify_output", Path: path, Reason: "cannot stat output file", Err: err}
	}

	if !info.Mode().IsRegular() {
		return 0, &media.InternalError{Operation: "verify_output", Path: path, Reason: "output is not a regular file"}
	}

	if info.Size() == 0 {
		return 0, &media.InternalError{Operation: "verify_output", Path: path, Reason: "output file is empty"}
	}

	return info.Size(), nil
}
