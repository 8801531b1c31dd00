// Package cleanup tracks the on-disk artifacts of acquisition jobs and
// releases them. Every removal is scoped to the directory recorded for one
// job; the working directory itself is never swept.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/italolelis/yt_downloader/internal/logctx"
	"github.com/italolelis/yt_downloader/internal/telemetry"
)

// Release reasons.
const (
	ReasonDelivered = "delivered"
	ReasonFailed    = "failed"
	ReasonExpired   = "expired"
	ReasonShutdown  = "shutdown"
)

// Artifact is the record of one job's private directory.
type Artifact struct {
	JobID     string
	Dir       string
	CreatedAt time.Time
	// InUse is set while the owning job may still read or write Dir. Only
	// records left behind by a failed release are idle.
	InUse bool
}

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	artifacts map[string]Artifact
	telemetry *telemetry.Telemetry
	now       func() time.Time
}

func NewRegistry(tel *telemetry.Telemetry) *Registry {
	return &Registry{
		artifacts: make(map[string]Artifact),
		telemetry: tel,
		now:       time.Now,
	}
}

// Track records dir as owned by jobID and marks it in use until Release.
func (r *Registry) Track(jobID, dir string) error {
	if jobID == "" {
		return errors.New("job id must not be empty")
	}

	if dir == "" || filepath.Clean(dir) == string(filepath.Separator) || filepath.Clean(dir) == "." {
		return fmt.Errorf("refusing to track unsafe artifact dir %q", dir)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.artifacts[jobID] = Artifact{JobID: jobID, Dir: filepath.Clean(dir), CreatedAt: r.now(), InUse: true}

	return nil
}

// Release removes the job's directory and forgets the record. Releasing an
// unknown or already released job is a no-op. On failure the record is kept,
// no longer in use, so the janitor retries later.
func (r *Registry) Release(ctx context.Context, jobID, reason string) error {
	r.mu.Lock()
	a, ok := r.artifacts[jobID]
	delete(r.artifacts, jobID)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	logger := logctx.LoggerFromContext(ctx).With("job_id", jobID, "dir", a.Dir, "reason", reason)

	if err := os.RemoveAll(a.Dir); err != nil {
		r.mu.Lock()
		if _, retracked := r.artifacts[jobID]; !retracked {
			a.InUse = false
			r.artifacts[jobID] = a
		}
		r.mu.Unlock()

		r.telemetry.RecordArtifactRelease(ctx, reason, "error")
		logger.ErrorContext(ctx, "failed to release artifact", "err", err)

		return fmt.Errorf("failed to remove %s: %w", a.Dir, err)
	}

	r.telemetry.RecordArtifactRelease(ctx, reason, "success")
	logger.DebugContext(ctx, "artifact released", "age", r.now().Sub(a.CreatedAt).Round(time.Millisecond))

	return nil
}

// Tracked returns a snapshot of the records, oldest first.
func (r *Registry) Tracked() []Artifact {
	r.mu.Lock()
	out := make([]Artifact, 0, len(r.artifacts))
	for _, a := range r.artifacts {
		out = append(out, a)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out
}

// ReleaseAll releases every tracked artifact and aggregates the failures.
func (r *Registry) ReleaseAll(ctx context.Context, reason string) error {
	var result *multierror.Error

	for _, a := range r.Tracked() {
		if err := r.Release(ctx, a.JobID, reason); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// DeleteExpired releases idle artifacts older than maxAge. Artifacts still in
// use by their job are skipped whatever their age.
func DeleteExpired(ctx context.Context, reg *Registry, maxAge time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	now := reg.now()

	var result *multierror.Error

	for _, a := range reg.Tracked() {
		if a.InUse || now.Sub(a.CreatedAt) <= maxAge {
			continue
		}

		if err := reg.Release(ctx, a.JobID, ReasonExpired); err != nil {
			result = multierror.Append(result, err)

			continue
		}

		logger.InfoContext(ctx, "deleted expired artifact", "job_id", a.JobID, "dir", a.Dir)
	}

	return result.ErrorOrNil()
}

// RunJanitor calls DeleteExpired every interval until ctx is done.
func RunJanitor(ctx context.Context, reg *Registry, interval, maxAge time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := DeleteExpired(ctx, reg, maxAge); err != nil {
				logger.ErrorContext(ctx, "failed to delete expired artifacts", "err", err)
			}
		}
	}
}
