package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/yt_downloader/internal/cleanup"
	"github.com/italolelis/yt_downloader/internal/media"
)

// writeOutput renders the template like a backend would and writes content.
func writeOutput(t *testing.T, req media.AcquireRequest, title, ext, content string) string {
	t.Helper()

	path := media.RenderTemplate(req.OutputTemplate, title, "abc", ext)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func newTestOrchestrator(t *testing.T, backend media.Backend) (*Orchestrator, *cleanup.Registry, string) {
	t.Helper()

	workDir := filepath.Join(t.TempDir(), "downloads")
	reg := cleanup.NewRegistry(nil)

	o := NewOrchestrator(backend, reg, nil, Options{
		WorkDir:        workDir,
		MaxParallel:    2,
		AcquireTimeout: time.Second,
	})

	return o, reg, workDir
}

func listWorkDir(t *testing.T, dir string) []string {
	t.Helper()

	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			files = append(files, path)
		}

		return nil
	})
	require.NoError(t, err)

	return files
}

func TestAcquire_AudioRewritesExtension(t *testing.T) {
	var got media.AcquireRequest

	backend := media.BackendFunc{AcquireFunc: func(_ context.Context, req media.AcquireRequest) (string, error) {
		got = req
		src := writeOutput(t, req, "song", "webm", "")
		require.NoError(t, os.Remove(src))
		writeOutput(t, req, "song", "mp3", "ID3 audio")

		return src, nil
	}}

	o, reg, workDir := newTestOrchestrator(t, backend)

	job, err := o.Acquire(context.Background(), media.DownloadRequest{MediaRef: "https://youtu.be/abc", Format: media.FormatAudio})
	require.NoError(t, err)

	assert.Equal(t, StateResolved, job.State())
	assert.Equal(t, "song.mp3", filepath.Base(job.ResolvedPath))
	assert.Equal(t, int64(len("ID3 audio")), job.Size)
	assert.Equal(t, "audio/mpeg", job.Policy.ContentType)

	assert.Equal(t, media.SelectBestAudio, got.Selector)
	require.NotNil(t, got.Transcode)
	assert.Equal(t, filepath.Join(job.Dir, "%(title)s.%(ext)s"), got.OutputTemplate)
	assert.True(t, strings.HasPrefix(job.Dir, workDir))
	assert.Len(t, reg.Tracked(), 1)

	require.NoError(t, job.Release(context.Background(), cleanup.ReasonDelivered))
	assert.NoDirExists(t, job.Dir)
	assert.Empty(t, listWorkDir(t, workDir))
}

func TestAcquire_VideoKeepsPath(t *testing.T) {
	backend := media.BackendFunc{AcquireFunc: func(_ context.Context, req media.AcquireRequest) (string, error) {
		assert.Nil(t, req.Transcode)
		assert.Equal(t, media.SelectBestCombined, req.Selector)

		return writeOutput(t, req, "clip", "mp4", "video"), nil
	}}

	o, _, _ := newTestOrchestrator(t, backend)

	job, err := o.Acquire(context.Background(), media.DownloadRequest{MediaRef: "https://youtu.be/abc"})
	require.NoError(t, err)

	assert.Equal(t, "clip.mp4", filepath.Base(job.ResolvedPath))
	assert.Equal(t, "video/mp4", job.Policy.ContentType)
}

func TestAcquire_RelativeAndEmptyReports(t *testing.T) {
	t.Run("relative", func(t *testing.T) {
		backend := media.BackendFunc{AcquireFunc: func(_ context.Context, req media.AcquireRequest) (string, error) {
			writeOutput(t, req, "clip", "mp4", "video")

			return "clip.mp4", nil
		}}

		o, _, _ := newTestOrchestrator(t, backend)

		job, err := o.Acquire(context.Background(), media.DownloadRequest{MediaRef: "ref"})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(job.Dir, "clip.mp4"), job.ResolvedPath)
	})

	t.Run("empty report finds the single output", func(t *testing.T) {
		backend := media.BackendFunc{AcquireFunc: func(_ context.Context, req media.AcquireRequest) (string, error) {
			writeOutput(t, req, "song", "mp3", "audio")

			return "", nil
		}}

		o, _, _ := newTestOrchestrator(t, backend)

		job, err := o.Acquire(context.Background(), media.DownloadRequest{MediaRef: "ref", Format: media.FormatAudio})
		require.NoError(t, err)
		assert.Equal(t, "song.mp3", filepath.Base(job.ResolvedPath))
	})
}

func TestAcquire_BackendFailureLeavesNoFiles(t *testing.T) {
	backend := media.BackendFunc{AcquireFunc: func(_ context.Context, req media.AcquireRequest) (string, error) {
		writeOutput(t, req, "partial", "mp4.part", "half")

		return "", errors.New("ERROR: [generic] 'not-a-real-url' is not a valid URL")
	}}

	o, reg, workDir := newTestOrchestrator(t, backend)

	job, err := o.Acquire(context.Background(), media.DownloadRequest{MediaRef: "not-a-real-url"})
	require.Nil(t, job)

	var acqErr *media.AcquisitionError
	require.True(t, errors.As(err, &acqErr))
	assert.Contains(t, acqErr.Message, "not a valid URL")
	assert.Equal(t, "not-a-real-url", acqErr.MediaRef)

	assert.Empty(t, listWorkDir(t, workDir))
	assert.Empty(t, reg.Tracked())

	select {
	case failed := <-o.OnJobFailed:
		assert.Equal(t, StateFailed, failed.State())
		assert.Equal(t, err, failed.Err)
	default:
		t.Fatal("expected a job failure event")
	}
}

func TestAcquire_MissingOrEmptyOutputIsInternalError(t *testing.T) {
	tests := []struct {
		name    string
		acquire func(t *testing.T, req media.AcquireRequest) string
		reason  string
	}{
		{
			name: "missing",
			acquire: func(t *testing.T, req media.AcquireRequest) string {
				return media.RenderTemplate(req.OutputTemplate, "ghost", "abc", "mp4")
			},
			reason: "output file missing after acquisition",
		},
		{
			name: "empty",
			acquire: func(t *testing.T, req media.AcquireRequest) string {
				return writeOutput(t, req, "empty", "mp4", "")
			},
			reason: "output file is empty",
		},
		{
			name: "escapes job dir",
			acquire: func(t *testing.T, req media.AcquireRequest) string {
				return filepath.Join(filepath.Dir(req.OutputTemplate), "..", "other.mp4")
			},
			reason: "output path escapes the job directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := media.BackendFunc{AcquireFunc: func(_ context.Context, req media.AcquireRequest) (string, error) {
				return tt.acquire(t, req), nil
			}}

			o, _, workDir := newTestOrchestrator(t, backend)

			_, err := o.Acquire(context.Background(), media.DownloadRequest{MediaRef: "ref"})

			var intErr *media.InternalError
			require.True(t, errors.As(err, &intErr), "got %v", err)
			assert.Equal(t, tt.reason, intErr.Reason)
			assert.Empty(t, listWorkDir(t, workDir))
		})
	}
}

func TestAcquire_AudioWithoutTranscodedFile(t *testing.T) {
	backend := media.BackendFunc{AcquireFunc: func(_ context.Context, req media.AcquireRequest) (string, error) {
		return writeOutput(t, req, "song", "webm", "not transcoded"), nil
	}}

	o, _, workDir := newTestOrchestrator(t, backend)

	_, err := o.Acquire(context.Background(), media.DownloadRequest{MediaRef: "ref", Format: media.FormatAudio})

	var intErr *media.InternalError
	require.True(t, errors.As(err, &intErr))
	assert.Empty(t, listWorkDir(t, workDir))
}

func TestAcquire_Timeout(t *testing.T) {
	backend := media.BackendFunc{AcquireFunc: func(ctx context.Context, req media.AcquireRequest) (string, error) {
		<-ctx.Done()

		return "", ctx.Err()
	}}

	o, _, _ := newTestOrchestrator(t, backend)
	o.opts.AcquireTimeout = 20 * time.Millisecond

	_, err := o.Acquire(context.Background(), media.DownloadRequest{MediaRef: "ref"})

	var acqErr *media.AcquisitionError
	require.True(t, errors.As(err, &acqErr))
	assert.True(t, acqErr.Timeout)
}

func TestAcquire_ClientCancellationDoesNotStopAcquisition(t *testing.T) {
	started := make(chan struct{})

	backend := media.BackendFunc{AcquireFunc: func(ctx context.Context, req media.AcquireRequest) (string, error) {
		close(started)
		time.Sleep(30 * time.Millisecond)

		if err := ctx.Err(); err != nil {
			return "", err
		}

		return writeOutput(t, req, "clip", "mp4", "video"), nil
	}}

	o, _, _ := newTestOrchestrator(t, backend)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-started
		cancel()
	}()

	job, err := o.Acquire(ctx, media.DownloadRequest{MediaRef: "ref"})
	require.NoError(t, err)
	assert.Equal(t, StateResolved, job.State())
}

func TestAcquire_ValidationBeforeBackend(t *testing.T) {
	var calls atomic.Int32

	backend := media.BackendFunc{AcquireFunc: func(context.Context, media.AcquireRequest) (string, error) {
		calls.Add(1)

		return "", nil
	}}

	o, _, workDir := newTestOrchestrator(t, backend)

	for _, ref := range []string{"", "   ", "%20", strings.Repeat("a", MaxMediaRefLength+1)} {
		_, err := o.Acquire(context.Background(), media.DownloadRequest{MediaRef: ref})

		var valErr *media.ValidationError
		require.True(t, errors.As(err, &valErr), "ref %q", ref)
		assert.Equal(t, "url", valErr.Field)
	}

	assert.Zero(t, calls.Load())
	assert.NoDirExists(t, workDir)
}

func TestAcquire_BoundsParallelism(t *testing.T) {
	var (
		inFlight atomic.Int32
		peak     atomic.Int32
	)

	backend := media.BackendFunc{AcquireFunc: func(_ context.Context, req media.AcquireRequest) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond)

		return writeOutput(t, req, "clip", "mp4", "video"), nil
	}}

	o, _, _ := newTestOrchestrator(t, backend)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			job, err := o.Acquire(context.Background(), media.DownloadRequest{MediaRef: "ref"})
			if assert.NoError(t, err) {
				assert.NoError(t, job.Release(context.Background(), cleanup.ReasonDelivered))
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestAcquire_CancelledWhileWaitingForSlot(t *testing.T) {
	block := make(chan struct{})

	backend := media.BackendFunc{AcquireFunc: func(_ context.Context, req media.AcquireRequest) (string, error) {
		<-block

		return writeOutput(t, req, "clip", "mp4", "video"), nil
	}}

	o, _, _ := newTestOrchestrator(t, backend)
	o.slots.TryAcquire(2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := o.Acquire(ctx, media.DownloadRequest{MediaRef: "ref"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
}

func TestAcquire_FailureEventsNeverBlock(t *testing.T) {
	backend := media.BackendFunc{AcquireFunc: func(context.Context, media.AcquireRequest) (string, error) {
		return "", errors.New("Video unavailable")
	}}

	o, _, _ := newTestOrchestrator(t, backend)

	for i := 0; i < failedJobsBuffer+5; i++ {
		_, err := o.Acquire(context.Background(), media.DownloadRequest{MediaRef: "ref"})
		require.Error(t, err)
	}

	assert.Len(t, o.OnJobFailed, failedJobsBuffer)
}

func TestAcquire_FailureAfterClose(t *testing.T) {
	started := make(chan struct{})
	proceed := make(chan struct{})

	var calls atomic.Int32

	backend := media.BackendFunc{AcquireFunc: func(_ context.Context, req media.AcquireRequest) (string, error) {
		if calls.Add(1) == 1 {
			writeOutput(t, req, "partial", "mp4.part", "half")
			close(started)
			<-proceed
		}

		return "", errors.New("HTTP Error 403: Forbidden")
	}}

	o, reg, workDir := newTestOrchestrator(t, backend)

	inFlight := make(chan error, 1)

	go func() {
		_, err := o.Acquire(context.Background(), media.DownloadRequest{MediaRef: "https://youtu.be/abc"})
		inFlight <- err
	}()

	<-started
	o.Close()
	o.Close()
	close(proceed)

	select {
	case err := <-inFlight:
		var acqErr *media.AcquisitionError
		assert.True(t, errors.As(err, &acqErr))
	case <-time.After(time.Second):
		t.Fatal("in-flight acquisition did not finish")
	}

	assert.NotPanics(t, func() {
		_, err := o.Acquire(context.Background(), media.DownloadRequest{MediaRef: "https://youtu.be/abc"})
		assert.Error(t, err)
	})

	_, open := <-o.OnJobFailed
	assert.False(t, open)
	assert.Empty(t, listWorkDir(t, workDir))
	assert.Empty(t, reg.Tracked())
}

func TestEnsureWorkDir_Concurrent(t *testing.T) {
	o, _, workDir := newTestOrchestrator(t, media.BackendFunc{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			dir, err := o.EnsureWorkDir()
			assert.NoError(t, err)
			assert.Equal(t, workDir, dir)
		}()
	}
	wg.Wait()

	assert.DirExists(t, workDir)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "PENDING", StatePending.String())
	assert.Equal(t, "ACQUIRING", StateAcquiring.String())
	assert.Equal(t, "TRANSCODING", StateTranscoding.String())
	assert.Equal(t, "RESOLVED", StateResolved.String())
	assert.Equal(t, "FAILED", StateFailed.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
