package downloader

import (
	"context"
	"sync"

	"github.com/italolelis/yt_downloader/internal/cleanup"
	"github.com/italolelis/yt_downloader/internal/media"
)

// State is the position of a job in its lifecycle:
// PENDING -> ACQUIRING -> (TRANSCODING) -> RESOLVED, or FAILED from any step.
type State int

const (
	StatePending State = iota
	StateAcquiring
	StateTranscoding
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateAcquiring:
		return "ACQUIRING"
	case StateTranscoding:
		return "TRANSCODING"
	case StateResolved:
		return "RESOLVED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Job is the working record of one download. It is owned by the request that
// created it and is never shared.
type Job struct {
	ID       string
	MediaRef string
	Policy   media.Policy
	// Dir is the job's private directory inside the working directory.
	Dir string
	// ResolvedPath is set once, on the transition to RESOLVED.
	ResolvedPath string
	Size         int64
	Err          error

	mu       sync.Mutex
	state    State
	registry *cleanup.Registry
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.state
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// Release removes everything the job wrote. It is safe to call more than once.
func (j *Job) Release(ctx context.Context, reason string) error {
	if j == nil || j.registry == nil {
		return nil
	}

	return j.registry.Release(ctx, j.ID, reason)
}
