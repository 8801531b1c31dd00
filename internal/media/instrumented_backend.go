package media

import (
	"context"

	"github.com/italolelis/yt_downloader/internal/telemetry"
)

// InstrumentedBackend wraps Backend with telemetry.
type InstrumentedBackend struct {
	backend   Backend
	telemetry *telemetry.Telemetry
	name      string
}

// NewInstrumentedBackend creates a new instrumented backend.
func NewInstrumentedBackend(backend Backend, tel *telemetry.Telemetry, name string) *InstrumentedBackend {
	return &InstrumentedBackend{
		backend:   backend,
		telemetry: tel,
		name:      name,
	}
}

// Resolve resolves a query or URL with telemetry.
func (b *InstrumentedBackend) Resolve(ctx context.Context, queryOrURL string, limit int) ([]*RawEntry, error) {
	var result []*RawEntry

	var err error

	instrumentedErr := b.telemetry.InstrumentBackendOperation(ctx, b.name, "resolve", func(ctx context.Context) error {
		result, err = b.backend.Resolve(ctx, queryOrURL, limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}

// Acquire fetches media with telemetry.
func (b *InstrumentedBackend) Acquire(ctx context.Context, req AcquireRequest) (string, error) {
	var path string

	var err error

	instrumentedErr := b.telemetry.InstrumentBackendOperation(ctx, b.name, "acquire", func(ctx context.Context) error {
		path, err = b.backend.Acquire(ctx, req)

		return err
	})

	if instrumentedErr != nil {
		return "", instrumentedErr
	}

	return path, nil
}
