package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span and metric attributes must stay low cardinality: backend names,
// operation names, formats and status values only. Media references, titles,
// file paths and error messages go to logs or to the span status.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := statusOf(err)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentBackendOperation instruments a call into the extraction backend.
func (t *Telemetry) InstrumentBackendOperation(ctx context.Context, backend, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	err := t.InstrumentOperation(ctx, "backend_"+operation, "backend", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("backend.type", backend))

		return fn(ctx)
	})

	t.RecordBackendOperation(ctx, backend, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentDownload instruments one acquisition, from request to resolved file.
func (t *Telemetry) InstrumentDownload(ctx context.Context, format string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.IncrementActiveDownloads(ctx)
	defer t.DecrementActiveDownloads(ctx)

	err := t.InstrumentOperation(ctx, "download", "orchestrator", func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("download.format", format))

		return fn(ctx)
	})

	t.RecordDownload(ctx, format, statusOf(err), time.Since(start))

	return err
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
