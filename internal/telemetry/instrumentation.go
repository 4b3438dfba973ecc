package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes here stay low-cardinality on purpose: operation names,
// outcome classes and component names only. Download ids, URIs and file paths
// belong in logs, never in metric dimensions.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation instruments a generic operation with a span.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	ctx, span := t.tracer.Start(ctx, operationName)
	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

// InstrumentDBOperation instruments store operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "storage", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(operation, status, time.Since(start))

	return err
}

// InstrumentAttempt instruments one download attempt, tracking the in-flight
// gauge and attempt duration.
func (t *Telemetry) InstrumentAttempt(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	if t.downloadsActive != nil {
		t.downloadsActive.Add(ctx, 1)
		defer t.downloadsActive.Add(context.Background(), -1)
	}

	err := t.InstrumentOperation(ctx, "download_attempt", "engine", fn)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}

	t.RecordAttempt(outcome, time.Since(start))

	return err
}
