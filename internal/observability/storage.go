package observability

import (
	"context"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
	purged   metric.Int64Counter
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("gatekeeper/storage")
	meter := otel.Meter("gatekeeper/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	purged, err := meter.Int64Counter(
		"storage.violations.purged",
		metric.WithDescription("Number of violations removed by retention purges"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
		purged:   purged,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func filterAttributes(filter models.ViolationFilter) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Int("filter.limit", filter.Limit)}
	if filter.Policy != "" {
		attrs = append(attrs, attribute.String("policy", filter.Policy))
	}
	if !filter.Since.IsZero() {
		attrs = append(attrs, attribute.String("filter.since", filter.Since.UTC().Format(time.RFC3339)))
	}
	return attrs
}

func (s *InstrumentedStorage) RecordViolation(ctx context.Context, v *models.Violation) error {
	ctx, span := s.startSpan(ctx, "RecordViolation",
		attribute.String("violation_id", v.ID),
		attribute.String("policy", v.Policy),
	)
	start := time.Now()
	err := s.inner.RecordViolation(ctx, v)
	s.record(ctx, span, "RecordViolation", start, err)
	return err
}

func (s *InstrumentedStorage) GetViolation(ctx context.Context, id string) (*models.Violation, error) {
	ctx, span := s.startSpan(ctx, "GetViolation", attribute.String("violation_id", id))
	start := time.Now()
	result, err := s.inner.GetViolation(ctx, id)
	s.record(ctx, span, "GetViolation", start, err)
	return result, err
}

func (s *InstrumentedStorage) Violations(ctx context.Context, filter models.ViolationFilter) ([]*models.Violation, error) {
	ctx, span := s.startSpan(ctx, "Violations", filterAttributes(filter)...)
	start := time.Now()
	result, err := s.inner.Violations(ctx, filter)
	span.SetAttributes(attribute.Int("result.count", len(result)))
	s.record(ctx, span, "Violations", start, err)
	return result, err
}

func (s *InstrumentedStorage) CountViolations(ctx context.Context, filter models.ViolationFilter) (int, error) {
	ctx, span := s.startSpan(ctx, "CountViolations", filterAttributes(filter)...)
	start := time.Now()
	count, err := s.inner.CountViolations(ctx, filter)
	s.record(ctx, span, "CountViolations", start, err)
	return count, err
}

func (s *InstrumentedStorage) PurgeViolations(ctx context.Context, before time.Time) (int64, error) {
	ctx, span := s.startSpan(ctx, "PurgeViolations",
		attribute.String("before", before.UTC().Format(time.RFC3339)),
	)
	start := time.Now()
	removed, err := s.inner.PurgeViolations(ctx, before)
	if removed > 0 {
		s.purged.Add(ctx, removed)
	}
	span.SetAttributes(attribute.Int64("result.removed", removed))
	s.record(ctx, span, "PurgeViolations", start, err)
	return removed, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
