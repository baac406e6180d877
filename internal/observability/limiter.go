package observability

import (
	"context"
	"time"

	"gatekeeper/internal/ratelimit"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentedLimiter wraps a ratelimit.Limiter and records admission
// decisions, check latency and janitor activity.
type InstrumentedLimiter struct {
	ratelimit.Limiter

	attrs     metric.MeasurementOption
	decisions metric.Int64Counter
	duration  metric.Float64Histogram
	removed   metric.Int64Counter
}

// NewInstrumentedLimiter creates the limiter wrapper and registers a gauge
// callback reporting the number of tracked identifiers.
func NewInstrumentedLimiter(inner ratelimit.Limiter, meter metric.Meter) (*InstrumentedLimiter, error) {
	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Number of admission decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"ratelimit.check.duration",
		metric.WithDescription("Duration of admission checks in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	removed, err := meter.Int64Counter(
		"ratelimit.cleanup.removed",
		metric.WithDescription("Number of stale entries removed by cleanup"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	tracked, err := meter.Int64ObservableGauge(
		"ratelimit.tracked_keys",
		metric.WithDescription("Number of identifiers currently tracked"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, err
	}

	policy := inner.Policy()
	set := attribute.NewSet(
		attribute.String("policy", policy.Name),
		attribute.String("algorithm", policy.Algorithm.String()),
	)

	if _, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(tracked, int64(inner.Len()), metric.WithAttributeSet(set))
		return nil
	}, tracked); err != nil {
		return nil, err
	}

	return &InstrumentedLimiter{
		Limiter:   inner,
		attrs:     metric.WithAttributeSet(set),
		decisions: decisions,
		duration:  duration,
		removed:   removed,
	}, nil
}

// LimiterDecorator adapts NewInstrumentedLimiter for ratelimit.WithDecorator.
func LimiterDecorator(meter metric.Meter) ratelimit.Decorator {
	return func(l ratelimit.Limiter) (ratelimit.Limiter, error) {
		return NewInstrumentedLimiter(l, meter)
	}
}

func (l *InstrumentedLimiter) Check(identifier string) ratelimit.Result {
	start := time.Now()
	res := l.Limiter.Check(identifier)

	ctx := context.Background()
	l.duration.Record(ctx, time.Since(start).Seconds(), l.attrs)
	l.decisions.Add(ctx, 1, l.attrs, metric.WithAttributes(attribute.Bool("admitted", res.Admitted)))

	return res
}

func (l *InstrumentedLimiter) Cleanup() int {
	n := l.Limiter.Cleanup()
	if n > 0 {
		l.removed.Add(context.Background(), int64(n), l.attrs)
	}
	return n
}
