package kws

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for pipeline metrics.
const meterName = "github.com/cortexswarm/kws-go"

// latencyBuckets are histogram boundaries in seconds. One window must finish
// well inside a hop (500 ms by default).
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// pipelineMetrics holds the controller's instruments.
type pipelineMetrics struct {
	windows          metric.Int64Counter
	inferenceLatency metric.Float64Histogram
	featureLatency   metric.Float64Histogram
	accepted         metric.Int64Counter
	captureErrors    metric.Int64Counter
}

// newPipelineMetrics creates the instruments. When src counts dropped audio,
// the count is exported as kws.source.dropped.
func newPipelineMetrics(mp metric.MeterProvider, src Source) (*pipelineMetrics, error) {
	m := mp.Meter(meterName)
	var err error
	pm := &pipelineMetrics{}
	if pm.windows, err = m.Int64Counter("kws.windows",
		metric.WithDescription("Windows processed, by gate outcome."),
	); err != nil {
		return nil, err
	}
	if pm.inferenceLatency, err = m.Float64Histogram("kws.inference.duration",
		metric.WithDescription("Latency of one classifier invocation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if pm.featureLatency, err = m.Float64Histogram("kws.features.duration",
		metric.WithDescription("Latency of MFCC extraction for one window."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if pm.accepted, err = m.Int64Counter("kws.predictions.accepted",
		metric.WithDescription("Predictions above the probability threshold, by label."),
	); err != nil {
		return nil, err
	}
	if pm.captureErrors, err = m.Int64Counter("kws.capture.errors",
		metric.WithDescription("Windows skipped because of an error."),
	); err != nil {
		return nil, err
	}
	if dc, ok := src.(droppedCounter); ok {
		if _, err = m.Int64ObservableCounter("kws.source.dropped",
			metric.WithDescription("Audio chunks discarded by the source because capture fell behind."),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(dc.Dropped())
				return nil
			}),
		); err != nil {
			return nil, err
		}
	}
	return pm, nil
}

func (pm *pipelineMetrics) recordWindow(ctx context.Context, outcome string) {
	pm.windows.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (pm *pipelineMetrics) recordAccepted(ctx context.Context, label string) {
	pm.accepted.Add(ctx, 1, metric.WithAttributes(attribute.String("label", label)))
}
