// Package observe holds the OpenTelemetry instruments for practice sessions
// and the Prometheus bridge that exposes them.
//
// Tests should build [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider]. A nil *Metrics is valid and records nothing.
package observe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const meterName = "parley"

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

var recordingBuckets = []float64{
	1, 2, 5, 10, 20, 30, 45, 60, 90, 120,
}

// Metrics are the instruments recorded by the practice machine and its
// remote clients.
type Metrics struct {
	// Transitions counts state changes. Attributes: variant, from, to.
	Transitions metric.Int64Counter

	// Errors counts errors surfaced to the user. Attribute: kind.
	Errors metric.Int64Counter

	// RecordingDuration tracks the length of finalized recordings.
	RecordingDuration metric.Float64Histogram

	// PayloadSize tracks uploaded payload size. Attribute: format.
	PayloadSize metric.Int64Histogram

	// FetchDuration tracks content fetch latency. Attribute: status.
	FetchDuration metric.Float64Histogram

	// SubmitDuration tracks scoring latency. Attribute: status.
	SubmitDuration metric.Float64Histogram

	// ActiveRecordings is the number of live microphone captures.
	ActiveRecordings metric.Int64UpDownCounter
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Transitions, err = m.Int64Counter("parley.practice.transitions",
		metric.WithDescription("State transitions of practice sessions."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("parley.practice.errors",
		metric.WithDescription("Errors surfaced to the user by kind."),
	); err != nil {
		return nil, err
	}
	if met.RecordingDuration, err = m.Float64Histogram("parley.recording.duration",
		metric.WithDescription("Length of finalized recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PayloadSize, err = m.Int64Histogram("parley.recording.payload_size",
		metric.WithDescription("Size of uploaded audio payloads."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.FetchDuration, err = m.Float64Histogram("parley.content.fetch.duration",
		metric.WithDescription("Latency of practice content fetches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SubmitDuration, err = m.Float64Histogram("parley.scoring.submit.duration",
		metric.WithDescription("Latency of scoring submissions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("parley.recording.active",
		metric.WithDescription("Number of live microphone captures."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func (m *Metrics) RecordTransition(ctx context.Context, variant, from, to string) {
	if m == nil {
		return
	}
	m.Transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("variant", variant),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *Metrics) RecordError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordingStarted and RecordingEnded bracket one live capture.
func (m *Metrics) RecordingStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveRecordings.Add(ctx, 1)
}

func (m *Metrics) RecordingEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveRecordings.Add(ctx, -1)
}

func (m *Metrics) RecordPayload(ctx context.Context, format string, size int, d time.Duration) {
	if m == nil {
		return
	}
	m.PayloadSize.Record(ctx, int64(size), metric.WithAttributes(attribute.String("format", format)))
	m.RecordingDuration.Record(ctx, d.Seconds())
}

func (m *Metrics) RecordFetch(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.FetchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(status(err)))
}

func (m *Metrics) RecordSubmit(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SubmitDuration.Record(ctx, d.Seconds(), metric.WithAttributes(status(err)))
}

func status(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "error")
	}
	return attribute.String("status", "ok")
}

// Provider is a MeterProvider exported through a Prometheus registry.
type Provider struct {
	*sdkmetric.MeterProvider
	registry *prometheus.Registry
}

// NewProvider wires a MeterProvider to a fresh Prometheus registry.
func NewProvider(version string) (*Provider, error) {
	res, err := resource.Merge(
		resource.Default(),
		// Schemaless so the merge never conflicts with the SDK's schema.
		resource.NewSchemaless(
			semconv.ServiceName("parley"),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	return &Provider{MeterProvider: mp, registry: reg}, nil
}

// Handler serves the registry in the Prometheus text format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Serve exposes Handler at /metrics on addr until ctx is done.
func (p *Provider) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if serveErr := <-errc; !errors.Is(serveErr, http.ErrServerClosed) {
			err = errors.Join(err, serveErr)
		}
		return err
	}
}
