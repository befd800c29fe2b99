// Package observe provides application-wide observability primitives for
// Emmy: OpenTelemetry metrics, tracing, trace-correlated logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Emmy metrics.
const meterName = "github.com/MrWong99/emmy"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks synthesis plus playback time of a reply.
	TTSDuration metric.Float64Histogram

	// UtteranceDuration tracks the time from dequeue to the last message of an
	// utterance.
	UtteranceDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// UtterancesCaptured counts utterances pushed onto the utterance queue.
	UtterancesCaptured metric.Int64Counter

	// PhrasesDiscarded counts speech segments shorter than the phrase threshold.
	PhrasesDiscarded metric.Int64Counter

	// Tokens counts completion tokens. Use with attribute:
	//   attribute.String("type", "prompt"|"completion")
	Tokens metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// StageErrors counts pipeline failures by class. Use with attribute:
	//   attribute.String("class", "device"|"inference"|"completion"|"synthesis"|"persistence")
	StageErrors metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of items waiting in a queue. Use with attribute:
	//   attribute.String("queue", "utterance"|"result")
	QueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Whisper on
// CPU and spoken replies regularly take several seconds, hence the long tail.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	for _, h := range []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "emmy.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "emmy.llm.duration", "Latency of completion requests."},
		{&met.TTSDuration, "emmy.tts.duration", "Time to synthesise and play a reply."},
		{&met.UtteranceDuration, "emmy.utterance.duration", "Time to fully process one utterance."},
	} {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("emmy.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesCaptured, err = m.Int64Counter("emmy.utterances.captured",
		metric.WithDescription("Total utterances handed to the transcription stage."),
	); err != nil {
		return nil, err
	}
	if met.PhrasesDiscarded, err = m.Int64Counter("emmy.phrases.discarded",
		metric.WithDescription("Total speech segments dropped for being too short."),
	); err != nil {
		return nil, err
	}
	if met.Tokens, err = m.Int64Counter("emmy.llm.tokens",
		metric.WithDescription("Total completion tokens by type."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("emmy.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.StageErrors, err = m.Int64Counter("emmy.stage.errors",
		metric.WithDescription("Total pipeline failures by error class."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("emmy.queue.depth",
		metric.WithDescription("Number of items waiting in a pipeline queue."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("emmy.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordStageError records a pipeline failure of the given class.
func (m *Metrics) RecordStageError(ctx context.Context, class string) {
	m.StageErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}

// RecordTokens records prompt and completion token usage of one completion.
func (m *Metrics) RecordTokens(ctx context.Context, prompt, completion int) {
	m.Tokens.Add(ctx, int64(prompt), metric.WithAttributes(attribute.String("type", "prompt")))
	m.Tokens.Add(ctx, int64(completion), metric.WithAttributes(attribute.String("type", "completion")))
}

// AddQueueDepth adjusts the depth gauge of the named queue by delta.
func (m *Metrics) AddQueueDepth(ctx context.Context, queue string, delta int64) {
	m.QueueDepth.Add(ctx, delta, metric.WithAttributes(attribute.String("queue", queue)))
}
