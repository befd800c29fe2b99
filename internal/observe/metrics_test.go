package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the value of the int64 sum data point of metric name whose
// attribute key equals value.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"emmy.stt.duration", m.STTDuration},
		{"emmy.llm.duration", m.LLMDuration},
		{"emmy.tts.duration", m.TTSDuration},
		{"emmy.utterance.duration", m.UtteranceDuration},
		{"emmy.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 2.5)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "error")
	m.RecordProviderError(ctx, "azure", "tts")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "emmy.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumValue(t, rm, "emmy.provider.requests", "status", "error"); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
	if got := sumValue(t, rm, "emmy.provider.errors", "kind", "tts"); got != 1 {
		t.Errorf("tts errors = %d, want 1", got)
	}
}

func TestStageErrors(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStageError(ctx, "inference")
	m.RecordStageError(ctx, "inference")
	m.RecordStageError(ctx, "persistence")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "emmy.stage.errors", "class", "inference"); got != 2 {
		t.Errorf("inference errors = %d, want 2", got)
	}
	if got := sumValue(t, rm, "emmy.stage.errors", "class", "persistence"); got != 1 {
		t.Errorf("persistence errors = %d, want 1", got)
	}
}

func TestRecordTokens(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTokens(ctx, 12, 5)
	m.RecordTokens(ctx, 10, 3)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "emmy.llm.tokens", "type", "prompt"); got != 22 {
		t.Errorf("prompt tokens = %d, want 22", got)
	}
	if got := sumValue(t, rm, "emmy.llm.tokens", "type", "completion"); got != 8 {
		t.Errorf("completion tokens = %d, want 8", got)
	}
}

func TestQueueDepth(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.AddQueueDepth(ctx, "utterance", 1)
	m.AddQueueDepth(ctx, "utterance", 1)
	m.AddQueueDepth(ctx, "utterance", -1)
	m.AddQueueDepth(ctx, "result", 3)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "emmy.queue.depth", "queue", "utterance"); got != 1 {
		t.Errorf("utterance depth = %d, want 1", got)
	}
	if got := sumValue(t, rm, "emmy.queue.depth", "queue", "result"); got != 3 {
		t.Errorf("result depth = %d, want 3", got)
	}
}

func TestUtteranceCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.UtterancesCaptured.Add(ctx, 3)
	m.PhrasesDiscarded.Add(ctx, 1)

	rm := collect(t, reader)
	for name, want := range map[string]int64{
		"emmy.utterances.captured": 3,
		"emmy.phrases.discarded":   1,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		sum := met.Data.(metricdata.Sum[int64])
		if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != want {
			t.Errorf("%s = %+v, want %d", name, sum.DataPoints, want)
		}
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
