package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func TestInitProvider_ServesPrometheusMetrics(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	tel, err := InitProvider(context.Background(), ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	m, err := NewMetrics(tel.MeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordStageError(context.Background(), "synthesis")

	srv := httptest.NewServer(tel.MetricsHandler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "emmy_stage_errors") {
		t.Errorf("exposition does not contain emmy_stage_errors:\n%s", body)
	}
}

func TestHTTPClient_Traces(t *testing.T) {
	exp := useTestTracer(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	t.Cleanup(srv.Close)

	ctx, parent := StartSpan(context.Background(), "utterance")
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := HTTPClient(0).Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	parent.End()

	spans := exp.GetSpans()
	if len(spans) < 2 {
		t.Fatalf("expected a client span under the parent, got %d spans", len(spans))
	}
	if spans[0].Parent.SpanID() != parent.SpanContext().SpanID() {
		t.Error("client span is not a child of the calling span")
	}
}

func TestStreamingHTTPClient_SlowBodyIsNotCutOff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		for range 3 {
			time.Sleep(100 * time.Millisecond)
			_, _ = w.Write([]byte("pcm"))
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)

	c := StreamingHTTPClient(150 * time.Millisecond)
	if c.Timeout != 0 {
		t.Fatalf("Timeout = %s, want no whole-request bound", c.Timeout)
	}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("body read cut off: %v", err)
	}
	if string(body) != "pcmpcmpcm" {
		t.Errorf("body = %q", body)
	}
}

func TestStreamingHTTPClient_HeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	if _, err := StreamingHTTPClient(50 * time.Millisecond).Get(srv.URL); err == nil {
		t.Fatal("expected a response header timeout")
	}
}
