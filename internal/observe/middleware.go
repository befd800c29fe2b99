package observe

import (
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// Middleware instruments the observability listener (/metrics, /healthz,
// /readyz). otelhttp opens a server span per request, continuing an incoming
// W3C trace context. The trace ID is echoed in X-Correlation-ID, the request
// duration lands in [Metrics.HTTPRequestDuration], and a log line is written.
// Probes and scrapes arrive every few seconds, so only server errors are
// logged above debug.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			res := httpsnoop.CaptureMetrics(next, w, r)

			trace.SpanFromContext(ctx).SetAttributes(semconv.HTTPResponseStatusCode(res.Code))
			m.HTTPRequestDuration.Record(ctx, res.Duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", r.URL.Path),
				),
			)

			level := slog.LevelDebug
			if res.Code >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			slog.LogAttrs(ctx, level, "http request",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", res.Code),
				slog.Int64("bytes", res.Written),
				slog.Duration("duration", res.Duration),
			)
		})

		return otelhttp.NewHandler(inner, "emmy.http",
			otelhttp.WithPropagators(prop),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "HTTP " + r.Method + " " + r.URL.Path
			}),
		)
	}
}
