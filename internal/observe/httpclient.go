package observe

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPClient returns an HTTP client whose requests are traced as client spans
// of the calling context. Collaborator adapters use it so that provider
// round-trips show up under the utterance span.
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// StreamingHTTPClient is like [HTTPClient] but bounds only connection setup
// and the wait for response headers. The body may take as long as the caller
// needs, which matters for synthesis responses read at playback pace; the
// request context is what ends such a call.
func StreamingHTTPClient(headerTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: headerTimeout, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = headerTimeout
	tr.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: otelhttp.NewTransport(tr)}
}
