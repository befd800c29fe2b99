// Package whisper provides whisper.cpp-backed STT providers.
//
// [Provider] talks to a running whisper-server binary over its REST API
// (POST /inference). [NativeProvider] links whisper.cpp directly through the
// CGO bindings and runs inference in-process.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithModel("base.en"))
//	res, err := p.Transcribe(ctx, utterance.Payload, stt.Options{Language: "en"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/provider/stt"
)

// autoLanguage asks whisper.cpp to detect the spoken language.
const autoLanguage = "auto"

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider against a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// New creates a Provider for the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads the payload as a WAV file and returns the server's
// verbose transcription.
func (p *Provider) Transcribe(ctx context.Context, payload audio.Payload, opts stt.Options) (*stt.Result, error) {
	wav, err := audio.PayloadWAV(payload)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whisper: write wav data: %w", err)
	}
	lang := opts.Language
	if lang == "" {
		lang = autoLanguage
	}
	fields := [][2]string{
		{"language", lang},
		{"response_format", "verbose_json"},
	}
	if p.model != "" {
		fields = append(fields, [2]string{"model", p.model})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return parseInference(data, opts.Language)
}

// inferenceResponse is the verbose_json body of POST /inference. Plain json
// responses only carry Text.
type inferenceResponse struct {
	Text             string  `json:"text"`
	Language         string  `json:"language"`
	DetectedLanguage string  `json:"detected_language"`
	Duration         float64 `json:"duration"`
	Segments         []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
	Error string `json:"error"`
}

func parseInference(data []byte, forced string) (*stt.Result, error) {
	var r inferenceResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	if r.Error != "" {
		return nil, fmt.Errorf("whisper: server error: %s", r.Error)
	}

	res := &stt.Result{
		Text:     strings.TrimSpace(r.Text),
		Language: forced,
		Duration: seconds(r.Duration),
	}
	if res.Language == "" {
		res.Language = r.DetectedLanguage
		if res.Language == "" {
			res.Language = r.Language
		}
	}
	for _, s := range r.Segments {
		res.Segments = append(res.Segments, stt.Segment{
			Text:  s.Text,
			Start: seconds(s.Start),
			End:   seconds(s.End),
		})
	}
	if res.Text == "" && len(res.Segments) > 0 {
		res.Text = stt.JoinSegments(res.Segments)
	}
	return res, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
