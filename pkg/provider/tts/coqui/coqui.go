// Package coqui provides a TTS provider for a locally running Coqui TTS
// server. It needs no API key, which makes it a natural last entry in a TTS
// fallback group.
//
// Two server flavours are supported:
//
//   - APIModeStandard (default): the stock Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is GET /api/tts with query
//     parameters; voices come from GET /details.
//   - APIModeXTTS: the XTTS v2 API server. Synthesis is POST /tts_to_audio/
//     with a JSON body; voices come from GET /studio_speakers.
//
// Both servers answer one WAV file per request. SynthesizeStream therefore
// splits the reply into sentences, keeps a few requests in flight and emits
// the PCM of each sentence in order, resampled to the playback rate.
//
// Usage:
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithOutputSampleRate(16000))
//	audio, err := tts.SynthesizeText(ctx, p, "Hello there.", tts.VoiceProfile{})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	xttsEndpoint     = "/tts_to_audio/"
	speakersEndpoint = "/studio_speakers"
	apiTTSEndpoint   = "/api/tts"
	detailsEndpoint  = "/details"

	// lookahead is the number of sentence requests kept in flight.
	lookahead = 3

	chunkSize = 4096
)

// APIMode selects which Coqui server API the provider talks to.
type APIMode string

const (
	// APIModeStandard targets the stock Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"

	// APIModeXTTS targets the XTTS v2 API server (/tts_to_audio/). It needs
	// a speaker in every request.
	APIModeXTTS APIMode = "xtts"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server. Default: "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithAPIMode selects the server flavour. Default: [APIModeStandard].
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithOutputSampleRate resamples mono output to rate. Zero keeps the model's
// native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider against a Coqui TTS server. It is safe for
// concurrent use.
type Provider struct {
	serverURL  string
	language   string
	apiMode    APIMode
	outputRate int
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	return p, nil
}

// ─── synthesis ───────────────────────────────────────────────────────────────

// result is the outcome of synthesising one sentence.
type result struct {
	pcm []byte
	err error
}

// SynthesizeStream splits the incoming text into sentences and synthesises
// each with its own request, up to lookahead at a time. PCM is emitted in
// sentence order. The first failing sentence ends the stream.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return nil, errors.New("coqui: voice.ID must not be empty in xtts mode")
	}

	out := make(chan []byte, 16)
	pending := make(chan chan result, lookahead)

	// Dispatcher: one request per sentence, in order of arrival.
	go func() {
		defer close(pending)
		dispatch := func(sentence string) bool {
			res := make(chan result, 1)
			select {
			case pending <- res:
			case <-ctx.Done():
				return false
			}
			go func() {
				pcm, err := p.synthesize(ctx, sentence, voice)
				res <- result{pcm: pcm, err: err}
			}()
			return true
		}

		var buf strings.Builder
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					if rest := strings.TrimSpace(buf.String()); rest != "" {
						dispatch(rest)
					}
					return
				}
				buf.WriteString(fragment)
				for {
					s := buf.String()
					i := sentenceEnd(s)
					if i < 0 {
						break
					}
					buf.Reset()
					buf.WriteString(s[i+1:])
					if sentence := strings.TrimSpace(s[:i+1]); sentence != "" && !dispatch(sentence) {
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Collector: forwards results in order.
	go func() {
		defer close(out)
		for res := range pending {
			var r result
			select {
			case r = <-res:
			case <-ctx.Done():
				return
			}
			if r.err != nil {
				if ctx.Err() == nil {
					slog.Warn("coqui: sentence synthesis failed", "err", r.err)
				}
				return
			}
			for pcm := r.pcm; len(pcm) > 0; {
				n := min(chunkSize, len(pcm))
				select {
				case out <- pcm[:n]:
				case <-ctx.Done():
					return
				}
				pcm = pcm[n:]
			}
		}
	}()

	return out, nil
}

// xttsRequest is the body of POST /tts_to_audio/.
type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// synthesize requests one sentence and returns its PCM at the output rate.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.VoiceProfile) ([]byte, error) {
	var (
		req *http.Request
		err error
	)
	if p.apiMode == APIModeXTTS {
		body, merr := json.Marshal(xttsRequest{Text: sentence, SpeakerWav: voice.ID, Language: p.language})
		if merr != nil {
			return nil, fmt.Errorf("coqui: marshal request: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		q := url.Values{"text": {sentence}}
		if voice.ID != "" {
			q.Set("speaker_id", voice.ID)
		}
		if p.language != "" {
			q.Set("language_id", p.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+q.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}

	pcm, f, err := audio.ParseWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	if f.Channels > 1 {
		pcm = audio.StereoToMono(pcm)
	}
	if p.outputRate > 0 && f.SampleRate != p.outputRate {
		pcm = audio.ResampleMono16(pcm, f.SampleRate, p.outputRate)
	}
	return pcm, nil
}

// sentenceEnd returns the index of the first '.', '!' or '?' that ends s or
// is followed by whitespace, or -1. "3.14" and "Dr.X" do not split.
func sentenceEnd(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i+1 == len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}

// ─── voices ──────────────────────────────────────────────────────────────────

// detailsResponse is the body of GET /details. Speakers is empty for
// single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Speakers  []string `json:"speakers"`
}

// ListVoices returns the speakers the server offers. A single-speaker model
// is reported as one voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	endpoint := detailsEndpoint
	if p.apiMode == APIModeXTTS {
		endpoint = speakersEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: list voices: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}

	var (
		names []string
		kind  = "speaker"
	)
	if p.apiMode == APIModeXTTS {
		var speakers map[string]json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&speakers); err != nil {
			return nil, fmt.Errorf("coqui: decode speakers: %w", err)
		}
		for name := range speakers {
			names = append(names, name)
		}
		kind = "studio"
	} else {
		var d detailsResponse
		if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
			return nil, fmt.Errorf("coqui: decode details: %w", err)
		}
		names = append(names, d.Speakers...)
		if len(names) == 0 {
			name := d.ModelName
			if name == "" {
				name = "default"
			}
			names, kind = []string{name}, "single-speaker"
		}
	}
	slices.Sort(names)

	profiles := make([]tts.VoiceProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{"type": kind},
		})
	}
	return profiles, nil
}
