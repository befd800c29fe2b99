// Package azure provides a TTS provider for the Azure Speech REST API.
//
// Replies are rendered into SSML carrying the voice name and prosody (pitch
// and rate) of the requested VoiceProfile and posted to
// https://{region}.tts.speech.microsoft.com/cognitiveservices/v1. The
// response body is raw 16 kHz 16-bit mono PCM, forwarded in chunks as it
// arrives.
//
// Usage:
//
//	p, err := azure.New(key, "westeurope")
//	audio, err := tts.SynthesizeText(ctx, p, "Hello!", tts.VoiceProfile{ID: "en-US-JennyNeural"})
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/emmy/pkg/provider/tts"
)

const (
	// DefaultOutputFormat is the Azure output format requested by default. It
	// matches the pipeline's playback format.
	DefaultOutputFormat = "raw-16khz-16bit-mono-pcm"

	defaultLanguage = "en-US"
	userAgent       = "emmy"
	chunkSize       = 4096
)

// Compile-time assertion that Provider implements tts.Provider.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithEndpoint overrides the regional base URL
// (default https://{region}.tts.speech.microsoft.com).
func WithEndpoint(base string) Option {
	return func(p *Provider) { p.endpoint = strings.TrimRight(base, "/") }
}

// WithOutputFormat sets the X-Microsoft-OutputFormat header. Only raw PCM
// formats can be played by the pipeline.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithLanguage sets the xml:lang attribute of the SSML document.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider against the Azure Speech REST API.
type Provider struct {
	key          string
	endpoint     string
	outputFormat string
	language     string
	httpClient   *http.Client
}

// New creates a Provider for the given subscription key and service region.
func New(key, region string, opts ...Option) (*Provider, error) {
	if key == "" {
		return nil, errors.New("azure: subscription key must not be empty")
	}
	p := &Provider{
		key:          key,
		outputFormat: DefaultOutputFormat,
		language:     defaultLanguage,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	if region != "" {
		p.endpoint = fmt.Sprintf("https://%s.tts.speech.microsoft.com", region)
	}
	for _, o := range opts {
		o(p)
	}
	if p.endpoint == "" {
		return nil, errors.New("azure: region or endpoint must be set")
	}
	return p, nil
}

// SSML renders text as an SSML document for the given voice. The text is
// XML-escaped; empty pitch or rate attributes are omitted.
func SSML(lang string, voice tts.VoiceProfile, text string) string {
	var b strings.Builder
	b.WriteString("<speak version='1.0' xml:lang='")
	writeEscaped(&b, lang)
	b.WriteString("' xmlns='http://www.w3.org/2001/10/synthesis'><voice name='")
	writeEscaped(&b, voice.ID)
	b.WriteString("'><prosody")
	if voice.Pitch != "" {
		b.WriteString(" pitch='")
		writeEscaped(&b, voice.Pitch)
		b.WriteString("'")
	}
	if voice.Rate != "" {
		b.WriteString(" rate='")
		writeEscaped(&b, voice.Rate)
		b.WriteString("'")
	}
	b.WriteString(">")
	writeEscaped(&b, text)
	b.WriteString("</prosody></voice></speak>")
	return b.String()
}

func writeEscaped(b *strings.Builder, s string) {
	_ = xml.EscapeText(b, []byte(s))
}

// SynthesizeStream collects all text fragments (the REST API is not
// incremental), posts the SSML document, and streams the PCM response. The
// call blocks until text is closed so that a rejected request is reported as
// an error rather than an empty stream.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("azure: voice.ID must not be empty")
	}

	var parts []string
collect:
	for {
		select {
		case fragment, ok := <-text:
			if !ok {
				break collect
			}
			if s := strings.TrimSpace(fragment); s != "" {
				parts = append(parts, s)
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("azure: %w", ctx.Err())
		}
	}

	out := make(chan []byte, 16)
	if len(parts) == 0 {
		close(out)
		return out, nil
	}

	ssml := SSML(p.language, voice, strings.Join(parts, " "))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/cognitiveservices/v1", strings.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("azure: create request: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.key)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", p.outputFormat)
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure: http request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("azure: synthesis returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	go func() {
		defer close(out)
		defer resp.Body.Close()
		for {
			buf := make([]byte, chunkSize)
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				select {
				case out <- buf[:n]:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && ctx.Err() == nil {
					slog.Warn("azure: reading synthesis stream failed", "voice", voice.ID, "err", err)
				}
				return
			}
		}
	}()
	return out, nil
}

// voiceEntry is one element of GET /cognitiveservices/voices/list.
type voiceEntry struct {
	ShortName   string `json:"ShortName"`
	DisplayName string `json:"DisplayName"`
	LocalName   string `json:"LocalName"`
	Gender      string `json:"Gender"`
	Locale      string `json:"Locale"`
	VoiceType   string `json:"VoiceType"`
}

// ListVoices returns the voices available in the configured region.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/cognitiveservices/voices/list", nil)
	if err != nil {
		return nil, fmt.Errorf("azure: list voices: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", p.key)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("azure: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("azure: list voices: unexpected status %d", resp.StatusCode)
	}

	var entries []voiceEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("azure: list voices decode: %w", err)
	}
	profiles := make([]tts.VoiceProfile, 0, len(entries))
	for _, e := range entries {
		meta := map[string]string{}
		for k, v := range map[string]string{"gender": e.Gender, "locale": e.Locale, "voice_type": e.VoiceType, "local_name": e.LocalName} {
			if v != "" {
				meta[k] = v
			}
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       e.ShortName,
			Name:     e.DisplayName,
			Provider: "azure",
			Metadata: meta,
		})
	}
	return profiles, nil
}
