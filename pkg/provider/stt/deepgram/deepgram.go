// Package deepgram provides an STT provider backed by the Deepgram live
// transcription WebSocket API.
//
// Each Transcribe call opens a session, streams the utterance as linear16
// PCM, asks Deepgram to flush with a CloseStream message and joins the final
// results it sends back before closing the socket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/provider/stt"
)

const (
	defaultEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "en"

	// sendChunk is the number of PCM bytes per binary message (~250 ms at
	// 16 kHz).
	sendChunk = 8000
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the language used when a call does not force one
// (e.g., "en", "de", "multi").
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the WebSocket URL of the listen API.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements stt.Provider against Deepgram.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams the payload to Deepgram and returns the final
// transcript. The language is opts.Language when set, the provider default
// otherwise.
func (p *Provider) Transcribe(ctx context.Context, payload audio.Payload, opts stt.Options) (*stt.Result, error) {
	wf, err := audio.LoadWaveform(payload)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	wsURL, err := p.buildURL(lang, wf.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	res := &stt.Result{Language: lang, Duration: wf.Duration()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return send(gctx, conn, audio.Float32ToPCM(wf.Samples)) })
	g.Go(func() error { return receive(gctx, conn, res) })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	res.Text = stt.JoinSegments(res.Segments)
	return res, nil
}

// buildURL returns the listen URL for one utterance.
func (p *Provider) buildURL(language string, sampleRate int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// send streams pcm and then asks Deepgram to flush and close.
func send(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for len(pcm) > 0 {
		n := min(sendChunk, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[:n]); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		pcm = pcm[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("send CloseStream: %w", err)
	}
	return nil
}

// response is a message from the listen API. Only Results and Metadata are
// used.
type response struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// receive collects final results into res until Deepgram closes the socket.
func receive(ctx context.Context, conn *websocket.Conn, res *stt.Result) error {
	for {
		_, msg, err := conn.Read(ctx)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var r response
		if err := json.Unmarshal(msg, &r); err != nil {
			continue
		}
		switch r.Type {
		case "Results":
			if !r.IsFinal || len(r.Channel.Alternatives) == 0 {
				continue
			}
			text := strings.TrimSpace(r.Channel.Alternatives[0].Transcript)
			if text == "" {
				continue
			}
			res.Segments = append(res.Segments, stt.Segment{
				Text:  text,
				Start: seconds(r.Start),
				End:   seconds(r.Start + r.Duration),
			})
		case "Metadata":
			if r.Duration > 0 {
				res.Duration = seconds(r.Duration)
			}
		}
	}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
