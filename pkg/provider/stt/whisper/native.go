// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/provider/stt"
)

// whisperSampleRate is the only input rate whisper.cpp accepts.
const whisperSampleRate = 16000

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using the whisper.cpp Go bindings.
// The model is loaded once; every Transcribe call gets a fresh context, so
// calls may run concurrently.
type NativeProvider struct {
	model  whisperlib.Model
	device string

	closeOnce sync.Once
	closeErr  error
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithDevice records the requested compute device ("cpu" or "cuda"). GPU
// offload is decided when libwhisper is built; a mismatch is only logged.
func WithDevice(device string) NativeOption {
	return func(p *NativeProvider) { p.device = device }
}

// NewNative loads the ggml model at modelPath (e.g. models/ggml-base.en.bin).
// The caller must call Close when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{model: model, device: "cpu"}
	for _, o := range opts {
		o(p)
	}
	slog.Info("whisper model loaded",
		"path", modelPath,
		"multilingual", model.IsMultilingual(),
		"device", p.device,
	)
	return p, nil
}

// Close releases the whisper model. It is idempotent.
func (p *NativeProvider) Close() error {
	p.closeOnce.Do(func() {
		if p.model != nil {
			p.closeErr = p.model.Close()
		}
	})
	return p.closeErr
}

// Transcribe runs whisper.cpp on the payload's samples. Inference itself
// cannot be interrupted; ctx is checked before it starts.
func (p *NativeProvider) Transcribe(ctx context.Context, payload audio.Payload, opts stt.Options) (*stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	wf, err := audio.LoadWaveform(payload)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	samples := wf.Samples
	if wf.SampleRate != whisperSampleRate {
		pcm := audio.ResampleMono16(audio.Float32ToPCM(samples), wf.SampleRate, whisperSampleRate)
		samples = audio.PCMToFloat32(pcm, 1)
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = autoLanguage
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using model default", "language", lang, "err", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	res := &stt.Result{Language: opts.Language, Duration: wf.Duration()}
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		res.Segments = append(res.Segments, stt.Segment{
			Text:  strings.TrimSpace(seg.Text),
			Start: seg.Start,
			End:   seg.End,
		})
	}
	res.Text = stt.JoinSegments(res.Segments)
	if res.Language == "" {
		res.Language = wctx.DetectedLanguage()
	}
	return res, nil
}
