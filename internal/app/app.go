// Package app wires the Emmy subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the pipeline and the
// observability listener from the config and the already constructed
// providers, Run executes the voice loop, and Shutdown tears everything down
// in order.
//
// For testing, pass mock providers and inject the output writer and metrics
// via functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/emmy/internal/config"
	"github.com/MrWong99/emmy/internal/health"
	"github.com/MrWong99/emmy/internal/observe"
	"github.com/MrWong99/emmy/internal/pipeline"
	"github.com/MrWong99/emmy/internal/transcript"
	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/provider/llm"
	"github.com/MrWong99/emmy/pkg/provider/stt"
	"github.com/MrWong99/emmy/pkg/provider/tts"
	"github.com/MrWong99/emmy/pkg/provider/vad"
)

// Providers holds one interface value per collaborator slot. Nil means the
// collaborator is not configured. Populated by main.go via the config
// registry.
type Providers struct {
	STT    stt.Provider
	LLM    llm.Provider
	TTS    tts.Provider
	VAD    vad.Engine
	Source audio.Source
	Output audio.Player

	// Names are the configured provider names, used as metric labels.
	Names pipeline.ProviderNames

	// Closers release provider resources (loaded models, audio devices).
	// They run during Shutdown after the source has been closed.
	Closers []func() error
}

// App owns all subsystem lifetimes and runs the Emmy voice loop.
type App struct {
	cfg       *config.Config
	providers *Providers

	out            io.Writer
	metrics        *observe.Metrics
	metricsHandler http.Handler

	pipeline *pipeline.Pipeline
	capture  health.Flag
	handler  http.Handler
	server   *http.Server
	tempDir  string

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithOutput sets where result lines are printed. Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler served on /metrics. Default: the
// Prometheus default registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and the constructed providers. cfg must have
// been validated. Nothing is started until [App.Run].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:            cfg,
		providers:      providers,
		out:            os.Stdout,
		metricsHandler: promhttp.Handler(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Clip directory ────────────────────────────────────────────────
	if cfg.Capture.SaveFile {
		dir, err := os.MkdirTemp(cfg.Capture.TempDir, "emmy-")
		if err != nil {
			return nil, fmt.Errorf("app: create temp dir: %w", err)
		}
		a.tempDir = dir
		slog.Info("saving utterances as clips", "dir", dir)
	}

	// ── 2. Pipeline ──────────────────────────────────────────────────────
	pipeOpts := []pipeline.Option{
		pipeline.WithOutput(a.out),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithCaptureFlag(&a.capture),
	}
	if c := newCorrector(cfg.Transcript); c != nil {
		pipeOpts = append(pipeOpts, pipeline.WithCorrector(c))
	}
	p, err := pipeline.New(PipelineConfig(cfg, a.tempDir), pipeline.Collaborators{
		Source: providers.Source,
		VAD:    providers.VAD,
		STT:    providers.STT,
		LLM:    providers.LLM,
		TTS:    providers.TTS,
		Player: providers.Output,
		Names:  providers.Names,
	}, pipeOpts...)
	if err != nil {
		a.removeTempDir()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.pipeline = p

	// ── 3. Observability listener ────────────────────────────────────────
	a.handler = a.buildHandler()
	if addr := cfg.Server.ListenAddr; addr != "" {
		a.server = &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	// ── 4. Shutdown order ────────────────────────────────────────────────
	if providers.Source != nil {
		a.closers = append(a.closers, providers.Source.Close)
	}
	a.closers = append(a.closers, providers.Closers...)
	if a.tempDir != "" {
		a.closers = append(a.closers, func() error { return os.RemoveAll(a.tempDir) })
	}

	return a, nil
}

// PipelineConfig converts the loaded configuration into the immutable
// pipeline configuration. tempDir is where clips are written when
// save_file is enabled.
func PipelineConfig(cfg *config.Config, tempDir string) pipeline.Config {
	c := cfg.Capture
	a := cfg.Assistant
	name := cfg.Voice.Name
	if name == "" {
		name = cfg.Voice.VoiceID
	}
	return pipeline.Config{
		Format: audio.Format{SampleRate: c.SampleRate, Channels: 1},
		VAD: vad.Config{
			EnergyThreshold: c.EnergyThreshold,
			PauseThreshold:  c.PauseThreshold,
			DynamicEnergy:   c.DynamicEnergy,
		},
		PhraseThreshold:     c.PhraseThreshold,
		NonSpeakingDuration: c.NonSpeakingDuration,
		MaxPhraseDuration:   c.MaxPhraseDuration,
		SaveFile:            c.SaveFile,
		TempDir:             tempDir,
		English:             cfg.Whisper.English,
		Verbose:             cfg.Verbose,
		Assistant: pipeline.Assistant{
			Prompt:           a.Prompt,
			Username:         a.Username,
			StartSequence:    a.StartSequence,
			StopSequence:     a.StopSequence,
			Temperature:      a.Temperature,
			FrequencyPenalty: a.FrequencyPenalty,
			PresencePenalty:  a.PresencePenalty,
			MaxTokens:        a.MaxTokens,
		},
		Voice: tts.VoiceProfile{
			ID:       cfg.Voice.VoiceID,
			Name:     name,
			Provider: cfg.Providers.TTS.Name,
			Pitch:    cfg.Voice.Pitch,
			Rate:     cfg.Voice.Rate,
		},
		OutputFormat: audio.Format{
			SampleRate: cfg.Providers.TTS.OptionInt("sample_rate", 16000),
			Channels:   1,
		},
		UtteranceTimeout: cfg.UtteranceTimeout,
	}
}

// newCorrector returns a vocabulary corrector, or nil when no vocabulary is
// configured.
func newCorrector(cfg config.TranscriptConfig) *transcript.Corrector {
	if len(cfg.Vocabulary) == 0 {
		return nil
	}
	var opts []transcript.Option
	if cfg.PhoneticThreshold > 0 {
		opts = append(opts, transcript.WithPhoneticThreshold(cfg.PhoneticThreshold))
	}
	if cfg.FuzzyThreshold > 0 {
		opts = append(opts, transcript.WithFuzzyThreshold(cfg.FuzzyThreshold))
	}
	slog.Info("transcript correction enabled", "terms", len(cfg.Vocabulary))
	return transcript.NewCorrector(cfg.Vocabulary, opts...)
}

// buildHandler assembles /metrics, /healthz and /readyz behind the observe
// middleware.
func (a *App) buildHandler() http.Handler {
	checkers := []health.Checker{a.capture.Checker("capture")}
	for _, c := range []struct {
		name string
		ok   bool
	}{
		{"stt", a.providers.STT != nil},
		{"llm", a.providers.LLM != nil || a.cfg.Verbose},
		{"tts", a.providers.TTS != nil || a.cfg.Verbose},
	} {
		checkers = append(checkers, health.Checker{Name: c.name, Check: func(context.Context) error {
			if !c.ok {
				return errors.New("not configured")
			}
			return nil
		}})
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.metricsHandler)
	health.New(checkers...).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// Handler returns the observability HTTP handler. It is served on
// server.listen_addr when configured.
func (a *App) Handler() http.Handler {
	return a.handler
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the observability listener (if configured) and the voice loop,
// and blocks until the loop has finished: ctx was cancelled, the source was
// exhausted, or the capture device failed. A device failure is returned.
func (a *App) Run(ctx context.Context) error {
	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
		slog.Info("observability listener started", "addr", ln.Addr().String())
		go func() {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("observability listener stopped", "err", err)
			}
		}()
	}

	if err := a.pipeline.Run(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the listener and releases the source, the providers and the
// clip directory. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("listener shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) removeTempDir() {
	if a.tempDir == "" {
		return
	}
	if err := os.RemoveAll(a.tempDir); err != nil {
		slog.Warn("remove temp dir", "dir", a.tempDir, "err", err)
	}
}
