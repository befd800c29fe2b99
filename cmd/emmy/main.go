// Command emmy is a voice assistant: it listens on the microphone, transcribes
// what was said, asks a completion model for a reply and speaks it back.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/emmy/internal/app"
	"github.com/MrWong99/emmy/internal/config"
	"github.com/MrWong99/emmy/internal/observe"
	"github.com/MrWong99/emmy/internal/resilience"
	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/audio/mic"
	"github.com/MrWong99/emmy/pkg/audio/pcmstream"
	"github.com/MrWong99/emmy/pkg/audio/speaker"
	"github.com/MrWong99/emmy/pkg/provider/llm"
	"github.com/MrWong99/emmy/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/emmy/pkg/provider/llm/openai"
	"github.com/MrWong99/emmy/pkg/provider/stt"
	"github.com/MrWong99/emmy/pkg/provider/stt/deepgram"
	sttopenai "github.com/MrWong99/emmy/pkg/provider/stt/openai"
	"github.com/MrWong99/emmy/pkg/provider/stt/whisper"
	"github.com/MrWong99/emmy/pkg/provider/tts"
	"github.com/MrWong99/emmy/pkg/provider/tts/azure"
	"github.com/MrWong99/emmy/pkg/provider/tts/coqui"
	"github.com/MrWong99/emmy/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/emmy/pkg/provider/vad"
	"github.com/MrWong99/emmy/pkg/provider/vad/energy"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// httpTimeout bounds provider HTTP requests. Streaming synthesis only uses it
// for connection setup and response headers.
const httpTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "emmy.yaml", "path to the YAML configuration file")
	model := flag.String("model", string(config.ModelBase), "whisper model size: tiny, base, small, medium or large")
	device := flag.String("device", string(config.DeviceCPU), "device for local whisper inference: cpu or cuda")
	english := flag.Bool("english", false, "use the English-only model and force English transcription")
	verbose := flag.Bool("verbose", false, "print raw transcription results instead of talking back")
	energyThreshold := flag.Int("energy", config.DefaultEnergyThreshold, "energy level above which audio counts as speech")
	dynamicEnergy := flag.Bool("dynamic_energy", false, "adapt the energy threshold to ambient noise")
	pause := flag.Float64("pause", config.DefaultPauseThreshold.Seconds(), "seconds of silence that end an utterance")
	saveFile := flag.Bool("save_file", false, "write each utterance to a temporary WAV file before transcribing it")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emmy: %v\n", err)
		return 1
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "model":
			cfg.Whisper.Model = config.ModelSize(*model)
		case "device":
			cfg.Whisper.Device = config.Device(*device)
		case "english":
			cfg.Whisper.English = *english
		case "verbose":
			cfg.Verbose = *verbose
		case "energy":
			cfg.Capture.EnergyThreshold = float64(*energyThreshold)
		case "dynamic_energy":
			cfg.Capture.DynamicEnergy = *dynamicEnergy
		case "pause":
			cfg.Capture.PauseThreshold = time.Duration(*pause * float64(time.Second))
		case "save_file":
			cfg.Capture.SaveFile = *saveFile
		}
	})
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "emmy: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("emmy starting",
		"version", version,
		"config", *configPath,
		"model", cfg.Whisper.ModelName(),
		"device", cfg.Whisper.Device,
		"verbose", cfg.Verbose,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "emmy", ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(tel.MeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithMetricsHandler(tel.MetricsHandler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		closeAll(providers)
		return 1
	}

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// loadConfig reads path. A missing file at the default path yields the
// default configuration so that emmy runs with flags alone.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	if explicit {
		return nil, fmt.Errorf("config file %q not found", path)
	}
	return config.Default(), nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyLLMProviders are the completion backends served through any-llm-go.
var anyLLMProviders = []string{
	"anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Factories that depend on global settings (model size, device, sample rate)
// read them from cfg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	client := observe.HTTPClient(httpTimeout)

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		model := entry.Model
		if model == "" {
			model = cfg.Whisper.ModelName()
		}
		return whisper.New(entry.BaseURL, whisper.WithModel(model), whisper.WithHTTPClient(client))
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.OptionString("model_path",
			filepath.Join("models", "ggml-"+cfg.Whisper.ModelName()+".bin"))
		return whisper.NewNative(modelPath, whisper.WithDevice(string(cfg.Whisper.Device)))
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []sttopenai.Option{sttopenai.WithTimeout(httpTimeout)}
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []llmopenai.Option{llmopenai.WithTimeout(httpTimeout)}
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization", ""); org != "" {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		if entry.OptionString("api", "completions") == "chat" {
			opts = append(opts, llmopenai.WithChat())
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp and llamafile share
	// the same pattern: optional APIKey + optional BaseURL. ollama is a local
	// server and ignores the key.
	for _, providerName := range anyLLMProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" && providerName != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("azure", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []azure.Option{azure.WithHTTPClient(observe.StreamingHTTPClient(httpTimeout))}
		if entry.BaseURL != "" {
			opts = append(opts, azure.WithEndpoint(entry.BaseURL))
		}
		if f := entry.OptionString("output_format", ""); f != "" {
			opts = append(opts, azure.WithOutputFormat(f))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, azure.WithLanguage(lang))
		}
		return azure.New(entry.APIKey, entry.OptionString("region", ""), opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []elevenlabs.Option{elevenlabs.WithHTTPClient(client)}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f := entry.OptionString("output_format", ""); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{
			coqui.WithHTTPClient(client),
			coqui.WithAPIMode(coqui.APIMode(entry.OptionString("api_mode", string(coqui.APIModeStandard)))),
			coqui.WithOutputSampleRate(cfg.Providers.TTS.OptionInt("sample_rate", 16000)),
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		serverURL := entry.BaseURL
		if serverURL == "" {
			serverURL = "http://localhost:5002"
		}
		return coqui.New(serverURL, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})

	// ── Audio in ──────────────────────────────────────────────────────────────

	reg.RegisterAudio("microphone", func(entry config.ProviderEntry) (audio.Source, error) {
		opts := []mic.Option{mic.WithSampleRate(cfg.Capture.SampleRate)}
		if n := entry.OptionInt("frames_per_buffer", 0); n > 0 {
			opts = append(opts, mic.WithFramesPerBuffer(n))
		}
		return mic.New(opts...)
	})

	reg.RegisterAudio("stdin", func(entry config.ProviderEntry) (audio.Source, error) {
		return pcmstream.New(os.Stdin,
			pcmstream.WithFormat(audio.Format{SampleRate: cfg.Capture.SampleRate, Channels: 1}),
			pcmstream.WithChunk(time.Duration(entry.OptionInt("chunk_ms", 100))*time.Millisecond),
		)
	})

	// ── Audio out ─────────────────────────────────────────────────────────────

	reg.RegisterOutput("speaker", func(entry config.ProviderEntry) (audio.Player, error) {
		opts := []speaker.Option{
			speaker.WithDeviceRate(entry.OptionInt("sample_rate", cfg.Providers.TTS.OptionInt("sample_rate", 16000))),
		}
		if ms := entry.OptionInt("latency_ms", 0); ms > 0 {
			opts = append(opts, speaker.WithLatency(time.Duration(ms)*time.Millisecond))
		}
		return speaker.New(opts...), nil
	})

	reg.RegisterOutput("discard", func(config.ProviderEntry) (audio.Player, error) {
		return audio.Discard{}, nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// fallbackConfig is the circuit breaker policy shared by all fallback groups.
var fallbackConfig = resilience.FallbackConfig{
	CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: 30 * time.Second},
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// STT, LLM and TTS entries with fallbacks are wrapped in a failover group.
func buildProviders(cfg *config.Config, reg *config.Registry) (ps *app.Providers, err error) {
	ps = &app.Providers{}
	defer func() {
		if err != nil {
			closeAll(ps)
		}
	}()
	p := cfg.Providers
	ps.Names.STT, ps.Names.LLM, ps.Names.TTS = p.STT.Name, p.LLM.Name, p.TTS.Name

	// ── STT ───────────────────────────────────────────────────────────────────
	sttp, err := create(ps, "stt", p.STT, reg.CreateSTT)
	if err != nil {
		return ps, err
	}
	if len(p.STT.Fallbacks) > 0 {
		group := resilience.NewSTTFallback(sttp, p.STT.Name, fallbackConfig)
		for _, fb := range p.STT.Fallbacks {
			alt, err := create(ps, "stt", fb, reg.CreateSTT)
			if err != nil {
				return ps, err
			}
			group.AddFallback(fb.Name, alt)
		}
		sttp = group
	}
	ps.STT = sttp

	// ── LLM and TTS ───────────────────────────────────────────────────────────
	// Verbose mode prints raw transcripts and never talks back.
	if !cfg.Verbose {
		llmp, err := create(ps, "llm", p.LLM, reg.CreateLLM)
		if err != nil {
			return ps, err
		}
		if len(p.LLM.Fallbacks) > 0 {
			group := resilience.NewLLMFallback(llmp, p.LLM.Name, fallbackConfig)
			for _, fb := range p.LLM.Fallbacks {
				alt, err := create(ps, "llm", fb, reg.CreateLLM)
				if err != nil {
					return ps, err
				}
				group.AddFallback(fb.Name, alt)
			}
			llmp = group
		}
		ps.LLM = llmp

		ttsp, err := create(ps, "tts", p.TTS, reg.CreateTTS)
		if err != nil {
			return ps, err
		}
		if len(p.TTS.Fallbacks) > 0 {
			// Voice catalogues differ between backends, so a fallback entry may
			// name its own voice with options.voice_id.
			group := resilience.NewTTSFallback(ttsp, p.TTS.Name, fallbackConfig)
			for _, fb := range p.TTS.Fallbacks {
				alt, err := create(ps, "tts", fb, reg.CreateTTS)
				if err != nil {
					return ps, err
				}
				group.AddFallback(fb.Name, tts.PinVoice(alt, fb.OptionString("voice_id", "")))
			}
			ttsp = group
		}
		ps.TTS = ttsp

		if ps.Output, err = create(ps, "output", p.Output, reg.CreateOutput); err != nil {
			return ps, err
		}
	}

	// ── VAD and audio in ──────────────────────────────────────────────────────
	if ps.VAD, err = create(ps, "vad", p.VAD, reg.CreateVAD); err != nil {
		return ps, err
	}
	src, err := reg.CreateAudio(p.Audio)
	if err != nil {
		return ps, fmt.Errorf("create audio provider %q: %w", p.Audio.Name, err)
	}
	slog.Info("provider created", "kind", "audio", "name", p.Audio.Name)
	ps.Source = src

	return ps, nil
}

// create builds one provider and registers its Close method, if any, with ps.
func create[T any](ps *app.Providers, kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) (T, error) {
	v, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	if c, ok := any(v).(io.Closer); ok {
		ps.Closers = append(ps.Closers, c.Close)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return v, nil
}

// closeAll releases everything buildProviders created. Used when startup
// fails before the App takes ownership.
func closeAll(ps *app.Providers) {
	if ps.Source != nil {
		if err := ps.Source.Close(); err != nil {
			slog.Warn("close audio source", "err", err)
		}
	}
	for _, c := range ps.Closers {
		if err := c(); err != nil {
			slog.Warn("close provider", "err", err)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Emmy — startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Whisper.ModelName())
	if cfg.Verbose {
		printProvider("LLM", "(verbose)", "")
		printProvider("TTS", "(verbose)", "")
	} else {
		printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
		printProvider("TTS", cfg.Providers.TTS.Name, cfg.Voice.VoiceID)
	}
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Audio in", cfg.Providers.Audio.Name, "")
	printProvider("Audio out", cfg.Providers.Output.Name, "")
	fmt.Printf("║  Energy          : %-19.0f ║\n", cfg.Capture.EnergyThreshold)
	fmt.Printf("║  Pause           : %-19s ║\n", cfg.Capture.PauseThreshold)
	if cfg.Capture.SaveFile {
		fmt.Printf("║  Clips           : %-19s ║\n", "saved to temp dir")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value, 19))
}

// truncate shortens s to at most width runes, marking the cut with an
// ellipsis.
func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
