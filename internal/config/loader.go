package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":    {"whisper", "whisper-native", "openai", "deepgram"},
	"llm":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":    {"azure", "elevenlabs", "coqui"},
	"vad":    {"energy"},
	"audio":  {"microphone", "stdin"},
	"output": {"speaker", "discard"},
}

// Defaults mirror the behaviour of the original command-line assistant.
const (
	DefaultSampleRate          = 16000
	DefaultEnergyThreshold     = 300
	DefaultPauseThreshold      = 800 * time.Millisecond
	DefaultPhraseThreshold     = 300 * time.Millisecond
	DefaultNonSpeakingDuration = 500 * time.Millisecond
	DefaultTemperature         = 1
	DefaultFrequencyPenalty    = 1
	DefaultPresencePenalty     = 1
	DefaultMaxTokens           = 28
	DefaultUsername            = "Human"
	DefaultStartSequence       = "\nEmmy:"
	DefaultStopSequence        = "\n"
	DefaultPrompt              = "The following is a conversation with an AI assistant called Emmy. Emmy is helpful, creative, clever, and very friendly."
	DefaultCompletionModel     = "gpt-3.5-turbo-instruct"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references from
// the environment, fills defaults and validates the result. An empty document
// yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := Decode(r)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses a YAML config from r on top of the built-in defaults,
// without validating. Keys absent from the document keep their default, so an
// explicit zero (temperature: 0, stop_sequence: "") is honoured. Environment
// references (${VAR} or $VAR) are expanded before parsing so that credentials
// can stay out of the file.
func Decode(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := defaults()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration holding only default values.
func Default() *Config {
	cfg := defaults()
	ApplyDefaults(cfg)
	return cfg
}

// defaults returns the tunables of the original assistant. Provider entries
// are left empty: their defaults depend on the provider name and are filled
// by [ApplyDefaults].
func defaults() *Config {
	return &Config{
		Server:  ServerConfig{LogLevel: LogInfo},
		Whisper: WhisperConfig{Model: ModelBase, Device: DeviceCPU},
		Capture: CaptureConfig{
			SampleRate:          DefaultSampleRate,
			EnergyThreshold:     DefaultEnergyThreshold,
			PauseThreshold:      DefaultPauseThreshold,
			PhraseThreshold:     DefaultPhraseThreshold,
			NonSpeakingDuration: DefaultNonSpeakingDuration,
		},
		Assistant: AssistantConfig{
			Prompt:           DefaultPrompt,
			Username:         DefaultUsername,
			StartSequence:    DefaultStartSequence,
			StopSequence:     DefaultStopSequence,
			Temperature:      DefaultTemperature,
			FrequencyPenalty: DefaultFrequencyPenalty,
			PresencePenalty:  DefaultPresencePenalty,
			MaxTokens:        DefaultMaxTokens,
		},
	}
}

// ApplyDefaults fills the fields of cfg for which the zero value is never a
// usable setting: empty enums, the sample rate and the provider names.
// Tunables where zero is meaningful are defaulted by [Decode] instead.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Whisper.Model == "" {
		cfg.Whisper.Model = ModelBase
	}
	if cfg.Whisper.Device == "" {
		cfg.Whisper.Device = DeviceCPU
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = DefaultSampleRate
	}

	p := &cfg.Providers
	if p.STT.Name == "" {
		p.STT.Name = "whisper-native"
	}
	if p.LLM.Name == "" {
		p.LLM.Name = "openai"
	}
	if p.LLM.Name == "openai" && p.LLM.Model == "" {
		p.LLM.Model = DefaultCompletionModel
	}
	if p.TTS.Name == "" {
		p.TTS.Name = "azure"
	}
	if p.VAD.Name == "" {
		p.VAD.Name = "energy"
	}
	if p.Audio.Name == "" {
		p.Audio.Name = "microphone"
	}
	if p.Output.Name == "" {
		p.Output.Name = "speaker"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Whisper
	if !cfg.Whisper.Model.IsValid() {
		errs = append(errs, fmt.Errorf("whisper.model %q is invalid; valid values: tiny, base, small, medium, large", cfg.Whisper.Model))
	}
	if !cfg.Whisper.Device.IsValid() {
		errs = append(errs, fmt.Errorf("whisper.device %q is invalid; valid values: cpu, cuda", cfg.Whisper.Device))
	}

	// Capture
	c := cfg.Capture
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("capture.energy_threshold must not be negative, got %g", c.EnergyThreshold))
	}
	if c.PauseThreshold <= 0 {
		errs = append(errs, fmt.Errorf("capture.pause_threshold must be positive, got %s", c.PauseThreshold))
	}
	for name, d := range map[string]time.Duration{
		"phrase_threshold":      c.PhraseThreshold,
		"non_speaking_duration": c.NonSpeakingDuration,
		"max_phrase_duration":   c.MaxPhraseDuration,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("capture.%s must not be negative, got %s", name, d))
		}
	}
	if c.MaxPhraseDuration > 0 && c.MaxPhraseDuration < c.PhraseThreshold {
		errs = append(errs, fmt.Errorf("capture.max_phrase_duration %s is shorter than capture.phrase_threshold %s", c.MaxPhraseDuration, c.PhraseThreshold))
	}
	if cfg.UtteranceTimeout < 0 {
		errs = append(errs, fmt.Errorf("utterance_timeout must not be negative, got %s", cfg.UtteranceTimeout))
	}

	// Assistant
	a := cfg.Assistant
	if a.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("assistant.max_tokens must be positive, got %d", a.MaxTokens))
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		errs = append(errs, fmt.Errorf("assistant.temperature %.2f is out of range [0, 2]", a.Temperature))
	}
	if a.FrequencyPenalty < -2 || a.FrequencyPenalty > 2 {
		errs = append(errs, fmt.Errorf("assistant.frequency_penalty %.2f is out of range [-2, 2]", a.FrequencyPenalty))
	}
	if a.PresencePenalty < -2 || a.PresencePenalty > 2 {
		errs = append(errs, fmt.Errorf("assistant.presence_penalty %.2f is out of range [-2, 2]", a.PresencePenalty))
	}

	// Transcript
	for _, th := range []struct {
		name string
		v    float64
	}{
		{"phonetic_threshold", cfg.Transcript.PhoneticThreshold},
		{"fuzzy_threshold", cfg.Transcript.FuzzyThreshold},
	} {
		if th.v < 0 || th.v > 1 {
			errs = append(errs, fmt.Errorf("transcript.%s %.2f is out of range [0, 1]", th.name, th.v))
		}
	}

	// Providers
	for kind, entry := range map[string]ProviderEntry{
		"stt":    cfg.Providers.STT,
		"llm":    cfg.Providers.LLM,
		"tts":    cfg.Providers.TTS,
		"vad":    cfg.Providers.VAD,
		"audio":  cfg.Providers.Audio,
		"output": cfg.Providers.Output,
	} {
		validateProviderName(kind, entry.Name)
		for i, fb := range entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, fb.Name)
		}
		if len(entry.Fallbacks) > 0 && kind != "stt" && kind != "llm" && kind != "tts" {
			errs = append(errs, fmt.Errorf("providers.%s.fallbacks is not supported; only stt, llm and tts accept fallbacks", kind))
		}
	}
	for kind, name := range map[string]string{
		"stt":   cfg.Providers.STT.Name,
		"vad":   cfg.Providers.VAD.Name,
		"audio": cfg.Providers.Audio.Name,
	} {
		if name == "" {
			errs = append(errs, fmt.Errorf("providers.%s.name is required", kind))
		}
	}
	if !cfg.Verbose {
		if cfg.Providers.LLM.Name == "" {
			errs = append(errs, errors.New("providers.llm.name is required unless verbose mode is enabled"))
		}
		if cfg.Providers.TTS.Name == "" {
			errs = append(errs, errors.New("providers.tts.name is required unless verbose mode is enabled"))
		}
		if cfg.Voice.VoiceID == "" && cfg.Providers.TTS.Name != "" {
			slog.Warn("voice.voice_id is empty; synthesis will fail until a voice is configured",
				"tts_provider", cfg.Providers.TTS.Name)
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
