// Package config provides the configuration schema, loader, and provider registry
// for the Emmy voice assistant.
package config

import (
	"fmt"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ModelSize selects the whisper model size.
type ModelSize string

const (
	ModelTiny   ModelSize = "tiny"
	ModelBase   ModelSize = "base"
	ModelSmall  ModelSize = "small"
	ModelMedium ModelSize = "medium"
	ModelLarge  ModelSize = "large"
)

// IsValid reports whether m is a recognised model size.
func (m ModelSize) IsValid() bool {
	switch m {
	case ModelTiny, ModelBase, ModelSmall, ModelMedium, ModelLarge:
		return true
	}
	return false
}

// Device selects the compute device for local inference.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// IsValid reports whether d is a recognised device.
func (d Device) IsValid() bool {
	return d == DeviceCPU || d == DeviceCUDA
}

// WhisperModelName returns the model name for size. English-only models carry
// a ".en" suffix; there is no English-only large model.
func WhisperModelName(size ModelSize, english bool) string {
	if english && size != ModelLarge {
		return string(size) + ".en"
	}
	return string(size)
}

// Config is the root configuration structure for Emmy.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Whisper   WhisperConfig   `yaml:"whisper"`
	Capture   CaptureConfig   `yaml:"capture"`
	Assistant AssistantConfig `yaml:"assistant"`
	Voice     VoiceConfig     `yaml:"voice"`
	Providers ProvidersConfig `yaml:"providers"`

	// Transcript configures vocabulary correction of transcripts.
	Transcript TranscriptConfig `yaml:"transcript"`

	// Verbose prints raw transcription results instead of talking back.
	Verbose bool `yaml:"verbose"`

	// UtteranceTimeout bounds the processing of a single utterance
	// (transcription, completion and synthesis). Zero means no bound.
	UtteranceTimeout time.Duration `yaml:"utterance_timeout"`
}

// ServerConfig holds the optional observability listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9090"). Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// WhisperConfig selects the speech-to-text model.
type WhisperConfig struct {
	// Model is the model size: tiny, base, small, medium or large.
	Model ModelSize `yaml:"model"`

	// Device is the compute device for local inference: cpu or cuda.
	Device Device `yaml:"device"`

	// English selects the English-only model variant and forces English
	// transcription.
	English bool `yaml:"english"`
}

// ModelName returns the effective whisper model name.
func (w WhisperConfig) ModelName() string {
	return WhisperModelName(w.Model, w.English)
}

// CaptureConfig controls utterance segmentation.
type CaptureConfig struct {
	// SampleRate is the pipeline sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// EnergyThreshold is the RMS level above which audio counts as speech.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// DynamicEnergy adapts the threshold to ambient noise.
	DynamicEnergy bool `yaml:"dynamic_energy"`

	// PauseThreshold is the silence that ends an utterance.
	PauseThreshold time.Duration `yaml:"pause_threshold"`

	// PhraseThreshold is the minimum amount of speech for an utterance to be kept.
	PhraseThreshold time.Duration `yaml:"phrase_threshold"`

	// NonSpeakingDuration is the audio kept before speech onset.
	NonSpeakingDuration time.Duration `yaml:"non_speaking_duration"`

	// MaxPhraseDuration forces an utterance to end. Zero means unlimited.
	MaxPhraseDuration time.Duration `yaml:"max_phrase_duration"`

	// SaveFile persists each utterance as a WAV clip until it is transcribed.
	SaveFile bool `yaml:"save_file"`

	// TempDir is the parent directory for clip files. Empty uses the OS default.
	TempDir string `yaml:"temp_dir"`
}

// AssistantConfig holds the completion prompt and sampling parameters.
type AssistantConfig struct {
	// Prompt is the fixed preamble placed before every transcript.
	Prompt string `yaml:"prompt"`

	// Username is the speaker label placed before the transcript.
	Username string `yaml:"username"`

	// StartSequence is appended after the transcript to cue the reply.
	StartSequence string `yaml:"start_sequence"`

	// StopSequence ends the reply; everything from it onwards is discarded.
	// An explicit empty value keeps the whole reply.
	StopSequence string `yaml:"stop_sequence"`

	Temperature      float64 `yaml:"temperature"`
	FrequencyPenalty float64 `yaml:"frequency_penalty"`
	PresencePenalty  float64 `yaml:"presence_penalty"`
	MaxTokens        int     `yaml:"max_tokens"`
}

// VoiceConfig specifies the synthesis voice.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier
	// (e.g., "en-US-JennyNeural").
	VoiceID string `yaml:"voice_id"`

	// Name is a human-readable label used in logs.
	Name string `yaml:"name"`

	// Pitch is an SSML prosody pitch value (e.g., "+5%", "low").
	Pitch string `yaml:"pitch"`

	// Rate is an SSML prosody rate value (e.g., "1.1", "+10%", "fast").
	Rate string `yaml:"rate"`
}

// TranscriptConfig lists terms the recogniser tends to mishear. Words in a
// transcript that sound like a term are replaced by its configured spelling
// before the transcript is shown and completed.
type TranscriptConfig struct {
	// Vocabulary holds the known terms (e.g., "Emmy"). Empty disables
	// correction.
	Vocabulary []string `yaml:"vocabulary"`

	// PhoneticThreshold is the minimum similarity for a term that sounds
	// alike. Zero uses the default of 0.70.
	PhoneticThreshold float64 `yaml:"phonetic_threshold"`

	// FuzzyThreshold is the minimum similarity for a term that only looks
	// alike. Zero uses the default of 0.85.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

// ProvidersConfig declares which provider implementation to use for each
// collaborator. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
	VAD ProviderEntry `yaml:"vad"`

	// Audio selects the acoustic source (e.g., "microphone", "stdin").
	Audio ProviderEntry `yaml:"audio"`

	// Output selects the playback device (e.g., "speaker", "discard").
	Output ProviderEntry `yaml:"output"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "azure").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails. Supported for
	// stt, llm and tts.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// OptionString returns Options[key] as a string, or def if absent.
func (e ProviderEntry) OptionString(key, def string) string {
	v, ok := e.Options[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// OptionInt returns Options[key] as an int, or def if absent or not numeric.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}
