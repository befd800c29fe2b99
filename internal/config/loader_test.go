package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/emmy/internal/config"
)

func TestValidate_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"invalid log level", "server:\n  log_level: verbose\n", "server.log_level"},
		{"invalid model", "whisper:\n  model: huge\n", "whisper.model"},
		{"invalid device", "whisper:\n  device: tpu\n", "whisper.device"},
		{"negative energy", "capture:\n  energy_threshold: -1\n", "capture.energy_threshold"},
		{"negative pause", "capture:\n  pause_threshold: -1s\n", "capture.pause_threshold"},
		{"negative phrase", "capture:\n  phrase_threshold: -1s\n", "capture.phrase_threshold"},
		{"max shorter than phrase", "capture:\n  max_phrase_duration: 100ms\n", "capture.max_phrase_duration"},
		{"negative timeout", "utterance_timeout: -5s\n", "utterance_timeout"},
		{"temperature range", "assistant:\n  temperature: 3\n", "assistant.temperature"},
		{"penalty range", "assistant:\n  presence_penalty: -3\n", "assistant.presence_penalty"},
		{"max tokens", "assistant:\n  max_tokens: -1\n", "assistant.max_tokens"},
		{"unnamed fallback", "providers:\n  stt:\n    name: whisper\n    fallbacks:\n      - model: x\n", "providers.stt.fallbacks[0].name"},
		{"phonetic threshold", "transcript:\n  phonetic_threshold: 1.5\n", "transcript.phonetic_threshold"},
		{"fuzzy threshold", "transcript:\n  fuzzy_threshold: -0.1\n", "transcript.fuzzy_threshold"},
		{"fallback on vad", "providers:\n  vad:\n    name: energy\n    fallbacks:\n      - name: energy\n", "providers.vad.fallbacks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error should mention %q, got: %v", tt.wantMsg, err)
			}
		})
	}
}

func TestValidate_NonVerboseRequiresLLMAndTTS(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Providers.LLM.Name = ""
	cfg.Providers.TTS.Name = ""

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error without LLM and TTS providers")
	}
	if !strings.Contains(err.Error(), "providers.llm") || !strings.Contains(err.Error(), "providers.tts") {
		t.Errorf("error should mention both providers, got: %v", err)
	}

	cfg.Verbose = true
	if err := config.Validate(cfg); err != nil {
		t.Errorf("verbose mode needs no LLM/TTS, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
whisper:
  model: huge
  device: tpu
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"server.log_level", "whisper.model", "whisper.device"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"stt", "llm", "tts", "vad", "audio", "output"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
	// Every default provider must be a known one.
	cfg := config.Default()
	for kind, name := range map[string]string{
		"stt": cfg.Providers.STT.Name, "llm": cfg.Providers.LLM.Name, "tts": cfg.Providers.TTS.Name,
		"vad": cfg.Providers.VAD.Name, "audio": cfg.Providers.Audio.Name, "output": cfg.Providers.Output.Name,
	} {
		found := false
		for _, known := range config.ValidProviderNames[kind] {
			if known == name {
				found = true
			}
		}
		if !found {
			t.Errorf("default %s provider %q is not in ValidProviderNames", kind, name)
		}
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "emmy.yaml")
	if err := os.WriteFile(path, []byte("verbose: true\nwhisper:\n  model: tiny\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Verbose || cfg.Whisper.Model != config.ModelTiny {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadFromReader_ExplicitZeros(t *testing.T) {
	t.Parallel()
	yaml := `
capture:
  energy_threshold: 0
  phrase_threshold: 0s
  non_speaking_duration: 0s
assistant:
  temperature: 0
  frequency_penalty: 0
  presence_penalty: 0
  stop_sequence: ""
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	c := cfg.Capture
	if c.EnergyThreshold != 0 || c.PhraseThreshold != 0 || c.NonSpeakingDuration != 0 {
		t.Errorf("explicit capture zeros replaced by defaults: %+v", c)
	}
	a := cfg.Assistant
	if a.Temperature != 0 || a.FrequencyPenalty != 0 || a.PresencePenalty != 0 {
		t.Errorf("explicit sampling zeros replaced by defaults: %+v", a)
	}
	if a.StopSequence != "" {
		t.Errorf("StopSequence = %q, want explicit empty", a.StopSequence)
	}
	// Keys that were not mentioned keep their defaults.
	if c.PauseThreshold != config.DefaultPauseThreshold || a.MaxTokens != config.DefaultMaxTokens {
		t.Errorf("unmentioned keys lost their defaults: %+v %+v", c, a)
	}
	if a.StartSequence != config.DefaultStartSequence || a.Username != config.DefaultUsername {
		t.Errorf("unmentioned strings lost their defaults: %+v", a)
	}
}

func TestLoadFromReader_ProviderModelDefault(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("providers:\n  llm:\n    name: ollama\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.LLM.Model != "" {
		t.Errorf("ollama inherited the openai model %q", cfg.Providers.LLM.Model)
	}
}
