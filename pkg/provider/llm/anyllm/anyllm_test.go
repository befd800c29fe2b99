package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/emmy/pkg/provider/llm"
)

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_PromptAsUserMessage(t *testing.T) {
	p := &Provider{model: "llama3.2"}
	got := p.buildParams(llm.CompletionRequest{
		Prompt:      "You are Emmy. Human: hi\nEmmy:",
		Temperature: 1,
		MaxTokens:   28,
	})
	if got.Model != "llama3.2" {
		t.Errorf("Model = %q", got.Model)
	}
	if len(got.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(got.Messages))
	}
	if got.Messages[0].Role != anyllmlib.RoleUser {
		t.Errorf("Role = %q, want user", got.Messages[0].Role)
	}
	if got.Messages[0].ContentString() != "You are Emmy. Human: hi\nEmmy:" {
		t.Errorf("Content = %q", got.Messages[0].ContentString())
	}
	if got.Temperature == nil || *got.Temperature != 1 {
		t.Errorf("Temperature = %v, want 1", got.Temperature)
	}
	if got.MaxTokens == nil || *got.MaxTokens != 28 {
		t.Errorf("MaxTokens = %v, want 28", got.MaxTokens)
	}
}

func TestBuildParams_ZeroTemperatureIsSent(t *testing.T) {
	p := &Provider{model: "m"}
	got := p.buildParams(llm.CompletionRequest{Prompt: "x"})
	if got.Temperature == nil || *got.Temperature != 0 {
		t.Errorf("Temperature = %v, want explicit 0", got.Temperature)
	}
	if got.MaxTokens != nil {
		t.Errorf("MaxTokens = %v, want nil", *got.MaxTokens)
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_EmptyProviderName(t *testing.T) {
	_, err := New("", "gpt-4o")
	if err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	_, err := New("openai", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New("openai", "gpt-4o")
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		provider string
		model    string
		opts     []anyllmlib.Option
	}{
		{"openai", "gpt-4o-mini", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"Anthropic", "claude-3-5-haiku-latest", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"ollama", "llama3.2", nil},
		{"llamacpp", "llama3", nil},
		{"llamafile", "llama3", nil},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := New(tt.provider, tt.model, tt.opts...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.model != tt.model {
				t.Errorf("model = %q, want %q", p.model, tt.model)
			}
		})
	}
}
