package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/emmy/pkg/provider/llm"
	llmmock "github.com/MrWong99/emmy/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Text: " Hi there."}}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Text: "fallback"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	req := llm.CompletionRequest{Prompt: "Human: hi\nEmmy:", MaxTokens: 28}
	resp, err := fb.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != " Hi there." {
		t.Errorf("Text = %q", resp.Text)
	}
	if calls := primary.Calls(); len(calls) != 1 || calls[0].Req != req {
		t.Errorf("primary calls = %+v", calls)
	}
	if len(secondary.Calls()) != 0 {
		t.Error("secondary should not be called")
	}
}

func TestLLMFallback_Complete_Failover(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteErr: errors.New("rate limited")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Text: "fallback"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "fallback" {
		t.Errorf("Text = %q, want fallback", resp.Text)
	}
}

func TestLLMFallback_EmptyCompletionIsNotAFailure(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{}}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Text: "fallback"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "" || len(secondary.Calls()) != 0 {
		t.Errorf("resp = %+v, secondary calls = %d", resp, len(secondary.Calls()))
	}
}
