package resilience

import (
	"context"

	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across several STT
// backends. Payloads are immutable values (a waveform or a clip path), so the
// same payload is handed to each backend in turn.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the first healthy backend that succeeds.
func (f *STTFallback) Transcribe(ctx context.Context, payload audio.Payload, opts stt.Options) (*stt.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p stt.Provider) (*stt.Result, error) {
		return p.Transcribe(ctx, payload, opts)
	})
}
