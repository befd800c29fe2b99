package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/emmy/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across several TTS
// backends.
//
// A text channel can only be consumed once, so SynthesizeStream first reads
// all fragments and then replays them to each backend it tries. Only stream
// setup is covered by failover; once audio flows, mid-stream errors end the
// stream.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// SynthesizeStream buffers the text and starts a stream on the first healthy
// backend that accepts it.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	var fragments []string
	for {
		select {
		case s, ok := <-text:
			if !ok {
				return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) (<-chan []byte, error) {
					return p.SynthesizeStream(ctx, replay(fragments), voice)
				})
			}
			fragments = append(fragments, s)
		case <-ctx.Done():
			return nil, fmt.Errorf("resilience: tts: %w", ctx.Err())
		}
	}
}

// ListVoices returns the voices of the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// replay returns a closed, pre-filled channel holding fragments.
func replay(fragments []string) <-chan string {
	ch := make(chan string, len(fragments))
	for _, s := range fragments {
		ch <- s
	}
	close(ch)
	return ch
}
