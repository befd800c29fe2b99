// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Azure Speech or
// ElevenLabs) and presents a uniform streaming interface. The primary entry
// point is SynthesizeStream, which accepts a channel of text fragments and
// returns a channel of raw 16-bit PCM audio as it becomes available, so
// playback can start before the whole reply has been synthesised.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and returns a
	// channel that emits raw PCM audio byte slices as they are synthesised.
	//
	// The returned audio channel is closed by the implementation when all text has
	// been synthesised or when ctx is cancelled. The caller must drain the audio
	// channel to avoid blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started (bad voice,
	// unreachable service, rejected request). Errors encountered mid-stream are
	// signalled by closing the audio channel early.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// SynthesizeText is a convenience wrapper around SynthesizeStream for a single,
// complete piece of text.
func SynthesizeText(ctx context.Context, p Provider, text string, voice VoiceProfile) (<-chan []byte, error) {
	ch := make(chan string, 1)
	ch <- text
	close(ch)
	return p.SynthesizeStream(ctx, ch, voice)
}

// PinVoice returns a Provider that always synthesises with the voice id,
// keeping the pitch and rate of the requested profile. It lets providers with
// incompatible voice catalogues share one fallback group. An empty id returns
// p unchanged.
func PinVoice(p Provider, id string) Provider {
	if id == "" {
		return p
	}
	return pinnedVoice{Provider: p, id: id}
}

type pinnedVoice struct {
	Provider
	id string
}

func (v pinnedVoice) SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error) {
	voice.ID = v.id
	voice.Name = v.id
	return v.Provider.SynthesizeStream(ctx, text, voice)
}
