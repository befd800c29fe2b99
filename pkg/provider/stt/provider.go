// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider transcribes one complete utterance per call. The audio arrives
// as an [audio.Payload], either an in-memory waveform or a WAV clip on disk,
// and the provider picks whichever suits its transport (the native whisper
// binding wants samples, HTTP backends want a file upload).
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/emmy/pkg/audio"
)

// Options carries per-call recognition hints.
type Options struct {
	// Language is an ISO-639-1 code ("en") forcing the recognition language.
	// Empty lets the model detect the language.
	Language string
}

// Provider is the abstraction over any batch transcription backend.
type Provider interface {
	// Transcribe runs inference on a single utterance and returns the
	// recognised text with whatever structure the backend reports. An empty
	// Text is a valid result (the utterance contained no recognisable speech).
	//
	// Transcribe must not delete or modify the payload's backing file.
	Transcribe(ctx context.Context, payload audio.Payload, opts Options) (*Result, error)
}
