// Package vad defines the Engine interface for voice activity detection.
//
// A VAD engine turns a stream of PCM frames into speech/silence decisions
// and surfaces utterance boundaries as events. Each session keeps its own
// state (the adaptive threshold, the silence counter), so one engine can
// serve several independent streams.
//
// ProcessFrame is synchronous and must not block; it runs inline in the
// capture loop.
package vad

import "time"

// Config holds the parameters of a VAD session.
type Config struct {
	// SampleRate of the PCM passed to ProcessFrame, in Hz. Frames are mono
	// little-endian int16.
	SampleRate int

	// EnergyThreshold is the minimum RMS energy (in int16 sample units) for a
	// frame to count as speech. Typical: 300.
	EnergyThreshold float64

	// PauseThreshold is the length of non-speech audio that ends an
	// utterance. Typical: 800 ms.
	PauseThreshold time.Duration

	// DynamicEnergy recalibrates EnergyThreshold against ambient noise while
	// no utterance is in progress.
	DynamicEnergy bool

	// DynamicDamping is the fraction of the old threshold kept per second of
	// recalibration. Zero selects 0.15.
	DynamicDamping float64

	// DynamicRatio is the multiple of ambient energy the threshold converges
	// to. Zero selects 1.5.
	DynamicRatio float64
}

// SessionHandle is an active VAD session for one audio stream. Reset clears
// the detection state without closing the session.
//
// A SessionHandle must not be shared between goroutines unless the
// implementation documents otherwise.
type SessionHandle interface {
	// ProcessFrame classifies one frame. Frames may be of any length that is
	// a whole number of samples.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears accumulated state, keeping the calibrated threshold.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine creates VAD sessions. Implementations must be safe for concurrent
// NewSession calls.
type Engine interface {
	NewSession(cfg Config) (SessionHandle, error)
}
