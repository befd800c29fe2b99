package audio

import (
	"time"

	"github.com/google/uuid"
)

// AudioFrame is a chunk of raw PCM as delivered by a [Source]. Data holds
// little-endian signed 16-bit samples, interleaved when Channels > 1.
type AudioFrame struct {
	Data []byte

	// SampleRate in Hz (16000 for the pipeline, whatever the device offers otherwise).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format returns the frame's sample rate and channel count.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Utterance is one continuous speech segment bounded by silence. It is
// produced by the capture stage and consumed exactly once by the
// transcription stage, which owns it (and its backing file, if any) from
// then on.
type Utterance struct {
	// Seq is the monotonic per-utterance index assigned at capture time,
	// starting at 0.
	Seq uint64

	// ID correlates the utterance across log lines and trace spans.
	ID uuid.UUID

	// CapturedAt is the wall-clock time at which the utterance ended.
	CapturedAt time.Time

	// Duration is the length of the captured audio, pre-roll included.
	Duration time.Duration

	// Payload carries the audio in exactly one representation.
	Payload Payload
}

// Payload is the audio of an [Utterance]. It is either a [Waveform] held in
// memory or a [ClipFile] persisted to disk; no other implementations exist.
type Payload interface {
	payload()

	// Rate returns the sample rate of the audio in Hz.
	Rate() int
}

// Waveform is normalised mono audio in the range [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

func (Waveform) payload() {}

// Rate implements [Payload].
func (w Waveform) Rate() int { return w.SampleRate }

// Duration returns the play length of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// ClipFile references a mono 16-bit WAV clip on disk.
type ClipFile struct {
	Path       string
	SampleRate int
}

func (ClipFile) payload() {}

// Rate implements [Payload].
func (c ClipFile) Rate() int { return c.SampleRate }
