package stt

import (
	"strings"
	"time"
)

// Result is the outcome of transcribing one utterance.
type Result struct {
	// Text is the full transcript.
	Text string `json:"text"`

	// Language is the forced or detected ISO-639-1 language code. It may be
	// empty if the backend does not report it.
	Language string `json:"language,omitempty"`

	// Duration is the length of the transcribed audio, when known.
	Duration time.Duration `json:"duration,omitempty"`

	// Segments holds the timed pieces of the transcript, when available.
	Segments []Segment `json:"segments,omitempty"`
}

// Segment is a timed span of the transcript.
type Segment struct {
	Text  string        `json:"text"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// JoinSegments concatenates trimmed segment texts with single spaces.
func JoinSegments(segs []Segment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
