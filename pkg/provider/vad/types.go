package vad

// VADEvent is the detection result for a single frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Energy is the RMS energy of the frame.
	Energy float64

	// Threshold is the energy threshold the frame was compared against.
	Threshold float64
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates an utterance is in progress. It is also
	// reported for short pauses inside an utterance.
	VADSpeechContinue

	// VADSpeechEnd indicates the pause threshold was reached and the
	// utterance is complete. The frame belongs to the utterance.
	VADSpeechEnd

	// VADSilence indicates no utterance is in progress.
	VADSilence
)

// String returns the event type name.
func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech_continue"
	case VADSpeechEnd:
		return "speech_end"
	case VADSilence:
		return "silence"
	default:
		return "unknown"
	}
}
