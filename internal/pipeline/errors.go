package pipeline

import "errors"

// Failure classes of the voice loop. Stage errors wrap exactly one of these so
// callers can classify them with [errors.Is].
var (
	// ErrDevice means the acoustic source failed. It stops the capture stage;
	// work that is already queued is still processed.
	ErrDevice = errors.New("device error")

	// ErrInference means speech-to-text failed for one utterance.
	ErrInference = errors.New("inference error")

	// ErrCompletion means the completion service failed for one utterance.
	ErrCompletion = errors.New("completion service error")

	// ErrSynthesis means the reply could not be synthesised or played.
	ErrSynthesis = errors.New("synthesis service error")

	// ErrPersistence means a temporary clip could not be written or removed.
	ErrPersistence = errors.New("persistence error")
)

// errorClass returns the metric label for err.
func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrDevice):
		return "device"
	case errors.Is(err, ErrInference):
		return "inference"
	case errors.Is(err, ErrCompletion):
		return "completion"
	case errors.Is(err, ErrSynthesis):
		return "synthesis"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "unknown"
	}
}
