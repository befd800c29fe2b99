package pipeline

import (
	"encoding/json"

	"github.com/MrWong99/emmy/pkg/provider/stt"
)

// Kind classifies a [Message].
type Kind int

const (
	// KindHeard carries a transcript.
	KindHeard Kind = iota
	// KindReply carries the trimmed reply that is about to be spoken.
	KindReply
	// KindRaw carries the unmodified transcription result (verbose mode).
	KindRaw
	// KindError reports a failure.
	KindError
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindHeard:
		return "heard"
	case KindReply:
		return "reply"
	case KindRaw:
		return "raw"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is one entry of the result queue.
type Message struct {
	// Seq is the utterance the message belongs to.
	Seq uint64

	Kind Kind

	// Text is the transcript, the reply, or the error text.
	Text string

	// Result is set for KindRaw.
	Result *stt.Result

	// Err is set for KindError.
	Err error
}

// String renders the message as a console line.
func (m Message) String() string {
	switch m.Kind {
	case KindRaw:
		data, err := json.Marshal(m.Result)
		if err != nil {
			return "error: " + err.Error()
		}
		return string(data)
	case KindHeard, KindReply, KindError:
		return m.Kind.String() + ": " + m.Text
	default:
		return m.Text
	}
}

func heardMessage(seq uint64, transcript string) Message {
	return Message{Seq: seq, Kind: KindHeard, Text: transcript}
}

func replyMessage(seq uint64, reply string) Message {
	return Message{Seq: seq, Kind: KindReply, Text: reply}
}

func rawMessage(seq uint64, res *stt.Result) Message {
	return Message{Seq: seq, Kind: KindRaw, Result: res}
}

func errorMessage(seq uint64, err error) Message {
	return Message{Seq: seq, Kind: KindError, Text: err.Error(), Err: err}
}
