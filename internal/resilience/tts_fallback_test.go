package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/emmy/pkg/provider/tts"
	ttsmock "github.com/MrWong99/emmy/pkg/provider/tts/mock"
)

func textOf(fragments ...string) <-chan string {
	ch := make(chan string, len(fragments))
	for _, f := range fragments {
		ch <- f
	}
	close(ch)
	return ch
}

func drainAudio(ch <-chan []byte) []string {
	var out []string
	for b := range ch {
		out = append(out, string(b))
	}
	return out
}

func TestTTSFallback_SynthesizeStream_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")}}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("fallback-audio")}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	voice := tts.VoiceProfile{ID: "en-US-JennyNeural", Pitch: "+5%"}
	audioCh, err := fb.SynthesizeStream(context.Background(), textOf("Hello ", "there."), voice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := drainAudio(audioCh); !slices.Equal(got, []string{"audio1", "audio2"}) {
		t.Fatalf("chunks = %v", got)
	}
	calls := primary.Calls()
	if len(calls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(calls))
	}
	if !slices.Equal(calls[0].Text, []string{"Hello ", "there."}) || calls[0].Voice.ID != voice.ID || calls[0].Voice.Pitch != voice.Pitch {
		t.Errorf("primary call = %+v", calls[0])
	}
	if len(secondary.Calls()) != 0 {
		t.Error("secondary should not be called")
	}
}

func TestTTSFallback_SynthesizeStream_ReplaysTextToFallback(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("401 unauthorized")}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("fallback-audio")}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	audioCh, err := fb.SynthesizeStream(context.Background(), textOf("Sure ", "thing."), tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := drainAudio(audioCh); !slices.Equal(got, []string{"fallback-audio"}) {
		t.Fatalf("chunks = %v", got)
	}
	calls := secondary.Calls()
	if len(calls) != 1 || !slices.Equal(calls[0].Text, []string{"Sure ", "thing."}) {
		t.Errorf("secondary calls = %+v, want full text replayed", calls)
	}
}

func TestTTSFallback_SynthesizeStream_CancelledWhileReadingText(t *testing.T) {
	t.Parallel()
	fb := NewTTSFallback(&ttsmock.Provider{}, "primary", FallbackConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fb.SynthesizeStream(ctx, make(chan string), tts.VoiceProfile{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{ListVoicesErr: errTest}
	secondary := &ttsmock.Provider{ListVoicesResult: []tts.VoiceProfile{{ID: "v1"}}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v1" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestTTSFallback_PinnedVoicePerProvider(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("503 unavailable")}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("pcm")}}

	fb := NewTTSFallback(primary, "azure", FallbackConfig{})
	fb.AddFallback("elevenlabs", tts.PinVoice(secondary, "21m00Tcm4TlvDq8ikWAM"))

	voice := tts.VoiceProfile{ID: "en-US-JennyNeural", Rate: "fast"}
	audioCh, err := fb.SynthesizeStream(context.Background(), textOf("Hi."), voice)
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	drainAudio(audioCh)

	if got := primary.Calls()[0].Voice.ID; got != "en-US-JennyNeural" {
		t.Errorf("primary voice = %q, want the configured voice", got)
	}
	got := secondary.Calls()[0].Voice
	if got.ID != "21m00Tcm4TlvDq8ikWAM" || got.Rate != "fast" {
		t.Errorf("fallback voice = %+v, want pinned id with requested rate", got)
	}
}
