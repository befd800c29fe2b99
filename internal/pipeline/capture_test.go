package pipeline

import (
	"bytes"
	"testing"
	"time"

	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/provider/vad"
)

// frameOf returns 100 ms of 16 kHz mono PCM filled with b.
func frameOf(b byte) []byte {
	return bytes.Repeat([]byte{b}, 3200)
}

func segConfig() Config {
	return Config{
		Format:              audio.Format{SampleRate: 16000, Channels: 1},
		VAD:                 vad.Config{PauseThreshold: 200 * time.Millisecond},
		PhraseThreshold:     200 * time.Millisecond,
		NonSpeakingDuration: 200 * time.Millisecond,
	}
}

type segStep struct {
	ev   vad.VADEventType
	fill byte
}

// feedAll runs steps through s and returns every completed utterance; nil
// entries are discarded phrases.
func feedAll(s *segmenter, steps []segStep) (out [][]byte, forcedCuts int) {
	for _, st := range steps {
		pcm, done, forced := s.feed(st.ev, frameOf(st.fill))
		if forced {
			forcedCuts++
		}
		if done {
			out = append(out, pcm)
		}
	}
	return out, forcedCuts
}

func TestSegmenter_PrerollAndSpeech(t *testing.T) {
	t.Parallel()
	s := newSegmenter(segConfig())

	// Three silent frames, of which the last two fit into the pre-roll.
	got, _ := feedAll(s, []segStep{
		{vad.VADSilence, 1}, {vad.VADSilence, 2}, {vad.VADSilence, 3},
		{vad.VADSpeechStart, 4}, {vad.VADSpeechContinue, 5}, {vad.VADSpeechContinue, 6},
		{vad.VADSpeechContinue, 7}, {vad.VADSpeechEnd, 8},
	})
	if len(got) != 1 || got[0] == nil {
		t.Fatalf("got %d utterances, want one kept", len(got))
	}
	want := bytes.Join([][]byte{frameOf(2), frameOf(3), frameOf(4), frameOf(5), frameOf(6), frameOf(7), frameOf(8)}, nil)
	if !bytes.Equal(got[0], want) {
		t.Errorf("utterance has %d bytes (first byte %d), want %d bytes starting with the pre-roll", len(got[0]), got[0][0], len(want))
	}
}

func TestSegmenter_ShortPhraseDiscarded(t *testing.T) {
	t.Parallel()
	s := newSegmenter(segConfig())

	// 300 ms of audio of which 200 ms is trailing pause: 100 ms of speech.
	got, _ := feedAll(s, []segStep{
		{vad.VADSpeechStart, 1}, {vad.VADSpeechContinue, 0}, {vad.VADSpeechEnd, 0},
	})
	if len(got) != 1 || got[0] != nil {
		t.Fatalf("got %d utterances, want one discarded", len(got))
	}

	// The segmenter is reusable afterwards.
	got, _ = feedAll(s, []segStep{
		{vad.VADSpeechStart, 1}, {vad.VADSpeechContinue, 1}, {vad.VADSpeechContinue, 0}, {vad.VADSpeechEnd, 0},
	})
	if len(got) != 1 || got[0] == nil {
		t.Fatal("200 ms phrase should be kept")
	}
}

func TestSegmenter_MaxPhraseDuration(t *testing.T) {
	t.Parallel()
	cfg := segConfig()
	cfg.MaxPhraseDuration = 300 * time.Millisecond
	s := newSegmenter(cfg)

	got, forced := feedAll(s, []segStep{
		{vad.VADSpeechStart, 1}, {vad.VADSpeechContinue, 1}, {vad.VADSpeechContinue, 1},
		{vad.VADSpeechContinue, 2}, {vad.VADSpeechContinue, 2}, {vad.VADSpeechContinue, 2},
	})
	if forced != 2 || len(got) != 2 {
		t.Fatalf("forced=%d utterances=%d, want 2 and 2", forced, len(got))
	}
	for i, pcm := range got {
		if len(pcm) != 3*3200 {
			t.Errorf("utterance %d = %d bytes, want %d", i, len(pcm), 3*3200)
		}
	}
}

func TestSegmenter_Flush(t *testing.T) {
	t.Parallel()
	s := newSegmenter(segConfig())
	if _, ok := s.flush(); ok {
		t.Fatal("flush with nothing open returned an utterance")
	}
	feedAll(s, []segStep{{vad.VADSpeechStart, 1}, {vad.VADSpeechContinue, 1}, {vad.VADSpeechContinue, 1}})
	pcm, ok := s.flush()
	if !ok || len(pcm) != 3*3200 {
		t.Fatalf("flush = %d bytes, %v", len(pcm), ok)
	}
}

func TestSegmenter_StrayEndIsSilence(t *testing.T) {
	t.Parallel()
	s := newSegmenter(segConfig())
	got, _ := feedAll(s, []segStep{{vad.VADSpeechEnd, 1}, {vad.VADSilence, 1}})
	if len(got) != 0 {
		t.Fatalf("got %d utterances from silence", len(got))
	}
}
