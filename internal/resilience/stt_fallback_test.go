package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/emmy/pkg/audio"
	"github.com/MrWong99/emmy/pkg/provider/stt"
	sttmock "github.com/MrWong99/emmy/pkg/provider/stt/mock"
)

func TestSTTFallback_Transcribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		primaryErr    error
		wantText      string
		wantSecondary int
	}{
		{name: "primary succeeds", wantText: "from primary"},
		{name: "primary fails", primaryErr: errors.New("model crashed"), wantText: "from secondary", wantSecondary: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			primary := &sttmock.Provider{Result: &stt.Result{Text: "from primary"}, Err: tt.primaryErr}
			secondary := &sttmock.Provider{Result: &stt.Result{Text: "from secondary"}}

			fb := NewSTTFallback(primary, "primary", FallbackConfig{})
			fb.AddFallback("secondary", secondary)

			clip := audio.ClipFile{Path: "temp0.wav"}
			res, err := fb.Transcribe(context.Background(), clip, stt.Options{Language: "en"})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", res.Text, tt.wantText)
			}
			if len(primary.TranscribeCalls) != 1 {
				t.Errorf("primary calls = %d, want 1", len(primary.TranscribeCalls))
			}
			if len(secondary.TranscribeCalls) != tt.wantSecondary {
				t.Errorf("secondary calls = %d, want %d", len(secondary.TranscribeCalls), tt.wantSecondary)
			}
			for _, c := range secondary.TranscribeCalls {
				if c.Payload != clip || c.Opts.Language != "en" {
					t.Errorf("secondary got payload=%v opts=%+v", c.Payload, c.Opts)
				}
			}
		})
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	t.Parallel()
	fb := NewSTTFallback(&sttmock.Provider{Err: errTest}, "a", FallbackConfig{})
	fb.AddFallback("b", &sttmock.Provider{Err: errTest})

	_, err := fb.Transcribe(context.Background(), audio.Waveform{SampleRate: 16000}, stt.Options{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
