package main

import (
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "azure", "azure"},
		{"exact", "0123456789012345678", "0123456789012345678"},
		{"ascii", "elevenlabs / eleven_flash_v2_5", "elevenlabs / eleve…"},
		{"multibyte", "azure / de-DE-KatjaNeuralÄÖÜ", "azure / de-DE-Katj…"},
		{"multibyte at cut", "whisper / größeres Modell", "whisper / größeres…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := truncate(tt.in, 19)
			if got != tt.want {
				t.Errorf("truncate(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncate(%q) produced invalid UTF-8", tt.in)
			}
			if n := utf8.RuneCountInString(got); n > 19 {
				t.Errorf("truncate(%q) has %d runes", tt.in, n)
			}
		})
	}
}
