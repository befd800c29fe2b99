package transcript_test

import (
	"testing"

	"github.com/MrWong99/emmy/internal/transcript"
)

func TestMatcher_MaxWords(t *testing.T) {
	t.Parallel()

	m := transcript.NewMatcher([]string{"  ", "New York", "Emmy"})
	if got := m.MaxWords(); got != 2 {
		t.Errorf("MaxWords() = %d, want 2", got)
	}
	if got := transcript.NewMatcher(nil).MaxWords(); got != 0 {
		t.Errorf("MaxWords() without vocabulary = %d, want 0", got)
	}
}

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	m := transcript.NewMatcher([]string{"Emmy", "New York"})

	tests := []struct {
		window  string
		want    string
		matched bool
	}{
		{"emmy", "Emmy", true},
		{"EMMY", "Emmy", true},
		{"emmie", "Emmy", true},
		{"new york", "New York", true},
		{"completely different", "completely different", false},
		{"   ", "   ", false},
	}
	for _, tc := range tests {
		t.Run(tc.window, func(t *testing.T) {
			t.Parallel()
			got, conf, ok := m.Match(tc.window)
			if ok != tc.matched || got != tc.want {
				t.Fatalf("Match(%q) = %q, %v; want %q, %v", tc.window, got, ok, tc.want, tc.matched)
			}
			if !ok && conf != 0 {
				t.Errorf("confidence = %f for a miss, want 0", conf)
			}
			if ok && (conf < 0.7 || conf > 1) {
				t.Errorf("confidence = %f, want within [0.7, 1]", conf)
			}
		})
	}
}

func TestCorrector_Apply(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector([]string{"Emmy", "New York"})

	tests := []struct {
		name  string
		text  string
		want  string
		fixes int
	}{
		{"misheard name", "hi emmie", "hi Emmy", 1},
		{"case only", "hello emmy.", "hello Emmy.", 1},
		{"punctuation kept", "Emmie, stop.", "Emmy, stop.", 1},
		{"multi-word term", "new york is big", "New York is big", 1},
		{"already correct", "hello Emmy", "hello Emmy", 0},
		{"nothing to fix keeps spacing", "  hello  there ", "  hello  there ", 0},
		{"empty", "", "", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, fixes := c.Apply(tc.text)
			if got != tc.want {
				t.Errorf("Apply(%q) = %q, want %q", tc.text, got, tc.want)
			}
			if len(fixes) != tc.fixes {
				t.Errorf("corrections = %+v, want %d", fixes, tc.fixes)
			}
		})
	}
}

func TestCorrector_ReportsOriginal(t *testing.T) {
	t.Parallel()

	_, fixes := transcript.NewCorrector([]string{"Emmy"}).Apply("Emmie, stop.")
	if len(fixes) != 1 {
		t.Fatalf("corrections = %+v, want 1", fixes)
	}
	if fixes[0].Original != "Emmie" || fixes[0].Corrected != "Emmy" {
		t.Errorf("correction = %+v", fixes[0])
	}
}

func TestCorrector_NoVocabulary(t *testing.T) {
	t.Parallel()

	c := transcript.NewCorrector(nil)
	if got := c.Correct("hi emmie"); got != "hi emmie" {
		t.Errorf("Correct() = %q, want input unchanged", got)
	}
}
