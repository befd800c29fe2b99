package transcript

import (
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Correction records one replacement made by [Corrector.Correct].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Corrector rewrites transcripts so that misheard vocabulary terms are spelled
// the way they were configured. It is safe for concurrent use.
type Corrector struct {
	matcher *Matcher
}

// NewCorrector returns a Corrector for vocabulary.
func NewCorrector(vocabulary []string, opts ...Option) *Corrector {
	return &Corrector{matcher: NewMatcher(vocabulary, opts...)}
}

// Correct returns text with vocabulary corrections applied. Whitespace is
// normalised to single spaces when anything was replaced.
func (c *Corrector) Correct(text string) string {
	out, corrections := c.Apply(text)
	for _, cr := range corrections {
		slog.Debug("transcript corrected",
			"original", cr.Original,
			"corrected", cr.Corrected,
			"confidence", cr.Confidence,
		)
	}
	return out
}

// Apply scans text left to right. At each word it tries windows from the
// longest vocabulary term down to a single word and takes the first match,
// so multi-word terms win over partial single-word matches. Punctuation
// around a window is kept.
func (c *Corrector) Apply(text string) (string, []Correction) {
	maxN := c.matcher.MaxWords()
	tokens := strings.Fields(text)
	if maxN == 0 || len(tokens) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n := min(maxN, len(tokens)-i)
		matched := false
		for ; n >= 1; n-- {
			lead, core, trail := splitPunct(tokens[i : i+n])
			if core == "" {
				continue
			}
			term, conf, ok := c.matcher.Match(core)
			if !ok {
				continue
			}
			out = append(out, lead+term+trail)
			if term != core {
				corrections = append(corrections, Correction{Original: core, Corrected: term, Confidence: conf})
			}
			i += n
			matched = true
			break
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// splitPunct joins window into a phrase and strips the punctuation before
// its first letter and after its last one. Inner punctuation is left alone.
func splitPunct(window []string) (lead, core, trail string) {
	phrase := strings.Join(window, " ")
	start := strings.IndexFunc(phrase, isWordRune)
	if start < 0 {
		return "", "", ""
	}
	end := strings.LastIndexFunc(phrase, isWordRune)
	_, size := utf8.DecodeRuneInString(phrase[end:])
	return phrase[:start], phrase[start : end+size], phrase[end+size:]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
