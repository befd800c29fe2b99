// Package transcript corrects speech-to-text output against a known
// vocabulary: names and terms the recogniser tends to mishear, such as the
// assistant's own name.
//
// Matching runs in two stages:
//
//  1. Phonetic candidates: Double Metaphone codes are computed for every
//     token of the spoken window and of each vocabulary term. Terms sharing
//     at least one code are candidates and are accepted when their
//     Jaro-Winkler similarity reaches the phonetic threshold (default 0.70).
//  2. Fuzzy fallback: without a phonetic candidate, a term is accepted on
//     Jaro-Winkler similarity alone when it reaches the higher fuzzy
//     threshold (default 0.85).
//
// A window of spoken words is only compared with terms of the same length,
// so a name never swallows the word spoken before it.
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matching term. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term without
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// term is a vocabulary entry with its codes computed once.
type term struct {
	text   string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// Matcher finds the vocabulary term a spoken window most likely meant.
// It is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64

	terms    []term
	maxWords int
}

// NewMatcher prepares vocabulary for matching. Blank terms are ignored.
func NewMatcher(vocabulary []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, v := range vocabulary {
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		m.terms = append(m.terms, term{
			text:   strings.TrimSpace(v),
			lower:  lower,
			tokens: tokens,
			codes:  codesFor(tokens),
		})
		m.maxWords = max(m.maxWords, len(tokens))
	}
	return m
}

// MaxWords is the word count of the longest vocabulary term.
func (m *Matcher) MaxWords() int {
	return m.maxWords
}

// Match returns the term that window most likely meant. Only terms with the
// same number of words as window are considered. When matched is false,
// corrected equals window and confidence is 0.
func (m *Matcher) Match(window string) (corrected string, confidence float64, matched bool) {
	lower := strings.ToLower(strings.TrimSpace(window))
	if lower == "" || len(m.terms) == 0 {
		return window, 0, false
	}
	tokens := strings.Fields(lower)
	codes := codesFor(tokens)

	var (
		best         *term
		bestScore    float64
		bestPhonetic bool
	)
	for i := range m.terms {
		t := &m.terms[i]
		if len(t.tokens) != len(tokens) {
			continue
		}
		score := similarity(tokens, t.tokens, lower, t.lower)
		switch {
		case overlap(codes, t.codes):
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t, score, true
			}
		case !bestPhonetic:
			if score >= m.fuzzyThreshold && score > bestScore {
				best, bestScore = t, score
			}
		}
	}
	if best == nil {
		return window, 0, false
	}
	return best.text, bestScore, true
}

// codesFor returns the union of the Double Metaphone codes of tokens.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the better Jaro-Winkler score of the full strings and the
// strings with spaces removed.
func similarity(inTokens, termTokens []string, in, t string) float64 {
	score := matchr.JaroWinkler(in, t, false)
	if len(inTokens) > 1 {
		score = max(score, matchr.JaroWinkler(strings.Join(inTokens, ""), strings.Join(termTokens, ""), false))
	}
	return score
}
