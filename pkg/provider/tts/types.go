package tts

import (
	"strconv"
	"strings"
)

// VoiceProfile describes the voice a reply is spoken with.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (an Azure short name such as
	// "en-US-JennyNeural", or an ElevenLabs voice_id).
	ID string `json:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name,omitempty"`

	// Provider identifies which TTS provider this voice belongs to.
	Provider string `json:"provider,omitempty"`

	// Pitch is an SSML prosody pitch value ("default", "high", "+5%", "-2st").
	// Empty means the voice's default.
	Pitch string `json:"pitch,omitempty"`

	// Rate is an SSML prosody rate value ("default", "fast", "1.2", "+10%").
	// Empty means the voice's default.
	Rate string `json:"rate,omitempty"`

	// Metadata holds provider-specific voice attributes (gender, locale, etc.).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// rateKeywords maps the SSML rate keywords to speaking-rate multipliers.
var rateKeywords = map[string]float64{
	"x-slow":  0.5,
	"slow":    0.75,
	"medium":  1.0,
	"default": 1.0,
	"fast":    1.25,
	"x-fast":  1.5,
}

// ParseRate converts an SSML prosody rate into a speaking-rate multiplier
// (1.0 = normal speed). It accepts the SSML keywords, plain multipliers
// ("1.2") and relative percentages ("+10%", "-20%"). ok is false if rate is
// empty or cannot be interpreted.
func ParseRate(rate string) (mult float64, ok bool) {
	r := strings.ToLower(strings.TrimSpace(rate))
	if r == "" {
		return 0, false
	}
	if m, found := rateKeywords[r]; found {
		return m, true
	}
	if pct, isPct := strings.CutSuffix(r, "%"); isPct {
		v, err := strconv.ParseFloat(pct, 64)
		if err != nil {
			return 0, false
		}
		m := 1 + v/100
		if m <= 0 {
			return 0, false
		}
		return m, true
	}
	v, err := strconv.ParseFloat(r, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
