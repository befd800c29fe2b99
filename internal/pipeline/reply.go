package pipeline

import "strings"

// TrimReply returns the part of text before the first occurrence of stop.
// The whole text is returned when stop is empty or absent. Trimming an
// already trimmed reply is a no-op.
func TrimReply(text, stop string) string {
	if stop == "" {
		return text
	}
	before, _, _ := strings.Cut(text, stop)
	return before
}

// BuildPrompt composes the completion prompt for one transcript: the
// preamble, the speaker's name, what they said, and the start sequence that
// cues the assistant's turn.
func BuildPrompt(a Assistant, transcript string) string {
	var b strings.Builder
	b.Grow(len(a.Prompt) + len(a.Username) + len(transcript) + len(a.StartSequence) + 3)
	b.WriteString(a.Prompt)
	b.WriteByte(' ')
	b.WriteString(a.Username)
	b.WriteString(": ")
	b.WriteString(transcript)
	b.WriteString(a.StartSequence)
	return b.String()
}
