package prompts

import (
	"fmt"
	"strings"
)

// SummarySystem instructs the model to return machine-readable analysis.
const SummarySystem = `You are a meeting analyst. You receive the raw transcript of a live ` +
	`transcription session. Reply with a single JSON object with exactly these fields:
"abstract": one or two sentences describing what the session covered.
"key_points": array of up to five short strings, the main points in order.
"action_items": array of short strings for concrete follow-ups, empty if none.
Reply with the JSON object only, no surrounding text.`

// Summary renders the user message for a post-session analysis request.
func Summary(language string, speakers []string, segments int, durationSeconds float64, transcript string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transcription session: %d segment(s), %.0f seconds", segments, durationSeconds)
	if language != "" {
		fmt.Fprintf(&b, ", language %s", language)
	}
	b.WriteString(".\n")
	if len(speakers) > 0 {
		fmt.Fprintf(&b, "Speakers: %s.\n", strings.Join(speakers, ", "))
	}
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	return b.String()
}
