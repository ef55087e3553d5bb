package session

import "strings"

// ExtractNew isolates the genuinely new text in full given that previous was
// already emitted. Each dispatch transcribes the session's whole audio buffer,
// so full normally re-states previous plus a new tail; this walks the match
// strategies from cheapest to costliest:
//
//  1. nothing emitted yet: all of full is new
//  2. full contained in previous (case-insensitive): nothing new
//  3. previous contained in full: the trimmed text after the match, original
//     casing
//  4. longest word-level overlap between the tail of previous and the head of
//     full: the words after the overlap
//  5. no overlap at all: full is returned whole; duplicated words are
//     preferred over dropped ones
func ExtractNew(previous, full string) string {
	if strings.TrimSpace(previous) == "" {
		return full
	}

	prevLower := strings.ToLower(previous)
	fullLower := strings.ToLower(full)

	if strings.Contains(prevLower, fullLower) {
		return ""
	}
	if idx := strings.Index(fullLower, prevLower); idx >= 0 && idx+len(prevLower) <= len(full) {
		return strings.TrimSpace(full[idx+len(prevLower):])
	}

	prevWords := strings.Fields(previous)
	fullWords := strings.Fields(full)
	for k := min(len(prevWords), len(fullWords)); k > 0; k-- {
		if wordsEqualFold(prevWords[len(prevWords)-k:], fullWords[:k]) {
			return strings.Join(fullWords[k:], " ")
		}
	}
	return full
}

func wordsEqualFold(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Clean trims text and drops recognizer artifacts. Returns "" when nothing
// usable remains. Stoplist entries match case-insensitively with trailing
// sentence punctuation ignored, so "Thank you." matches a "thank you" entry.
func Clean(text string, stoplist []string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	norm := normalizeArtifact(trimmed)
	for _, entry := range stoplist {
		if norm == normalizeArtifact(entry) {
			return ""
		}
	}
	return trimmed
}

func normalizeArtifact(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".?!")
}
