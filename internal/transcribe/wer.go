package transcribe

import "strings"

// WordErrorRate compares a hypothesis transcript against a reference:
// (substitutions + insertions + deletions) / reference words. Words are
// lowercased with surrounding punctuation stripped before comparison, so
// "Hello," and "hello" count as a match. Returns 0 for an empty reference.
func WordErrorRate(reference, hypothesis string) float64 {
	ref := normalizeWords(reference)
	hyp := normalizeWords(hypothesis)

	if len(ref) == 0 {
		return 0
	}

	// Word-level Levenshtein, two rows.
	prev := make([]int, len(hyp)+1)
	curr := make([]int, len(hyp)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ref); i++ {
		curr[0] = i
		for j := 1; j <= len(hyp); j++ {
			cost := 1
			if ref[i-1] == hyp[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min(del, ins, sub)
		}
		prev, curr = curr, prev
	}

	return float64(prev[len(hyp)]) / float64(len(ref))
}

func normalizeWords(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	words := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]")
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}
