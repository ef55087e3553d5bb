package session

import (
	"strings"
	"time"

	"github.com/Branis333/brainink-speech/internal/config"
)

// Seal reasons reported on segment_completed events and archived segments.
// Mid-session seals report speaker_change or time_content only.
const (
	ReasonSpeakerChange = "speaker_change"
	ReasonTimeContent   = "time_content"
	ReasonStop          = "stop_recording"
	ReasonIdle          = "idle_timeout"
)

// CauseMaxDuration marks a seal forced by the hard duration cap. It appears
// in logs and metrics; the wire reason for such seals stays time_content.
const CauseMaxDuration = "max_duration"

// Decision is the outcome of evaluating the segmentation policy for one
// chunk. Reason is the value reported on the seal; Cause separates a
// hard-cap seal from a heuristic one and otherwise equals Reason.
type Decision struct {
	Seal         bool
	Reason       string
	Cause        string
	AdoptSpeaker bool
}

// Policy decides when the open segment is sealed. Rules in priority order:
// a speaker change always seals, a segment at the hard duration cap always
// seals, and otherwise a segment seals only when it is old enough, has enough
// words, and recently passed a discourse marker. Both duration rules report
// the time_content reason; Decision.Cause tells them apart.
type Policy struct {
	maxSeconds   float64
	minSeconds   float64
	minWords     int
	markerWindow int
	markers      []string
}

// NewPolicy builds a policy from tuning. Markers are matched case-insensitively.
func NewPolicy(t *config.Tuning) *Policy {
	markers := make([]string, len(t.Segments.DiscourseMarkers))
	for i, m := range t.Segments.DiscourseMarkers {
		markers[i] = strings.ToLower(m)
	}
	return &Policy{
		maxSeconds:   t.Segments.MaxSeconds,
		minSeconds:   t.Segments.MinSeconds,
		minWords:     t.Segments.MinWords,
		markerWindow: t.Segments.MarkerWindowChars,
		markers:      markers,
	}
}

// Evaluate decides whether the open segment should be sealed before the
// incoming chunk is accumulated. speaker is the chunk's speaker id, empty when
// the client sends none. The first identified speaker of a session is adopted
// without a speaker-change seal; the duration rules still apply to that chunk.
func (p *Policy) Evaluate(currentSpeaker, speaker, segmentText string, segmentStart, now time.Time) Decision {
	adopt := false
	if speaker != "" && speaker != currentSpeaker {
		if currentSpeaker != "" {
			return Decision{Seal: true, Reason: ReasonSpeakerChange, Cause: ReasonSpeakerChange, AdoptSpeaker: true}
		}
		adopt = true
	}

	elapsed := now.Sub(segmentStart).Seconds()
	if elapsed >= p.maxSeconds {
		return Decision{Seal: true, Reason: ReasonTimeContent, Cause: CauseMaxDuration, AdoptSpeaker: adopt}
	}
	if elapsed >= p.minSeconds &&
		countWords(segmentText) >= p.minWords &&
		p.markerInTail(segmentText) {
		return Decision{Seal: true, Reason: ReasonTimeContent, Cause: ReasonTimeContent, AdoptSpeaker: adopt}
	}
	return Decision{AdoptSpeaker: adopt}
}

// markerInTail reports whether a discourse marker appears in the trailing
// window of the segment text. Only the recent tail matters: a marker spoken a
// minute ago is not a boundary anymore.
func (p *Policy) markerInTail(text string) bool {
	tail := strings.ToLower(text)
	if len(tail) > p.markerWindow {
		tail = tail[len(tail)-p.markerWindow:]
	}
	for _, m := range p.markers {
		if strings.Contains(tail, m) {
			return true
		}
	}
	return false
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
