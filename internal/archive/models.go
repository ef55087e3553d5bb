package archive

import "time"

// Session is one archived transcription session.
type Session struct {
	ID              string     `json:"id"`
	Language        string     `json:"language,omitempty"`
	Engine          string     `json:"engine,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	TotalChunks     int        `json:"total_chunks"`
	SegmentCount    int        `json:"segment_count,omitempty"`
	FinalText       string     `json:"final_text"`
	WordErrorRate   *float64   `json:"word_error_rate,omitempty"`
}

// Segment is one sealed segment of an archived session.
type Segment struct {
	SessionID string    `json:"session_id"`
	Number    int       `json:"number"`
	Speaker   string    `json:"speaker,omitempty"`
	Text      string    `json:"text"`
	Reason    string    `json:"reason"`
	Language  string    `json:"language,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Summary is the post-session analysis attached to an archived session.
type Summary struct {
	SessionID   string    `json:"session_id"`
	Engine      string    `json:"engine,omitempty"`
	Abstract    string    `json:"abstract"`
	KeyPoints   []string  `json:"key_points,omitempty"`
	ActionItems []string  `json:"action_items,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
