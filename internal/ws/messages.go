package ws

import (
	"time"

	"github.com/Branis333/brainink-speech/internal/session"
)

// Client message types.
const (
	msgAudioChunk    = "audio_chunk"
	msgStopRecording = "stop_recording"
	msgPing          = "ping"
)

// Server event types.
const (
	evtSessionStarted   = "session_started"
	evtChunkReceived    = "chunk_received"
	evtTranscription    = "transcription"
	evtSilence          = "silence"
	evtSegmentCompleted = "segment_completed"
	evtSessionEnded     = "session_ended"
	evtProcessingError  = "processing_error"
	evtPong             = "pong"
)

// SpeakerInfo identifies the active speaker on an audio chunk.
type SpeakerInfo struct {
	SpeakerID string `json:"speaker_id"`
	Name      string `json:"name,omitempty"`
}

// ClientMessage is any inbound frame on the transcription socket.
type ClientMessage struct {
	Type          string       `json:"type"`
	AudioData     string       `json:"audio_data,omitempty"`
	AudioFormat   string       `json:"audio_format,omitempty"`
	SampleRate    int          `json:"sample_rate,omitempty"`
	Channels      int          `json:"channels,omitempty"`
	BitsPerSample int          `json:"bits_per_sample,omitempty"`
	SpeakerInfo   *SpeakerInfo `json:"speaker_info,omitempty"`
}

// Event is an outbound frame. One flat shape covers every event type; unused
// fields are omitted. FinalText is a pointer so session_ended carries
// "final_text": "" even when no speech was recognized.
type Event struct {
	Type               string            `json:"type"`
	SessionID          string            `json:"session_id,omitempty"`
	SupportedLanguages []string          `json:"supported_languages,omitempty"`
	Engine             string            `json:"engine,omitempty"`
	Text               string            `json:"text,omitempty"`
	Language           string            `json:"language,omitempty"`
	Confidence         float64           `json:"confidence,omitempty"`
	IsPartial          bool              `json:"is_partial,omitempty"`
	SegmentNumber      int               `json:"segment_number,omitempty"`
	Reason             string            `json:"reason,omitempty"`
	SpeakerInfo        *SpeakerInfo      `json:"speaker_info,omitempty"`
	ChunksProcessed    int               `json:"chunks_processed,omitempty"`
	BufferedBytes      int               `json:"buffered_bytes,omitempty"`
	DurationSeconds    float64           `json:"duration_seconds,omitempty"`
	FinalText          *string           `json:"final_text,omitempty"`
	TotalChunks        int               `json:"total_chunks,omitempty"`
	Segments           []session.Segment `json:"segments,omitempty"`
	WordErrorRate      *float64          `json:"word_error_rate,omitempty"`
	Error              string            `json:"error,omitempty"`
}

// MonitorEvent is a session lifecycle notification for the live event feed.
type MonitorEvent struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Monitor receives lifecycle notifications. The SSE hub implements it.
type Monitor interface {
	Publish(ev MonitorEvent)
}
