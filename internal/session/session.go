package session

import (
	"sync"
	"time"

	"github.com/Branis333/brainink-speech/internal/audio"
)

type Status string

const (
	StatusCreated Status = "created"
	StatusActive  Status = "active"
	StatusClosed  Status = "closed"
)

// Transcription is one engine dispatch result, recorded against the segment
// that was open when it applied. Chunk is the ordinal of the chunk whose
// dispatch produced it.
type Transcription struct {
	Chunk           int       `json:"chunk_id"`
	Text            string    `json:"text"`
	NewText         string    `json:"new_text,omitempty"`
	Language        string    `json:"language,omitempty"`
	Confidence      float64   `json:"confidence,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Speaker         string    `json:"speaker_id,omitempty"`
	At              time.Time `json:"at"`
}

// Segment is a sealed portion of the session transcript, together with the
// dispatch records that produced it.
type Segment struct {
	Number         int             `json:"number"`
	Speaker        string          `json:"speaker,omitempty"`
	Text           string          `json:"text"`
	Reason         string          `json:"reason"`
	Language       string          `json:"language,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        time.Time       `json:"ended_at"`
	Transcriptions []Transcription `json:"transcriptions,omitempty"`
}

// Options carries the handshake-negotiated parameters of a session.
type Options struct {
	Language      string
	Engine        string
	Format        audio.Format
	SampleRate    int
	Channels      int
	Reference     string
	MinChunkBytes int
}

// DispatchInput is everything a transcription dispatch needs, captured
// atomically so the engine call can run without holding the session lock.
// Gen identifies the snapshot; a newer BeginDispatch supersedes it.
type DispatchInput struct {
	Gen        uint64
	Audio      []byte
	Engine     string
	Format     audio.Format
	SampleRate int
	Channels   int
	Language   string
	FullText   string
}

// Final is the session summary reported on close. BufferedBytes is the
// accumulator size at close, before the buffer is released.
type Final struct {
	FinalText       string    `json:"final_text"`
	TotalChunks     int       `json:"total_chunks"`
	DurationSeconds float64   `json:"duration_seconds"`
	Segments        []Segment `json:"segments"`
	BufferedBytes   int       `json:"-"`
}

// Snapshot is a point-in-time copy of session counters for the query surface.
type Snapshot struct {
	ID              string    `json:"session_id"`
	Status          Status    `json:"status"`
	Language        string    `json:"language,omitempty"`
	Engine          string    `json:"engine,omitempty"`
	Format          string    `json:"format"`
	Speaker         string    `json:"speaker,omitempty"`
	SpeakerName     string    `json:"speaker_name,omitempty"`
	ChunksProcessed int       `json:"chunks_processed"`
	BufferedBytes   int       `json:"buffered_bytes"`
	CurrentSegment  int       `json:"current_segment"`
	SegmentWords    int       `json:"current_segment_words"`
	FullTextChars   int       `json:"full_text_chars"`
	Segments        int       `json:"segments_completed"`
	Dispatches      int       `json:"dispatches"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
}

// State is one live transcription session. All methods are safe for
// concurrent use; the WebSocket loop is the only writer, while the query
// surface and the idle sweeper read snapshots. The read loop and the idle
// sweeper can both reach the dispatch path, so dispatch-and-apply sections
// additionally serialize through LockDispatch.
type State struct {
	mu sync.Mutex

	// dispatchMu is always acquired before mu, never while holding it.
	dispatchMu sync.Mutex

	id         string
	status     Status
	language   string
	engine     string
	format     audio.Format
	sampleRate int
	channels   int
	reference  string

	createdAt    time.Time
	lastActivity time.Time

	chunksProcessed int
	segmentIndex    int
	segmentStart    time.Time
	segmentText     string
	fullText        string
	speaker         string
	speakerName     string

	history   []Transcription
	audio     *Accumulator
	completed []Segment

	dispatchedBytes int
	dispatches      int
	dispatchSeq     uint64

	closing bool
	final   *Final
}

// New creates a session in the created state. The first segment opens when
// the first chunk arrives, not at connect time, so an idle handshake cannot
// age the segment clock.
func New(id string, opts Options, now time.Time) *State {
	format := opts.Format
	if format == "" {
		format = audio.FormatPCM16
	}
	rate := opts.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	channels := opts.Channels
	if channels <= 0 {
		channels = 1
	}
	return &State{
		id:           id,
		status:       StatusCreated,
		language:     opts.Language,
		engine:       opts.Engine,
		format:       format,
		sampleRate:   rate,
		channels:     channels,
		reference:    opts.Reference,
		createdAt:    now,
		lastActivity: now,
		segmentIndex: 1,
		audio:        NewAccumulator(opts.MinChunkBytes),
	}
}

// Engine returns the transcription engine chosen at handshake.
func (s *State) Engine() string {
	return s.engine
}

func (s *State) ID() string {
	return s.id
}

// Status returns the current lifecycle state.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Reference returns the QA reference transcript, empty when none was supplied.
func (s *State) Reference() string {
	return s.reference
}

// CreatedAt returns the connect time.
func (s *State) CreatedAt() time.Time {
	return s.createdAt
}

// SetMedia adopts per-chunk media parameters. They are fixed once audio has
// been buffered, since the accumulator holds bytes of a single encoding.
func (s *State) SetMedia(format audio.Format, sampleRate, channels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audio.Len() > 0 {
		return
	}
	if format != "" {
		s.format = format
	}
	if sampleRate > 0 {
		s.sampleRate = sampleRate
	}
	if channels > 0 {
		s.channels = channels
	}
}

// EvaluateSeal runs the segmentation policy for an incoming chunk's speaker
// before the chunk is accumulated. Before the session is active there is
// nothing to seal; only speaker adoption applies.
func (s *State) EvaluateSeal(p *Policy, speaker string, now time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive {
		if speaker != "" && s.speaker == "" {
			return Decision{AdoptSpeaker: true}
		}
		return Decision{}
	}
	return p.Evaluate(s.speaker, speaker, s.segmentText, s.segmentStart, now)
}

// SetSpeaker records the active speaker for subsequent segments.
func (s *State) SetSpeaker(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaker = id
	if name != "" {
		s.speakerName = name
	}
}

// Seal closes the open segment and opens the next one, moving the dispatch
// records accumulated since the last seal into the sealed segment. The
// session full text is untouched; sealing is bookkeeping over the
// already-appended transcript. Segments seal even when empty so segment
// numbering tracks real boundaries.
func (s *State) Seal(reason string, now time.Time) Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg := Segment{
		Number:         s.segmentIndex,
		Speaker:        s.speaker,
		Text:           s.segmentText,
		Reason:         reason,
		Language:       s.language,
		StartedAt:      s.segmentStart,
		EndedAt:        now,
		Transcriptions: s.history,
	}
	s.completed = append(s.completed, seg)
	s.segmentIndex++
	s.segmentText = ""
	s.segmentStart = now
	s.history = nil
	return seg
}

// Ingest counts an audio chunk and buffers it when it passes the size floor.
// The first buffered chunk activates the session and starts the segment
// clock; undersized chunks only bump counters.
func (s *State) Ingest(chunk []byte, now time.Time) (total int, buffered bool, bufferedBytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return s.chunksProcessed, false, s.audio.Len()
	}
	s.chunksProcessed++
	s.lastActivity = now
	buffered = s.audio.Append(chunk)
	if buffered && s.status == StatusCreated {
		s.status = StatusActive
		s.segmentStart = now
	}
	return s.chunksProcessed, buffered, s.audio.Len()
}

// ShouldDispatch reports whether the buffer is due for transcription: every
// Nth processed chunk, or once enough new bytes piled up since the last
// dispatch attempt.
func (s *State) ShouldDispatch(everyChunks, minBytes int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audio.Len() == 0 {
		return false
	}
	if everyChunks > 0 && s.chunksProcessed%everyChunks == 0 {
		return true
	}
	return s.audio.Len()-s.dispatchedBytes >= minBytes
}

// HasUndispatched reports whether audio arrived after the last dispatch
// attempt. The teardown path uses it to decide on a final dispatch.
func (s *State) HasUndispatched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio.Len() > s.dispatchedBytes
}

// LockDispatch enters the dispatch-and-apply critical section. The read loop
// and the teardown path can both dispatch the buffer; overlapping them would
// race appends to the session transcript.
func (s *State) LockDispatch() {
	s.dispatchMu.Lock()
}

// UnlockDispatch leaves the dispatch-and-apply critical section.
func (s *State) UnlockDispatch() {
	s.dispatchMu.Unlock()
}

// BeginDispatch snapshots everything the engine call needs and marks the
// buffer dispatched. The lock is not held during the engine call; the result
// is applied later through ApplyTranscription, keyed by the snapshot's
// generation so a superseded result is discarded instead of landing twice.
func (s *State) BeginDispatch() DispatchInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchedBytes = s.audio.Len()
	s.dispatches++
	s.dispatchSeq++
	return DispatchInput{
		Gen:        s.dispatchSeq,
		Audio:      s.audio.Snapshot(),
		Engine:     s.engine,
		Format:     s.format,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Language:   s.language,
		FullText:   s.fullText,
	}
}

// ApplyTranscription records a dispatch result and appends the deduplicated
// new text to the open segment and the session transcript. The record is
// stamped with the chunk count and speaker as of apply time. Results arriving
// after close, or from a snapshot a newer dispatch superseded, are discarded.
func (s *State) ApplyTranscription(gen uint64, tr Transcription, newText string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusActive || gen != s.dispatchSeq {
		return false
	}
	tr.Chunk = s.chunksProcessed
	tr.Speaker = s.speaker
	tr.NewText = newText
	tr.At = now
	s.history = append(s.history, tr)
	if s.language == "" && tr.Language != "" {
		s.language = tr.Language
	}
	if newText != "" {
		s.segmentText = joinText(s.segmentText, newText)
		s.fullText = joinText(s.fullText, newText)
	}
	return true
}

// BeginClose claims the teardown path. Both the connection loop and the idle
// sweeper can reach teardown; only the first caller proceeds.
func (s *State) BeginClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || s.status == StatusClosed {
		return false
	}
	s.closing = true
	return true
}

// Close marks the session closed, releases the audio buffer and returns the
// final summary. Idempotent; later calls return the same summary.
func (s *State) Close(now time.Time) Final {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final != nil {
		return *s.final
	}
	s.status = StatusClosed
	segs := make([]Segment, len(s.completed))
	copy(segs, s.completed)
	fin := Final{
		FinalText:       s.fullText,
		TotalChunks:     s.chunksProcessed,
		DurationSeconds: now.Sub(s.createdAt).Seconds(),
		Segments:        segs,
		BufferedBytes:   s.audio.Len(),
	}
	s.audio.Release()
	s.final = &fin
	return fin
}

// FullText returns the session transcript so far.
func (s *State) FullText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullText
}

// Language returns the negotiated or detected language.
func (s *State) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

// Speaker returns the current speaker id and display name.
func (s *State) Speaker() (id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaker, s.speakerName
}

// SegmentNumber returns the number of the open segment.
func (s *State) SegmentNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segmentIndex
}

// CompletedSegments returns a copy of the sealed segments.
func (s *State) CompletedSegments() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	segs := make([]Segment, len(s.completed))
	copy(segs, s.completed)
	return segs
}

// History returns a copy of the open segment's dispatch records. A record
// moves into its segment when that segment seals.
func (s *State) History() []Transcription {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := make([]Transcription, len(s.history))
	copy(hist, s.history)
	return hist
}

// Idle reports whether the session has seen no activity for at least ttl.
func (s *State) Idle(ttl time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity) >= ttl
}

// Snapshot returns a point-in-time view for the query surface.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:              s.id,
		Status:          s.status,
		Language:        s.language,
		Engine:          s.engine,
		Format:          string(s.format),
		Speaker:         s.speaker,
		SpeakerName:     s.speakerName,
		ChunksProcessed: s.chunksProcessed,
		BufferedBytes:   s.audio.Len(),
		CurrentSegment:  s.segmentIndex,
		SegmentWords:    countWords(s.segmentText),
		FullTextChars:   len(s.fullText),
		Segments:        len(s.completed),
		Dispatches:      s.dispatches,
		CreatedAt:       s.createdAt,
		LastActivity:    s.lastActivity,
	}
}

func joinText(base, add string) string {
	if base == "" {
		return add
	}
	return base + " " + add
}
