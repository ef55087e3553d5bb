package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Branis333/brainink-speech/internal/analyze"
	"github.com/Branis333/brainink-speech/internal/archive"
	"github.com/Branis333/brainink-speech/internal/audio"
	"github.com/Branis333/brainink-speech/internal/config"
	"github.com/Branis333/brainink-speech/internal/metrics"
	"github.com/Branis333/brainink-speech/internal/session"
	"github.com/Branis333/brainink-speech/internal/transcribe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandlerConfig holds the shared collaborators for all transcription sessions.
type HandlerConfig struct {
	Adapter            *transcribe.Adapter
	Store              *session.Store
	Tuning             *config.Tuning
	Archive            *archive.Writer
	Analyzer           *analyze.Analyzer
	Monitor            Monitor
	DefaultEngine      string
	DefaultLanguage    string
	SupportedLanguages []string
	MaxConcurrent      int
	SessionTTL         time.Duration
}

// Handler manages WebSocket transcription sessions with admission control.
type Handler struct {
	cfg    HandlerConfig
	policy *session.Policy
	sem    chan struct{}
}

// NewHandler creates a WebSocket handler with shared collaborators and a
// concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 5 * time.Minute
	}
	return &Handler{
		cfg:    cfg,
		policy: session.NewPolicy(cfg.Tuning),
		sem:    make(chan struct{}, maxConc),
	}
}

type sendFunc func(Event)

// discardEvents takes over once the socket is gone.
func discardEvents(Event) {}

// ServeHTTP upgrades the connection and runs the session loop.
// Returns 503 at max concurrent session capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	opts, err := h.sessionOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.Inc()
	defer metrics.SessionsActive.Dec()

	h.runSession(conn, opts)
}

// sessionOptions negotiates session parameters from query params before the
// upgrade, so bad values fail as a plain 400 instead of a socket error.
func (h *Handler) sessionOptions(r *http.Request) (session.Options, error) {
	q := r.URL.Query()
	opts := session.Options{
		Language:      q.Get("language"),
		Engine:        q.Get("engine"),
		Reference:     q.Get("reference"),
		MinChunkBytes: h.cfg.Tuning.Chunks.MinBytes,
	}
	if opts.Language == "" {
		opts.Language = h.cfg.DefaultLanguage
	}
	if opts.Engine == "" {
		opts.Engine = h.cfg.DefaultEngine
	}
	if v := q.Get("format"); v != "" {
		format, err := audio.ParseFormat(v)
		if err != nil {
			return session.Options{}, err
		}
		opts.Format = format
	}
	if v := q.Get("sample_rate"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return session.Options{}, fmt.Errorf("invalid sample_rate %q", v)
		}
		opts.SampleRate = rate
	}
	if v := q.Get("channels"); v != "" {
		ch, err := strconv.Atoi(v)
		if err != nil || ch < 1 || ch > 2 {
			return session.Options{}, fmt.Errorf("invalid channels %q", v)
		}
		opts.Channels = ch
	}
	return opts, nil
}

func (h *Handler) runSession(conn *websocket.Conn, opts session.Options) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := session.New(uuid.NewString(), opts, time.Now())
	h.cfg.Store.Put(st)

	snap := st.Snapshot()
	slog.Info("session started",
		"session_id", st.ID(), "engine", snap.Engine,
		"language", snap.Language, "format", snap.Format)

	send := newEventSender(conn)
	send(Event{
		Type:               evtSessionStarted,
		SessionID:          st.ID(),
		SupportedLanguages: h.cfg.SupportedLanguages,
		Engine:             st.Engine(),
	})
	h.publish(evtSessionStarted, st.ID(), st.Engine())

	reason, writable := h.processMessages(ctx, conn, st, send)
	if !writable {
		send = discardEvents
	}
	h.teardown(ctx, st, reason, send)
}

// processMessages runs the per-session read loop. Exactly one response event
// goes out per audio chunk; a segment_completed may precede it. Returns the
// seal reason for the final segment and whether the socket can still take
// writes.
func (h *Handler) processMessages(ctx context.Context, conn *websocket.Conn, st *session.State, send sendFunc) (reason string, writable bool) {
	for {
		conn.SetReadDeadline(time.Now().Add(h.cfg.SessionTTL))
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				slog.Info("session idle, closing", "session_id", st.ID())
				return session.ReasonIdle, false
			}
			slog.Info("connection closed", "session_id", st.ID(), "error", err)
			return session.ReasonStop, false
		}

		var msg ClientMessage
		if err = json.Unmarshal(data, &msg); err != nil {
			metrics.Errors.WithLabelValues("ws", "decode").Inc()
			send(Event{Type: evtProcessingError, SessionID: st.ID(), Error: "malformed message: " + err.Error()})
			continue
		}

		switch msg.Type {
		case msgAudioChunk:
			h.handleChunk(ctx, st, &msg, send)
		case msgStopRecording:
			return session.ReasonStop, true
		case msgPing:
			send(Event{Type: evtPong})
		default:
			metrics.Errors.WithLabelValues("ws", "unknown_type").Inc()
			send(Event{Type: evtProcessingError, SessionID: st.ID(), Error: fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}
}

func (h *Handler) handleChunk(ctx context.Context, st *session.State, msg *ClientMessage, send sendFunc) {
	data, err := base64.StdEncoding.DecodeString(msg.AudioData)
	if err != nil {
		metrics.Errors.WithLabelValues("ws", "base64").Inc()
		send(Event{Type: evtProcessingError, SessionID: st.ID(), Error: "invalid audio_data encoding"})
		return
	}
	if msg.BitsPerSample != 0 && msg.BitsPerSample != 16 {
		metrics.Errors.WithLabelValues("ws", "bits_per_sample").Inc()
		send(Event{Type: evtProcessingError, SessionID: st.ID(),
			Error: fmt.Sprintf("unsupported bits_per_sample %d", msg.BitsPerSample)})
		return
	}
	if msg.AudioFormat != "" || msg.SampleRate > 0 || msg.Channels > 0 {
		var format audio.Format
		if msg.AudioFormat != "" {
			format, err = audio.ParseFormat(msg.AudioFormat)
			if err != nil {
				metrics.Errors.WithLabelValues("ws", "format").Inc()
				send(Event{Type: evtProcessingError, SessionID: st.ID(), Error: err.Error()})
				return
			}
		}
		st.SetMedia(format, msg.SampleRate, msg.Channels)
	}

	now := time.Now()
	metrics.Chunks.Inc()

	// Undersized chunks are counted but change nothing else.
	if len(data) < h.cfg.Tuning.Chunks.MinBytes {
		total, _, _ := st.Ingest(data, now)
		metrics.ChunksIgnored.Inc()
		send(Event{Type: evtChunkReceived, SessionID: st.ID(), ChunksProcessed: total})
		return
	}

	var speaker, speakerName string
	if msg.SpeakerInfo != nil {
		speaker = strings.TrimSpace(msg.SpeakerInfo.SpeakerID)
		speakerName = msg.SpeakerInfo.Name
	}

	// Seal decisions precede the chunk's accumulation.
	dec := st.EvaluateSeal(h.policy, speaker, now)
	if dec.Seal {
		h.seal(st, dec.Reason, dec.Cause, now, send)
	}
	if dec.AdoptSpeaker {
		st.SetSpeaker(speaker, speakerName)
	}

	total, _, bufLen := st.Ingest(data, now)

	if st.ShouldDispatch(h.cfg.Tuning.Dispatch.EveryChunks, h.cfg.Tuning.Dispatch.MinBytes) {
		st.LockDispatch()
		h.dispatch(ctx, st, send)
		st.UnlockDispatch()
		return
	}
	send(Event{Type: evtChunkReceived, SessionID: st.ID(), ChunksProcessed: total, BufferedBytes: bufLen})
}

func (h *Handler) seal(st *session.State, reason, cause string, now time.Time, send sendFunc) {
	seg := st.Seal(reason, now)
	metrics.SegmentsSealed.WithLabelValues(cause).Inc()

	duration := seg.EndedAt.Sub(seg.StartedAt).Seconds()
	slog.Info("segment sealed",
		"session_id", st.ID(), "segment", seg.Number, "reason", reason,
		"cause", cause, "chars", len(seg.Text), "duration_seconds", duration)

	var sp *SpeakerInfo
	if seg.Speaker != "" {
		_, name := st.Speaker()
		sp = &SpeakerInfo{SpeakerID: seg.Speaker, Name: name}
	}
	send(Event{
		Type:            evtSegmentCompleted,
		SessionID:       st.ID(),
		SegmentNumber:   seg.Number,
		Reason:          seg.Reason,
		Text:            seg.Text,
		Language:        seg.Language,
		DurationSeconds: duration,
		SpeakerInfo:     sp,
	})
	h.publish(evtSegmentCompleted, st.ID(), reason)
}

// dispatch transcribes the full accumulated buffer and applies whatever text
// survives deduplication. Callers hold the session's dispatch lock, so two
// dispatches never interleave their appends. The session lock itself is not
// held during the engine call; the query surface and other sessions stay
// responsive.
func (h *Handler) dispatch(ctx context.Context, st *session.State, send sendFunc) {
	in := st.BeginDispatch()
	if len(in.Audio) == 0 {
		return
	}
	metrics.Dispatches.Inc()

	res, err := h.cfg.Adapter.Transcribe(ctx, transcribe.Request{
		Engine:     in.Engine,
		Data:       in.Audio,
		Format:     in.Format,
		SampleRate: in.SampleRate,
		Channels:   in.Channels,
		Language:   in.Language,
		PriorText:  in.FullText,
	})
	if err != nil {
		// Routing and configuration problems; transient engine failures
		// come back as a nil result instead.
		metrics.Errors.WithLabelValues("ws", "engine_config").Inc()
		slog.Error("dispatch failed", "session_id", st.ID(), "error", err)
		send(Event{Type: evtProcessingError, SessionID: st.ID(), Error: err.Error()})
		return
	}
	if res == nil {
		send(Event{Type: evtSilence, SessionID: st.ID(), SegmentNumber: st.SegmentNumber()})
		return
	}

	newText := session.ExtractNew(in.FullText, res.Text)
	cleaned := session.Clean(newText, h.cfg.Tuning.Text.Stoplist)
	if cleaned == "" {
		if strings.TrimSpace(newText) == "" {
			metrics.DuplicateDispatches.Inc()
		} else {
			metrics.ArtifactsFiltered.Inc()
		}
		send(Event{Type: evtSilence, SessionID: st.ID(), SegmentNumber: st.SegmentNumber()})
		return
	}

	applied := st.ApplyTranscription(in.Gen, session.Transcription{
		Text:            res.Text,
		Language:        res.Language,
		Confidence:      res.Confidence,
		DurationSeconds: res.DurationSeconds,
	}, cleaned, time.Now())
	if !applied {
		return
	}

	id, name := st.Speaker()
	var sp *SpeakerInfo
	if id != "" {
		sp = &SpeakerInfo{SpeakerID: id, Name: name}
	}
	send(Event{
		Type:          evtTranscription,
		SessionID:     st.ID(),
		Text:          cleaned,
		Language:      st.Language(),
		Confidence:    res.Confidence,
		IsPartial:     true,
		SegmentNumber: st.SegmentNumber(),
		SpeakerInfo:   sp,
	})
}

// teardown is the single exit path for a session: explicit stop, disconnect,
// idle timeout and the sweeper all funnel here. The first caller wins. The
// final dispatch, seal and close run under the dispatch lock, so they cannot
// interleave with a dispatch still in flight on the read loop.
func (h *Handler) teardown(ctx context.Context, st *session.State, reason string, send sendFunc) bool {
	if !st.BeginClose() {
		return false
	}
	now := time.Now()

	st.LockDispatch()
	if st.Status() == session.StatusActive {
		if st.HasUndispatched() {
			h.dispatch(ctx, st, send)
		}
		h.seal(st, reason, reason, now, send)
	}
	fin := st.Close(now)
	st.UnlockDispatch()

	metrics.FinalBufferBytes.Observe(float64(fin.BufferedBytes))

	var werPtr *float64
	if ref := st.Reference(); ref != "" {
		wer := transcribe.WordErrorRate(ref, fin.FinalText)
		metrics.WEREstimate.Set(wer)
		slog.Info("reference evaluation", "session_id", st.ID(), "wer", wer)
		werPtr = &wer
	}

	finalText := fin.FinalText
	send(Event{
		Type:            evtSessionEnded,
		SessionID:       st.ID(),
		FinalText:       &finalText,
		TotalChunks:     fin.TotalChunks,
		DurationSeconds: fin.DurationSeconds,
		Segments:        fin.Segments,
		WordErrorRate:   werPtr,
	})

	h.cfg.Store.Remove(st.ID())
	slog.Info("session ended",
		"session_id", st.ID(), "reason", reason, "chunks", fin.TotalChunks,
		"segments", len(fin.Segments), "duration_seconds", fin.DurationSeconds,
		"transcript_chars", len(fin.FinalText))
	h.publish(evtSessionEnded, st.ID(), reason)

	h.archiveSession(st, fin, werPtr, now)
	h.analyzeSession(st, fin)
	return true
}

func (h *Handler) archiveSession(st *session.State, fin session.Final, wer *float64, endedAt time.Time) {
	segments := make([]archive.Segment, 0, len(fin.Segments))
	for _, seg := range fin.Segments {
		segments = append(segments, archive.Segment{
			SessionID: st.ID(),
			Number:    seg.Number,
			Speaker:   seg.Speaker,
			Text:      seg.Text,
			Reason:    seg.Reason,
			Language:  seg.Language,
			StartedAt: seg.StartedAt,
			EndedAt:   seg.EndedAt,
		})
	}
	ended := endedAt
	h.cfg.Archive.SessionEnded(archive.Session{
		ID:              st.ID(),
		Language:        st.Language(),
		Engine:          st.Engine(),
		StartedAt:       st.CreatedAt(),
		EndedAt:         &ended,
		DurationSeconds: fin.DurationSeconds,
		TotalChunks:     fin.TotalChunks,
		FinalText:       fin.FinalText,
		WordErrorRate:   wer,
	}, segments)
}

func (h *Handler) analyzeSession(st *session.State, fin session.Final) {
	seen := make(map[string]bool)
	var speakers []string
	for _, seg := range fin.Segments {
		if seg.Speaker != "" && !seen[seg.Speaker] {
			seen[seg.Speaker] = true
			speakers = append(speakers, seg.Speaker)
		}
	}
	h.cfg.Analyzer.Go(analyze.Request{
		SessionID:       st.ID(),
		Language:        st.Language(),
		FullText:        fin.FinalText,
		Speakers:        speakers,
		Segments:        len(fin.Segments),
		DurationSeconds: fin.DurationSeconds,
	})
}

// CloseIdle tears down sessions idle past the TTL. The read deadline on the
// socket normally fires first; this catches sessions whose connection
// goroutine is gone. Returns how many sessions were closed.
func (h *Handler) CloseIdle(now time.Time) int {
	idle := h.cfg.Store.SweepIdle(h.cfg.SessionTTL, now)
	closed := 0
	for _, st := range idle {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if h.teardown(ctx, st, session.ReasonIdle, discardEvents) {
			closed++
		}
		cancel()
	}
	return closed
}

func (h *Handler) publish(kind, sessionID, detail string) {
	if h.cfg.Monitor == nil {
		return
	}
	h.cfg.Monitor.Publish(MonitorEvent{Kind: kind, SessionID: sessionID, Detail: detail, At: time.Now()})
}

func newEventSender(conn *websocket.Conn) sendFunc {
	var mu sync.Mutex
	return func(ev Event) {
		mu.Lock()
		defer mu.Unlock()

		jsonBytes, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err = conn.WriteMessage(websocket.TextMessage, jsonBytes); err != nil {
			slog.Error("write event", "error", err)
		}
	}
}
