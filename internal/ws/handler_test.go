package ws

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Branis333/brainink-speech/internal/archive"
	"github.com/Branis333/brainink-speech/internal/config"
	"github.com/Branis333/brainink-speech/internal/session"
	"github.com/Branis333/brainink-speech/internal/transcribe"
)

// halfSecondPCM is the byte size of 0.5s of 16 kHz mono pcm16. Three of
// these cross the dispatch byte floor; two do not.
const halfSecondPCM = 16000

// scriptEngine returns its scripted texts one dispatch at a time, then nil.
// Each scripted text plays the full-buffer transcription at that point.
type scriptEngine struct {
	mu    sync.Mutex
	texts []string
	next  int
	calls int
}

func (e *scriptEngine) Transcribe(context.Context, []float32, string, string) (*transcribe.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.next >= len(e.texts) {
		return nil, nil
	}
	text := e.texts[e.next]
	e.next++
	if text == "" {
		return nil, nil
	}
	return &transcribe.Result{Text: text, Language: "en", Confidence: 0.9}, nil
}

func (e *scriptEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func newTestServer(t *testing.T, eng transcribe.Engine, mutate func(*HandlerConfig)) (*Handler, *httptest.Server) {
	t.Helper()
	tuning := config.Default()
	cfg := HandlerConfig{
		Adapter: transcribe.NewAdapter(transcribe.AdapterConfig{
			Backends:        map[string]transcribe.Engine{"stub": eng},
			Fallback:        "stub",
			MinAudioSeconds: tuning.Dispatch.MinAudioSeconds,
			PriorTextChars:  tuning.Dispatch.PriorTextChars,
		}),
		Store:              session.NewStore(),
		Tuning:             tuning,
		DefaultEngine:      "stub",
		SupportedLanguages: []string{"en", "es", "fr"},
		SessionTTL:         time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h := NewHandler(cfg)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/transcribe" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func startSession(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, string) {
	t.Helper()
	conn := dial(t, srv, query)
	started := expectEvent(t, conn, evtSessionStarted)
	if started.SessionID == "" {
		t.Fatal("session_started carries no session_id")
	}
	return conn, started.SessionID
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func expectEvent(t *testing.T, conn *websocket.Conn, typ string) Event {
	t.Helper()
	ev := readEvent(t, conn)
	if ev.Type != typ {
		t.Fatalf("event type = %q, want %q (event: %+v)", ev.Type, typ, ev)
	}
	return ev
}

func collectUntil(t *testing.T, conn *websocket.Conn, typ string) []Event {
	t.Helper()
	var events []Event
	for i := 0; i < 32; i++ {
		ev := readEvent(t, conn)
		events = append(events, ev)
		if ev.Type == typ {
			return events
		}
	}
	t.Fatalf("no %s event in %d reads", typ, len(events))
	return nil
}

func sendChunk(t *testing.T, conn *websocket.Conn, size int, speaker string) {
	t.Helper()
	msg := ClientMessage{
		Type:        msgAudioChunk,
		AudioData:   base64.StdEncoding.EncodeToString(make([]byte, size)),
		AudioFormat: "audio/pcm",
		SampleRate:  16000,
	}
	if speaker != "" {
		msg.SpeakerInfo = &SpeakerInfo{SpeakerID: speaker}
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("send chunk: %v", err)
	}
}

func sendStop(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.WriteJSON(ClientMessage{Type: msgStopRecording}); err != nil {
		t.Fatalf("send stop: %v", err)
	}
}

func TestSessionStartAndPong(t *testing.T) {
	_, srv := newTestServer(t, &scriptEngine{}, nil)
	conn := dial(t, srv, "")

	started := expectEvent(t, conn, evtSessionStarted)
	if started.SessionID == "" {
		t.Error("missing session_id")
	}
	if started.Engine != "stub" {
		t.Errorf("engine = %q, want stub", started.Engine)
	}
	if len(started.SupportedLanguages) == 0 {
		t.Error("missing supported_languages")
	}

	if err := conn.WriteJSON(ClientMessage{Type: msgPing}); err != nil {
		t.Fatalf("ping: %v", err)
	}
	expectEvent(t, conn, evtPong)

	sendStop(t, conn)
	expectEvent(t, conn, evtSessionEnded)
}

func TestSilentSessionLifecycle(t *testing.T) {
	eng := &scriptEngine{} // nothing scripted: every dispatch comes back empty
	_, srv := newTestServer(t, eng, nil)
	conn, _ := startSession(t, srv, "")

	for i := 1; i <= 5; i++ {
		sendChunk(t, conn, halfSecondPCM, "")
		ev := readEvent(t, conn)
		if i == 3 {
			if ev.Type != evtSilence {
				t.Fatalf("chunk 3 response = %q, want silence on the cadence dispatch", ev.Type)
			}
			continue
		}
		if ev.Type != evtChunkReceived {
			t.Fatalf("chunk %d response = %q, want chunk_received", i, ev.Type)
		}
		if ev.ChunksProcessed != i {
			t.Errorf("chunk %d: chunks_processed = %d", i, ev.ChunksProcessed)
		}
	}

	sendStop(t, conn)
	expectEvent(t, conn, evtSilence) // chunks 4 and 5 still undispatched
	seg := expectEvent(t, conn, evtSegmentCompleted)
	if seg.Reason != session.ReasonStop {
		t.Errorf("seal reason = %q, want %q", seg.Reason, session.ReasonStop)
	}
	if seg.Text != "" {
		t.Errorf("segment text = %q, want empty", seg.Text)
	}
	ended := expectEvent(t, conn, evtSessionEnded)
	if ended.FinalText == nil || *ended.FinalText != "" {
		t.Errorf("final_text = %v, want an explicit empty string", ended.FinalText)
	}
	if ended.TotalChunks != 5 {
		t.Errorf("total_chunks = %d, want 5", ended.TotalChunks)
	}
	if len(ended.Segments) != 1 {
		t.Errorf("segments = %d, want 1", len(ended.Segments))
	}
	if got := eng.callCount(); got != 2 {
		t.Errorf("engine calls = %d, want 2", got)
	}
}

func TestTranscriptGrowsAcrossDispatches(t *testing.T) {
	eng := &scriptEngine{texts: []string{"Hello", "Hello world", "Hello world today"}}
	_, srv := newTestServer(t, eng, nil)
	conn, _ := startSession(t, srv, "")

	// Each dispatch re-transcribes the whole buffer; only the unseen tail
	// may reach the client.
	wantNew := map[int]string{3: "Hello", 6: "world", 9: "today"}
	for i := 1; i <= 9; i++ {
		sendChunk(t, conn, halfSecondPCM, "")
		ev := readEvent(t, conn)
		want, dispatching := wantNew[i]
		if !dispatching {
			if ev.Type != evtChunkReceived {
				t.Fatalf("chunk %d response = %q, want chunk_received", i, ev.Type)
			}
			continue
		}
		if ev.Type != evtTranscription {
			t.Fatalf("chunk %d response = %q, want transcription", i, ev.Type)
		}
		if ev.Text != want {
			t.Errorf("chunk %d text = %q, want %q", i, ev.Text, want)
		}
		if !ev.IsPartial {
			t.Errorf("chunk %d transcription not marked partial", i)
		}
	}

	sendStop(t, conn)
	seg := expectEvent(t, conn, evtSegmentCompleted)
	if seg.Text != "Hello world today" {
		t.Errorf("segment text = %q, want the accumulated transcript", seg.Text)
	}
	ended := expectEvent(t, conn, evtSessionEnded)
	if ended.FinalText == nil || *ended.FinalText != "Hello world today" {
		t.Errorf("final_text = %v, want %q", ended.FinalText, "Hello world today")
	}
	if got := eng.callCount(); got != 3 {
		t.Errorf("engine calls = %d, want 3", got)
	}
}

func TestSpeakerChangeSealsSegment(t *testing.T) {
	eng := &scriptEngine{texts: []string{"hi from alice"}}
	_, srv := newTestServer(t, eng, nil)
	conn, _ := startSession(t, srv, "")

	for i := 1; i <= 3; i++ {
		sendChunk(t, conn, halfSecondPCM, "alice")
		readEvent(t, conn)
	}

	// The seal lands before the chunk that revealed the new speaker is
	// acknowledged.
	sendChunk(t, conn, halfSecondPCM, "bob")
	seg := expectEvent(t, conn, evtSegmentCompleted)
	if seg.Reason != session.ReasonSpeakerChange {
		t.Errorf("reason = %q, want %q", seg.Reason, session.ReasonSpeakerChange)
	}
	if seg.SegmentNumber != 1 {
		t.Errorf("segment_number = %d, want 1", seg.SegmentNumber)
	}
	if seg.SpeakerInfo == nil || seg.SpeakerInfo.SpeakerID != "alice" {
		t.Errorf("speaker_info = %+v, want alice", seg.SpeakerInfo)
	}
	if seg.Text != "hi from alice" {
		t.Errorf("segment text = %q", seg.Text)
	}
	ack := expectEvent(t, conn, evtChunkReceived)
	if ack.ChunksProcessed != 4 {
		t.Errorf("chunks_processed = %d, want 4", ack.ChunksProcessed)
	}

	sendStop(t, conn)
	expectEvent(t, conn, evtSilence) // bob's chunk still undispatched
	final := expectEvent(t, conn, evtSegmentCompleted)
	if final.SegmentNumber != 2 {
		t.Errorf("final segment_number = %d, want 2", final.SegmentNumber)
	}
	if final.SpeakerInfo == nil || final.SpeakerInfo.SpeakerID != "bob" {
		t.Errorf("final speaker_info = %+v, want bob", final.SpeakerInfo)
	}
	ended := expectEvent(t, conn, evtSessionEnded)
	if len(ended.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(ended.Segments))
	}
	if ended.Segments[0].Speaker != "alice" || ended.Segments[1].Speaker != "bob" {
		t.Errorf("segment speakers = %q, %q", ended.Segments[0].Speaker, ended.Segments[1].Speaker)
	}
}

func TestByteThresholdDispatch(t *testing.T) {
	eng := &scriptEngine{texts: []string{"plenty of audio"}}
	_, srv := newTestServer(t, eng, func(cfg *HandlerConfig) {
		cfg.Tuning.Dispatch.EveryChunks = 1000 // leave only the byte floor
	})
	conn, _ := startSession(t, srv, "")

	sendChunk(t, conn, halfSecondPCM, "")
	expectEvent(t, conn, evtChunkReceived)
	sendChunk(t, conn, halfSecondPCM, "")
	expectEvent(t, conn, evtChunkReceived)
	sendChunk(t, conn, halfSecondPCM, "") // 48000 new bytes cross the floor
	ev := expectEvent(t, conn, evtTranscription)
	if ev.Text != "plenty of audio" {
		t.Errorf("text = %q", ev.Text)
	}

	sendStop(t, conn)
	collectUntil(t, conn, evtSessionEnded)
	if got := eng.callCount(); got != 1 {
		t.Errorf("engine calls = %d, want 1", got)
	}
}

func TestMalformedInputKeepsSessionOpen(t *testing.T) {
	_, srv := newTestServer(t, &scriptEngine{}, nil)
	conn, _ := startSession(t, srv, "")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := expectEvent(t, conn, evtProcessingError)
	if ev.Error == "" {
		t.Error("processing_error carries no error text")
	}

	if err := conn.WriteJSON(ClientMessage{Type: msgAudioChunk, AudioData: "%%%not-base64%%%"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectEvent(t, conn, evtProcessingError)

	if err := conn.WriteJSON(ClientMessage{Type: "teleport"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectEvent(t, conn, evtProcessingError)

	eightBit := ClientMessage{
		Type:          msgAudioChunk,
		AudioData:     base64.StdEncoding.EncodeToString(make([]byte, halfSecondPCM)),
		BitsPerSample: 8,
	}
	if err := conn.WriteJSON(eightBit); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectEvent(t, conn, evtProcessingError)

	if err := conn.WriteJSON(ClientMessage{Type: msgPing}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectEvent(t, conn, evtPong)

	sendStop(t, conn)
	ended := expectEvent(t, conn, evtSessionEnded)
	if ended.TotalChunks != 0 {
		t.Errorf("total_chunks = %d, want 0 after only rejected input", ended.TotalChunks)
	}
}

func TestUndersizedChunksOnlyCount(t *testing.T) {
	eng := &scriptEngine{texts: []string{"never"}}
	_, srv := newTestServer(t, eng, nil)
	conn, _ := startSession(t, srv, "")

	for i := 1; i <= 3; i++ {
		sendChunk(t, conn, 10, "")
		ack := expectEvent(t, conn, evtChunkReceived)
		if ack.ChunksProcessed != i {
			t.Errorf("chunk %d: chunks_processed = %d", i, ack.ChunksProcessed)
		}
		if ack.BufferedBytes != 0 {
			t.Errorf("chunk %d: buffered_bytes = %d, want 0", i, ack.BufferedBytes)
		}
	}

	sendStop(t, conn)
	ended := expectEvent(t, conn, evtSessionEnded)
	if ended.TotalChunks != 3 {
		t.Errorf("total_chunks = %d, want 3", ended.TotalChunks)
	}
	if len(ended.Segments) != 0 {
		t.Errorf("segments = %d, want none", len(ended.Segments))
	}
	if got := eng.callCount(); got != 0 {
		t.Errorf("engine calls = %d, want 0", got)
	}
}

func TestEngineRoutingErrorKeepsSessionOpen(t *testing.T) {
	_, srv := newTestServer(t, &scriptEngine{}, func(cfg *HandlerConfig) {
		cfg.Adapter = transcribe.NewAdapter(transcribe.AdapterConfig{
			Backends: map[string]transcribe.Engine{},
			Fallback: "missing",
		})
	})
	conn, _ := startSession(t, srv, "")

	sendChunk(t, conn, halfSecondPCM, "")
	expectEvent(t, conn, evtChunkReceived)
	sendChunk(t, conn, halfSecondPCM, "")
	expectEvent(t, conn, evtChunkReceived)
	sendChunk(t, conn, halfSecondPCM, "")
	ev := expectEvent(t, conn, evtProcessingError)
	if !strings.Contains(ev.Error, "no backend") {
		t.Errorf("error = %q, want a backend routing failure", ev.Error)
	}

	sendChunk(t, conn, halfSecondPCM, "")
	expectEvent(t, conn, evtChunkReceived) // session survived the failed dispatch

	sendStop(t, conn)
	collectUntil(t, conn, evtSessionEnded)
}

func TestConcurrencyLimit(t *testing.T) {
	_, srv := newTestServer(t, &scriptEngine{}, func(cfg *HandlerConfig) {
		cfg.MaxConcurrent = 1
	})
	startSession(t, srv, "")

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/transcribe"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("second session admitted past the concurrency limit")
	}
	if resp == nil {
		t.Fatal("no handshake response")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestRejectsUnknownFormat(t *testing.T) {
	_, srv := newTestServer(t, &scriptEngine{}, nil)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/transcribe?format=mp9"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("dial succeeded with an unsupported format")
	}
	if resp == nil {
		t.Fatal("no handshake response")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestReferenceWordErrorRate(t *testing.T) {
	eng := &scriptEngine{texts: []string{"hello world"}}
	_, srv := newTestServer(t, eng, nil)
	q := "?" + url.Values{"reference": {"hello world"}}.Encode()
	conn, _ := startSession(t, srv, q)

	for i := 0; i < 3; i++ {
		sendChunk(t, conn, halfSecondPCM, "")
		readEvent(t, conn)
	}
	sendStop(t, conn)
	events := collectUntil(t, conn, evtSessionEnded)
	ended := events[len(events)-1]
	if ended.WordErrorRate == nil {
		t.Fatal("session_ended carries no word_error_rate despite a reference")
	}
	if *ended.WordErrorRate != 0 {
		t.Errorf("wer = %g, want 0 for an exact match", *ended.WordErrorRate)
	}
}

func TestSessionArchivedOnClose(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	writer := archive.NewWriter(store)
	t.Cleanup(writer.Close)

	eng := &scriptEngine{texts: []string{"for the record"}}
	_, srv := newTestServer(t, eng, func(cfg *HandlerConfig) {
		cfg.Archive = writer
	})
	conn, id := startSession(t, srv, "")

	for i := 0; i < 3; i++ {
		sendChunk(t, conn, halfSecondPCM, "")
		readEvent(t, conn)
	}
	sendStop(t, conn)
	collectUntil(t, conn, evtSessionEnded)

	// The archive write is asynchronous; poll until it lands.
	deadline := time.Now().Add(2 * time.Second)
	for {
		sess, segments, err := store.GetSession(id)
		if err == nil {
			if sess.FinalText != "for the record" {
				t.Errorf("archived final_text = %q", sess.FinalText)
			}
			if sess.TotalChunks != 3 {
				t.Errorf("archived total_chunks = %d, want 3", sess.TotalChunks)
			}
			if sess.EndedAt == nil {
				t.Error("archived session has no ended_at")
			}
			if len(segments) != 1 || segments[0].Reason != session.ReasonStop {
				t.Errorf("archived segments = %+v, want one stop_recording segment", segments)
			}
			return
		}
		if !errors.Is(err, sql.ErrNoRows) {
			t.Fatalf("get archived session: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("session never reached the archive")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCloseIdleSweepsAbandonedSessions(t *testing.T) {
	h, srv := newTestServer(t, &scriptEngine{}, nil)
	startSession(t, srv, "")

	if n := h.CloseIdle(time.Now()); n != 0 {
		t.Errorf("closed %d sessions before the TTL", n)
	}
	if n := h.CloseIdle(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Errorf("closed %d sessions past the TTL, want 1", n)
	}
	if got := h.cfg.Store.Len(); got != 0 {
		t.Errorf("store still holds %d sessions", got)
	}
	if n := h.CloseIdle(time.Now().Add(2 * time.Minute)); n != 0 {
		t.Errorf("second sweep closed %d sessions", n)
	}
}

func TestIdleSessionTimesOut(t *testing.T) {
	h, srv := newTestServer(t, &scriptEngine{}, func(cfg *HandlerConfig) {
		cfg.SessionTTL = 100 * time.Millisecond
	})
	conn, _ := startSession(t, srv, "")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the server to drop the idle connection")
	}
	deadline := time.Now().Add(time.Second)
	for h.cfg.Store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle session never removed from the store")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
