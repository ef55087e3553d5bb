package archive

import (
	"log/slog"
	"sync"
)

type writeMsg struct {
	kind     string // "session", "summary"
	session  Session
	segments []Segment
	summary  Summary
}

// Writer queues archive writes behind a buffered channel so session teardown
// never blocks on the database. All methods are nil-safe (no-op on nil
// receiver), which lets callers skip the enabled/disabled check. Teardown
// can still be finishing sessions while the server shuts the writer down;
// writes arriving after Close are dropped.
type Writer struct {
	store *Store
	ch    chan writeMsg
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewWriter starts the background writer. Must call Close when done.
func NewWriter(store *Store) *Writer {
	w := &Writer{
		store: store,
		ch:    make(chan writeMsg, 64),
		done:  make(chan struct{}),
	}
	go w.drain()
	return w
}

func (w *Writer) drain() {
	defer close(w.done)
	for msg := range w.ch {
		w.handle(msg)
	}
}

func (w *Writer) handle(m writeMsg) {
	var err error
	switch m.kind {
	case "session":
		err = w.store.SaveSession(m.session, m.segments)
	case "summary":
		err = w.store.SaveSummary(m.summary)
	default:
		return
	}
	if err != nil {
		slog.Warn("archive write failed", "kind", m.kind, "error", err)
	}
}

// SessionEnded records a finished session and its sealed segments.
func (w *Writer) SessionEnded(sess Session, segments []Segment) {
	if w == nil {
		return
	}
	w.enqueue(writeMsg{kind: "session", session: sess, segments: segments})
}

// SummaryReady records a post-session summary.
func (w *Writer) SummaryReady(sum Summary) {
	if w == nil {
		return
	}
	w.enqueue(writeMsg{kind: "summary", summary: sum})
}

// enqueue hands a message to the drain goroutine, dropping it when the
// writer has already been closed.
func (w *Writer) enqueue(m writeMsg) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		slog.Warn("archive write after close dropped", "kind", m.kind)
		return
	}
	w.ch <- m
}

// Close drains pending writes and shuts down the background goroutine.
// Idempotent; every call waits for the drain to finish.
func (w *Writer) Close() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
	w.mu.Unlock()
	<-w.done
}
