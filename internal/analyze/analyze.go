// Package analyze produces post-session summaries of finished transcripts.
// Analysis runs in the background after a session closes; it never blocks
// teardown, and failures are logged rather than surfaced to the client.
package analyze

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Branis333/brainink-speech/internal/archive"
	"github.com/Branis333/brainink-speech/internal/metrics"
)

// Request carries everything the summarizer needs about a finished session.
type Request struct {
	SessionID       string
	Language        string
	FullText        string
	Speakers        []string
	Segments        int
	DurationSeconds float64
}

// Summary is the structured result of a session analysis.
type Summary struct {
	Abstract    string   `json:"abstract"`
	KeyPoints   []string `json:"key_points"`
	ActionItems []string `json:"action_items"`
}

// Client produces a summary from a finished transcript.
type Client interface {
	Summarize(ctx context.Context, req Request) (*Summary, error)
}

// Analyzer runs summaries in the background and forwards results to the
// archive. A nil Analyzer is a no-op, which is how analysis is disabled.
type Analyzer struct {
	client  Client
	engine  string
	writer  *archive.Writer
	timeout time.Duration
	wg      sync.WaitGroup
}

// New creates an analyzer around the given backend. The writer may be nil
// when archiving is disabled; summaries still land in the log.
func New(client Client, engine string, writer *archive.Writer, timeout time.Duration) *Analyzer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Analyzer{client: client, engine: engine, writer: writer, timeout: timeout}
}

// Go schedules an analysis of a finished session. Sessions that produced no
// text are skipped.
func (a *Analyzer) Go(req Request) {
	if a == nil || strings.TrimSpace(req.FullText) == "" {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(req)
	}()
}

// Wait blocks until all scheduled analyses finish. Called on shutdown before
// the archive writer closes.
func (a *Analyzer) Wait() {
	if a == nil {
		return
	}
	a.wg.Wait()
}

func (a *Analyzer) run(req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	start := time.Now()
	sum, err := a.client.Summarize(ctx, req)
	if err != nil {
		metrics.Errors.WithLabelValues("analyze", "summarize").Inc()
		slog.Warn("session analysis failed",
			"session_id", req.SessionID, "engine", a.engine, "error", err)
		return
	}
	metrics.StageDuration.WithLabelValues("analyze").Observe(time.Since(start).Seconds())

	slog.Info("session analysis complete",
		"session_id", req.SessionID,
		"engine", a.engine,
		"abstract", sum.Abstract,
		"key_points", len(sum.KeyPoints),
		"action_items", len(sum.ActionItems),
	)
	a.writer.SummaryReady(archive.Summary{
		SessionID:   req.SessionID,
		Engine:      a.engine,
		Abstract:    sum.Abstract,
		KeyPoints:   sum.KeyPoints,
		ActionItems: sum.ActionItems,
		CreatedAt:   time.Now().UTC(),
	})
}

// parseSummary extracts the structured summary from a model reply. Models
// occasionally wrap the JSON in code fences or prose; anything that cannot
// be parsed falls back to the raw text as the abstract.
func parseSummary(text string) Summary {
	trimmed := strings.TrimSpace(text)

	body := trimmed
	if start := strings.IndexByte(body, '{'); start >= 0 {
		if end := strings.LastIndexByte(body, '}'); end > start {
			body = body[start : end+1]
		}
	}

	var sum Summary
	if err := json.Unmarshal([]byte(body), &sum); err == nil && sum.Abstract != "" {
		return sum
	}
	return Summary{Abstract: trimmed}
}
