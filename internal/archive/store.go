package archive

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	_ "modernc.org/sqlite"             // registers "sqlite" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const maxSessions = 500

// Store persists finished sessions. DSNs beginning with postgres:// or
// postgresql:// go through the pgx driver; anything else is treated as a
// SQLite file path.
type Store struct {
	db     *sql.DB
	sqlite bool
}

// Open connects to the archive database and applies pending migrations.
func Open(dsn string) (*Store, error) {
	driver := "pgx"
	sqlite := false
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		driver = "sqlite"
		sqlite = true
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive open: %w", err)
	}
	if sqlite {
		// modernc/sqlite returns SQLITE_BUSY under concurrent writers;
		// a single connection serializes access instead.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive ping: %w", err)
	}
	s := &Store{db: db, sqlite: sqlite}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := s.db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := s.db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := s.db.Exec(s.rb(`INSERT INTO schema_version (version) VALUES ($1)`), i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var placeholderPattern = regexp.MustCompile(`\$\d+`)

// rb rewrites $N placeholders to ? for the SQLite driver. Every query lists
// its placeholders in positional order without repeats, so the rewrite is a
// plain substitution.
func (s *Store) rb(query string) string {
	if !s.sqlite {
		return query
	}
	return placeholderPattern.ReplaceAllString(query, "?")
}

// Timestamps are stored as unix seconds so the same schema works on both
// drivers. Millisecond precision is kept through the float round trip.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

func fromUnixSeconds(f float64) time.Time {
	return time.UnixMilli(int64(math.Round(f * 1000))).UTC()
}

// SaveSession inserts a finished session with its segments and prunes the
// oldest sessions beyond the retention cap.
func (s *Store) SaveSession(sess Session, segments []Segment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var endedAt any
	if sess.EndedAt != nil {
		endedAt = unixSeconds(*sess.EndedAt)
	}
	_, err = tx.Exec(s.rb(`INSERT INTO sessions
		(id, language, engine, started_at, ended_at, duration_seconds, total_chunks, final_text, word_error_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`),
		sess.ID, sess.Language, sess.Engine, unixSeconds(sess.StartedAt), endedAt,
		sess.DurationSeconds, sess.TotalChunks, sess.FinalText, sess.WordErrorRate,
	)
	if err != nil {
		return err
	}
	for _, seg := range segments {
		_, err = tx.Exec(s.rb(`INSERT INTO segments
			(session_id, number, speaker, text, reason, language, started_at, ended_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`),
			sess.ID, seg.Number, seg.Speaker, seg.Text, seg.Reason, seg.Language,
			unixSeconds(seg.StartedAt), unixSeconds(seg.EndedAt),
		)
		if err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	return s.prune()
}

func (s *Store) prune() error {
	_, err := s.db.Exec(s.rb(
		`DELETE FROM sessions WHERE id NOT IN (SELECT id FROM sessions ORDER BY started_at DESC LIMIT $1)`),
		maxSessions,
	)
	if err != nil {
		return err
	}
	if _, err = s.db.Exec(`DELETE FROM segments WHERE session_id NOT IN (SELECT id FROM sessions)`); err != nil {
		return err
	}
	_, err = s.db.Exec(`DELETE FROM summaries WHERE session_id NOT IN (SELECT id FROM sessions)`)
	return err
}

// SaveSummary upserts the post-session summary for a session.
func (s *Store) SaveSummary(sum Summary) error {
	_, err := s.db.Exec(s.rb(`INSERT INTO summaries
		(session_id, engine, abstract, key_points, action_items, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
			engine = excluded.engine,
			abstract = excluded.abstract,
			key_points = excluded.key_points,
			action_items = excluded.action_items,
			created_at = excluded.created_at`),
		sum.SessionID, sum.Engine, sum.Abstract,
		strings.Join(sum.KeyPoints, "\n"), strings.Join(sum.ActionItems, "\n"),
		unixSeconds(sum.CreatedAt),
	)
	return err
}

// ListSessions returns archived sessions newest first, with segment counts.
func (s *Store) ListSessions(limit, offset int) ([]Session, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(s.rb(`
		SELECT s.id, s.language, s.engine, s.started_at, s.ended_at, s.duration_seconds,
		       s.total_chunks, s.final_text, s.word_error_rate, COUNT(g.number) AS segment_count
		FROM sessions s
		LEFT JOIN segments g ON g.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
		LIMIT $1 OFFSET $2
	`), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, scanErr := scanSession(rows.Scan, true)
		if scanErr != nil {
			return nil, 0, scanErr
		}
		sessions = append(sessions, sess)
	}
	return sessions, total, rows.Err()
}

// GetSession returns a single archived session with its segments. Missing
// sessions surface as sql.ErrNoRows.
func (s *Store) GetSession(id string) (*Session, []Segment, error) {
	row := s.db.QueryRow(s.rb(`
		SELECT id, language, engine, started_at, ended_at, duration_seconds,
		       total_chunks, final_text, word_error_rate
		FROM sessions WHERE id = $1`), id)
	sess, err := scanSession(row.Scan, false)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query(s.rb(`
		SELECT session_id, number, speaker, text, reason, language, started_at, ended_at
		FROM segments WHERE session_id = $1 ORDER BY number ASC`), id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var seg Segment
		var startedAt, endedAt float64
		if err = rows.Scan(&seg.SessionID, &seg.Number, &seg.Speaker, &seg.Text,
			&seg.Reason, &seg.Language, &startedAt, &endedAt); err != nil {
			return nil, nil, err
		}
		seg.StartedAt = fromUnixSeconds(startedAt)
		seg.EndedAt = fromUnixSeconds(endedAt)
		segments = append(segments, seg)
	}
	sess.SegmentCount = len(segments)
	return &sess, segments, rows.Err()
}

// GetSummary returns the stored summary for a session, or sql.ErrNoRows.
func (s *Store) GetSummary(id string) (*Summary, error) {
	var sum Summary
	var keyPoints, actionItems string
	var createdAt float64
	err := s.db.QueryRow(s.rb(`
		SELECT session_id, engine, abstract, key_points, action_items, created_at
		FROM summaries WHERE session_id = $1`), id).
		Scan(&sum.SessionID, &sum.Engine, &sum.Abstract, &keyPoints, &actionItems, &createdAt)
	if err != nil {
		return nil, err
	}
	sum.KeyPoints = splitLines(keyPoints)
	sum.ActionItems = splitLines(actionItems)
	sum.CreatedAt = fromUnixSeconds(createdAt)
	return &sum, nil
}

func scanSession(scan func(...any) error, withCount bool) (Session, error) {
	var sess Session
	var endedAt, wer sql.NullFloat64
	var startedAt float64
	dest := []any{&sess.ID, &sess.Language, &sess.Engine, &startedAt, &endedAt,
		&sess.DurationSeconds, &sess.TotalChunks, &sess.FinalText, &wer}
	if withCount {
		dest = append(dest, &sess.SegmentCount)
	}
	if err := scan(dest...); err != nil {
		return Session{}, err
	}
	sess.StartedAt = fromUnixSeconds(startedAt)
	if endedAt.Valid {
		t := fromUnixSeconds(endedAt.Float64)
		sess.EndedAt = &t
	}
	if wer.Valid {
		v := wer.Float64
		sess.WordErrorRate = &v
	}
	return sess, nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
