package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"CodaChat/internal/session"

	_ "github.com/mattn/go-sqlite3"
)

// Archive keeps a local copy of finalized transcripts of saved sessions.
type Archive struct {
	db *sql.DB
}

// ArchivedSession summarizes one archived transcript.
type ArchivedSession struct {
	ID        string
	Title     string
	TurnCount int
	SavedAt   time.Time
}

// Open opens (and creates if needed) the SQLite archive at path.
func Open(path string) (*Archive, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; background saves queue behind each other.
	db.SetMaxOpenConns(1)

	a := &Archive{db: db}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) initSchema() error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT,
			saved_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT,
			position INTEGER,
			message_id TEXT,
			role TEXT,
			content TEXT,
			attachments TEXT,
			thoughts TEXT,
			token_usage INTEGER,
			execution_time REAL,
			decision_count INTEGER,
			feedback_score INTEGER,
			PRIMARY KEY (session_id, position),
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to init archive schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// SaveTranscript replaces the archived copy of a session.
func (a *Archive) SaveTranscript(ctx context.Context, sessionID, title string, turns []session.Turn) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (id, title, saved_at) VALUES (?, ?, ?)",
		sessionID, title, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM turns WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to clear turns: %w", err)
	}

	for i, t := range turns {
		attachments, err := json.Marshal(t.Attachments)
		if err != nil {
			return fmt.Errorf("failed to encode attachments: %w", err)
		}
		var score sql.NullInt64
		if t.Feedback != nil {
			score = sql.NullInt64{Int64: int64(t.Feedback.Score), Valid: true}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO turns (session_id, position, message_id, role, content, attachments, thoughts,
				token_usage, execution_time, decision_count, feedback_score)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, i, t.ID, string(t.Role), t.Content, string(attachments), t.Thoughts,
			nullInt(t.TokenUsage), nullFloat(t.ExecutionTime), nullInt(t.DecisionCount), score,
		)
		if err != nil {
			return fmt.Errorf("failed to save turn %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadTranscript returns the archived turns of a session in order.
func (a *Archive) LoadTranscript(ctx context.Context, sessionID string) ([]session.Turn, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT message_id, role, content, attachments, thoughts, token_usage, execution_time, decision_count, feedback_score
		FROM turns WHERE session_id = ? ORDER BY position`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()

	var turns []session.Turn
	for rows.Next() {
		var (
			t           session.Turn
			role        string
			attachments string
			tokens      sql.NullInt64
			execTime    sql.NullFloat64
			decisions   sql.NullInt64
			score       sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &role, &t.Content, &attachments, &t.Thoughts, &tokens, &execTime, &decisions, &score); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		t.Role = session.Role(role)
		if attachments != "" && attachments != "null" {
			if err := json.Unmarshal([]byte(attachments), &t.Attachments); err != nil {
				return nil, fmt.Errorf("failed to decode attachments: %w", err)
			}
		}
		if tokens.Valid {
			n := int(tokens.Int64)
			t.TokenUsage = &n
		}
		if execTime.Valid {
			f := execTime.Float64
			t.ExecutionTime = &f
		}
		if decisions.Valid {
			n := int(decisions.Int64)
			t.DecisionCount = &n
		}
		if score.Valid {
			t.Feedback = &session.Feedback{Score: int(score.Int64)}
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// List returns archived sessions, most recently saved first.
func (a *Archive) List(ctx context.Context) ([]ArchivedSession, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT s.id, s.title, s.saved_at, COUNT(t.position)
		FROM sessions s LEFT JOIN turns t ON t.session_id = s.id
		GROUP BY s.id ORDER BY s.saved_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []ArchivedSession
	for rows.Next() {
		var s ArchivedSession
		var title sql.NullString
		if err := rows.Scan(&s.ID, &title, &s.SavedAt, &s.TurnCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.Title = title.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a session and its turns.
func (a *Archive) Delete(ctx context.Context, sessionID string) error {
	if _, err := a.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
