package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Edwinswanith/Multiaudio/pkg/core/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	mode           TEXT NOT NULL,
	memory_enabled INTEGER NOT NULL,
	summary        TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS utterances (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL REFERENCES sessions(id),
	sequence_num    INTEGER NOT NULL,
	status          TEXT NOT NULL,
	raw_transcript  TEXT NOT NULL DEFAULT '',
	cleaned_meaning TEXT NOT NULL DEFAULT '',
	prompt_ready    TEXT NOT NULL DEFAULT '',
	risk_level      TEXT NOT NULL DEFAULT '',
	detected_langs  TEXT NOT NULL DEFAULT '[]',
	entities        TEXT NOT NULL DEFAULT '[]',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	UNIQUE(session_id, sequence_num)
);

CREATE INDEX IF NOT EXISTS idx_utterances_session_seq
	ON utterances(session_id, sequence_num);
`

// SQLiteStore persists sessions and utterances in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the database at path with WAL
// journaling and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess types.Session) error {
	memEnabled := 0
	if sess.MemoryEnabled {
		memEnabled = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, mode, memory_enabled, summary, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sess.ID, string(sess.Mode), memEnabled, sess.Summary, sess.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SaveSummary replaces the session summary.
func (s *SQLiteStore) SaveSummary(ctx context.Context, sessionID, summary string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET summary = ? WHERE id = ?
	`, summary, sessionID)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Append inserts a new utterance row. The caller owns sequence assignment;
// the UNIQUE(session_id, sequence_num) constraint rejects out-of-order
// duplicates.
func (s *SQLiteStore) Append(ctx context.Context, u types.Utterance) error {
	langs, err := json.Marshal(langsOrEmpty(u.DetectedLangs))
	if err != nil {
		return fmt.Errorf("marshal detected_langs: %w", err)
	}
	entities, err := json.Marshal(entitiesOrEmpty(u.Entities))
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO utterances (
			id, session_id, sequence_num, status,
			raw_transcript, cleaned_meaning, prompt_ready, risk_level,
			detected_langs, entities, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.SessionID, u.SequenceNum, string(u.Status),
		u.RawTranscript, u.CleanedMeaning, u.PromptReady, string(u.RiskLevel),
		string(langs), string(entities), u.CreatedAt.UnixMilli(), u.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert utterance: %w", err)
	}
	return nil
}

// UpdateStatus applies a status transition plus any result fields.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, utteranceID string, update StatusUpdate) error {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(update.Status), time.Now().UnixMilli()}

	if update.RawTranscript != nil {
		sets = append(sets, "raw_transcript = ?")
		args = append(args, *update.RawTranscript)
	}
	if update.CleanedMeaning != nil {
		sets = append(sets, "cleaned_meaning = ?")
		args = append(args, *update.CleanedMeaning)
	}
	if update.PromptReady != nil {
		sets = append(sets, "prompt_ready = ?")
		args = append(args, *update.PromptReady)
	}
	if update.RiskLevel != nil {
		sets = append(sets, "risk_level = ?")
		args = append(args, string(*update.RiskLevel))
	}
	if update.DetectedLangs != nil {
		langs, err := json.Marshal(update.DetectedLangs)
		if err != nil {
			return fmt.Errorf("marshal detected_langs: %w", err)
		}
		sets = append(sets, "detected_langs = ?")
		args = append(args, string(langs))
	}
	if update.Entities != nil {
		entities, err := json.Marshal(update.Entities)
		if err != nil {
			return fmt.Errorf("marshal entities: %w", err)
		}
		sets = append(sets, "entities = ?")
		args = append(args, string(entities))
	}

	args = append(args, utteranceID)
	res, err := s.db.ExecContext(ctx,
		"UPDATE utterances SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update utterance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReady returns up to limit Ready utterances with sequenceNum < beforeSeq
// in ascending sequence order.
func (s *SQLiteStore) ListReady(ctx context.Context, sessionID string, beforeSeq int64, limit int) ([]types.Utterance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sequence_num, status,
		       raw_transcript, cleaned_meaning, prompt_ready, risk_level,
		       detected_langs, entities, created_at, updated_at
		FROM utterances
		WHERE session_id = ? AND status = ? AND sequence_num < ?
		ORDER BY sequence_num DESC
		LIMIT ?
	`, sessionID, string(types.StatusReady), beforeSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query ready utterances: %w", err)
	}
	defer rows.Close()

	var out []types.Utterance
	for rows.Next() {
		var u types.Utterance
		var status, risk, langsJSON, entitiesJSON string
		var createdAt, updatedAt int64
		if err := rows.Scan(&u.ID, &u.SessionID, &u.SequenceNum, &status,
			&u.RawTranscript, &u.CleanedMeaning, &u.PromptReady, &risk,
			&langsJSON, &entitiesJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan utterance: %w", err)
		}
		u.Status = types.UtteranceStatus(status)
		u.RiskLevel = types.RiskLevel(risk)
		if err := json.Unmarshal([]byte(langsJSON), &u.DetectedLangs); err != nil {
			return nil, fmt.Errorf("decode detected_langs: %w", err)
		}
		if err := json.Unmarshal([]byte(entitiesJSON), &u.Entities); err != nil {
			return nil, fmt.Errorf("decode entities: %w", err)
		}
		u.CreatedAt = time.UnixMilli(createdAt)
		u.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest-first; callers want spoken order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func langsOrEmpty(langs []string) []string {
	if langs == nil {
		return []string{}
	}
	return langs
}

func entitiesOrEmpty(entities []types.Entity) []types.Entity {
	if entities == nil {
		return []types.Entity{}
	}
	return entities
}
