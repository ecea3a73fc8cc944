package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transcript_records (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	ts               TEXT NOT NULL,
	session_id       TEXT NOT NULL,
	turn             INTEGER NOT NULL,
	request_id       INTEGER NOT NULL,
	side             TEXT NOT NULL,
	model            TEXT NOT NULL,
	mode             TEXT NOT NULL,
	stage            TEXT NOT NULL,
	request_mode     TEXT NOT NULL,
	http_status      INTEGER NOT NULL,
	raw              TEXT NOT NULL,
	parsed           TEXT,
	dsl              TEXT,
	error            TEXT,
	retry            INTEGER NOT NULL,
	elapsed_ms       INTEGER NOT NULL,
	timeout_s        REAL NOT NULL,
	keep_alive_s     REAL NOT NULL,
	fallback_reason  TEXT,
	invalid_fields   TEXT,
	raw_json_text    TEXT,
	repeat_prevented INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS transcript_records_session ON transcript_records(session_id, turn);
`

// SQLite stores one row per record in a transcript_records table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and ensures the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create transcript db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create transcript schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Append(ctx context.Context, rec Record) error {
	rec.Stamp()
	parsed, err := nullableJSON(rec.Parsed != nil, rec.Parsed)
	if err != nil {
		return err
	}
	fields, err := nullableJSON(rec.InvalidFields != nil, rec.InvalidFields)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO transcript_records(
		ts, session_id, turn, request_id, side, model, mode, stage, request_mode, http_status,
		raw, parsed, dsl, error, retry, elapsed_ms, timeout_s, keep_alive_s, fallback_reason,
		invalid_fields, raw_json_text, repeat_prevented
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TS, rec.SessionID, rec.Turn, rec.RequestID, rec.Side, rec.Model, rec.Mode, rec.Stage,
		rec.RequestMode, rec.HTTPStatus, rec.Raw, parsed, nullText(rec.DSL), nullText(rec.Error), rec.Retry,
		rec.ElapsedMS, rec.TimeoutS, rec.KeepAliveS, nullText(rec.FallbackReason), fields, nullText(rec.RawJSONText),
		rec.RepeatPrevented,
	)
	if err != nil {
		return fmt.Errorf("insert transcript record: %w", err)
	}
	return nil
}

// Records returns the stored records for a session in insertion order.
// An empty sessionID returns every record.
func (s *SQLite) Records(ctx context.Context, sessionID string) ([]Record, error) {
	query := `SELECT ts, session_id, turn, request_id, side, model, mode, stage, request_mode,
		http_status, raw, parsed, dsl, error, retry, elapsed_ms, timeout_s, keep_alive_s,
		fallback_reason, invalid_fields, raw_json_text, repeat_prevented
		FROM transcript_records`
	var args []any
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcript records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec                     Record
			parsed, fields          sql.NullString
			line, errText           sql.NullString
			fallbackReason, rawJSON sql.NullString
		)
		if err := rows.Scan(&rec.TS, &rec.SessionID, &rec.Turn, &rec.RequestID, &rec.Side, &rec.Model,
			&rec.Mode, &rec.Stage, &rec.RequestMode, &rec.HTTPStatus, &rec.Raw, &parsed, &line,
			&errText, &rec.Retry, &rec.ElapsedMS, &rec.TimeoutS, &rec.KeepAliveS, &fallbackReason,
			&fields, &rawJSON, &rec.RepeatPrevented); err != nil {
			return nil, fmt.Errorf("scan transcript record: %w", err)
		}
		rec.DSL, rec.Error = line.String, errText.String
		rec.FallbackReason, rec.RawJSONText = fallbackReason.String, rawJSON.String
		if parsed.Valid {
			if err := json.Unmarshal([]byte(parsed.String), &rec.Parsed); err != nil {
				return nil, fmt.Errorf("decode parsed column: %w", err)
			}
		}
		if fields.Valid {
			if err := json.Unmarshal([]byte(fields.String), &rec.InvalidFields); err != nil {
				return nil, fmt.Errorf("decode invalid_fields column: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }

func nullText(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableJSON(present bool, v any) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode transcript column: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
