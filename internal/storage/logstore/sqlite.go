package logstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	bot_type TEXT NOT NULL,
	role TEXT NOT NULL,
	name TEXT NOT NULL,
	content TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_logs_conversation ON chat_logs(conversation_id);
`

// SQLiteTable stores the log in a local SQLite database with the same columns
// as the shared spreadsheet.
type SQLiteTable struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteTable, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening chat log database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring chat log database (%s): %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating chat log schema: %w", err)
	}

	return &SQLiteTable{db: db}, nil
}

// Close releases the database handle.
func (t *SQLiteTable) Close() error {
	return t.db.Close()
}

// Append implements Table.
func (t *SQLiteTable) Append(ctx context.Context, row []string) error {
	if len(row) != len(Columns) {
		return fmt.Errorf("chat log row has %d cells, want %d", len(row), len(Columns))
	}
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO chat_logs (timestamp, conversation_id, bot_type, role, name, content)
		VALUES (?, ?, ?, ?, ?, ?)
	`, row[0], row[1], row[2], row[3], row[4], row[5])
	if err != nil {
		return classifySQLiteError(fmt.Errorf("inserting chat log row: %w", err))
	}
	return nil
}

// Records implements Table.
func (t *SQLiteTable) Records(ctx context.Context) ([]Record, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT timestamp, conversation_id, bot_type, role, name, content
		FROM chat_logs ORDER BY id
	`)
	if err != nil {
		return nil, classifySQLiteError(fmt.Errorf("querying chat log: %w", err))
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		cells := make([]string, len(Columns))
		if err := rows.Scan(&cells[0], &cells[1], &cells[2], &cells[3], &cells[4], &cells[5]); err != nil {
			return nil, fmt.Errorf("scanning chat log row: %w", err)
		}
		records = append(records, recordFromRow(Columns, cells))
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLiteError(fmt.Errorf("iterating chat log: %w", err))
	}
	return records, nil
}

// classifySQLiteError marks lock contention as a retryable unavailability.
func classifySQLiteError(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return &StatusError{Code: http.StatusServiceUnavailable, Err: err}
		}
	}
	return err
}

var _ Table = (*SQLiteTable)(nil)
