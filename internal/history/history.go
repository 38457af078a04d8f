// Package history records past evaluation runs in a SQLite database
// under the wizard config directory.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one evaluation run.
type Record struct {
	ID         int64
	Host       string
	ConfigPath string
	StartedAt  time.Time
	FinishedAt time.Time
	Success    bool
	Message    string
}

// Store persists run records.
type Store struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  host TEXT NOT NULL,
  config_path TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  finished_at INTEGER,
  success INTEGER,
  message TEXT
)`

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records the start of a run and returns its id.
func (s *Store) Append(host, configPath string, startedAt time.Time) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO runs (host, config_path, started_at) VALUES (?, ?, ?)`,
		host, configPath, startedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}
	return res.LastInsertId()
}

// Finish stamps a run with its outcome.
func (s *Store) Finish(id int64, finishedAt time.Time, success bool, message string) error {
	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, success = ?, message = ? WHERE id = ?`,
		finishedAt.Unix(), boolToInt(success), message, id,
	)
	if err != nil {
		return fmt.Errorf("updating run %d: %w", id, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT id, host, config_path, started_at, finished_at, success, message
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec      Record
			started  int64
			finished sql.NullInt64
			success  sql.NullInt64
			message  sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Host, &rec.ConfigPath, &started, &finished, &success, &message); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		rec.StartedAt = time.Unix(started, 0)
		if finished.Valid {
			rec.FinishedAt = time.Unix(finished.Int64, 0)
		}
		rec.Success = success.Valid && success.Int64 != 0
		rec.Message = message.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
