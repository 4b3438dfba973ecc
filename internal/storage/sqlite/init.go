package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the downloads table if it
// doesn't exist. Timestamps are stored as unix milliseconds so retry gating
// math never depends on string parsing.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id TEXT PRIMARY KEY,
		uri TEXT NOT NULL,
		destination INTEGER NOT NULL DEFAULT 0,
		status INTEGER NOT NULL DEFAULT 190,
		bytes_so_far INTEGER NOT NULL DEFAULT 0,
		total_bytes INTEGER NOT NULL DEFAULT -1,
		etag TEXT NOT NULL DEFAULT '',
		next_attempt_not_before INTEGER NOT NULL DEFAULT 0,
		file_path TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT 0
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
