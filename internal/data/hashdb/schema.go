package hashdb

import (
	"database/sql"
	"fmt"
)

const schemaVersion = 1

func createSchema(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("hash db is nil")
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
  id INTEGER PRIMARY KEY,
  component_id TEXT NOT NULL,
  version TEXT NOT NULL DEFAULT '',
  repo_url TEXT NOT NULL DEFAULT '',
  total_functions INTEGER NOT NULL,
  released_at INTEGER,
  UNIQUE(component_id, version)
);
CREATE TABLE IF NOT EXISTS hashes (
  hash BLOB NOT NULL,
  entry_id INTEGER NOT NULL REFERENCES entries(id),
  PRIMARY KEY (hash, entry_id)
) WITHOUT ROWID;
`)
	if err != nil {
		return fmt.Errorf("create hash db schema: %w", err)
	}
	return nil
}
