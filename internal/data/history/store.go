package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	coreerrors "ossmatch/internal/core/errors"

	_ "modernc.org/sqlite"
)

const (
	driverName  = "sqlite"
	maxAttempts = 5
	// Fixed width so timestamps sort lexically.
	tsLayout = "2006-01-02T15:04:05.000000000Z"
)

type Store struct {
	path string
	db   *sql.DB
	mu   sync.Mutex
}

func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, coreerrors.New(coreerrors.CodeConfig, "history path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, coreerrors.AddContext(
			coreerrors.New(coreerrors.CodeConfig, "history path is a directory, expected file"),
			coreerrors.CtxPath, cleanPath,
		)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, coreerrors.AddContext(
				coreerrors.Wrap(err, coreerrors.CodeTransientIO, "create history directory"),
				coreerrors.CtxPath, dir,
			)
		}
	}

	// busy_timeout + WAL keep concurrent detect runs on one history file from
	// failing outright.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, coreerrors.AddContext(
			coreerrors.Wrap(err, coreerrors.CodeTransientIO, "open history database"),
			coreerrors.CtxPath, cleanPath,
		)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, coreerrors.AddContext(
			coreerrors.Wrap(err, coreerrors.CodeCorruptRecord, "ping history database"),
			coreerrors.CtxPath, cleanPath,
		)
	}
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, coreerrors.AddContext(
			coreerrors.Wrap(err, coreerrors.CodeCorruptRecord, "initialize history schema"),
			coreerrors.CtxPath, cleanPath,
		)
	}

	return &Store{path: cleanPath, db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// SaveScan stores scan and its components. Saving the same run id again
// replaces the earlier copy.
func (s *Store) SaveScan(ctx context.Context, scan Scan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(scan.RunID) == "" {
		return coreerrors.New(coreerrors.CodeValidationError, "scan run id must not be empty")
	}
	if scan.Timestamp.IsZero() {
		scan.Timestamp = time.Now().UTC()
	}

	return s.withRetry("save scan", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM scan_components WHERE run_id = ?`, scan.RunID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO scans (
  run_id, project_key, ts_utc, database_mode, threshold, files_scanned, functions_hashed, parse_failures
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
  project_key=excluded.project_key,
  ts_utc=excluded.ts_utc,
  database_mode=excluded.database_mode,
  threshold=excluded.threshold,
  files_scanned=excluded.files_scanned,
  functions_hashed=excluded.functions_hashed,
  parse_failures=excluded.parse_failures
`,
			scan.RunID,
			scan.ProjectKey,
			scan.Timestamp.UTC().Format(tsLayout),
			scan.DatabaseMode,
			scan.Threshold,
			scan.FilesScanned,
			scan.FunctionsHashed,
			scan.ParseFailures,
		); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO scan_components (run_id, component_id, version, score, matched_hash_count, total_functions)
VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range scan.Components {
			if _, err := stmt.ExecContext(ctx, scan.RunID, c.ComponentID, c.Version, c.Score, c.MatchedHashCount, c.TotalFunctions); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// LoadScans returns up to limit of the most recent scans for projectKey,
// oldest first. A limit of zero or less returns every scan.
func (s *Store) LoadScans(ctx context.Context, projectKey string, limit int) ([]Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
SELECT run_id, project_key, ts_utc, database_mode, threshold, files_scanned, functions_hashed, parse_failures
FROM scans
WHERE project_key = ?
ORDER BY ts_utc DESC, run_id DESC`
	args := []any{projectKey}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var scans []Scan
	err := s.withRetry("load scans", func() error {
		scans = scans[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				scan  Scan
				tsRaw string
			)
			if err := rows.Scan(
				&scan.RunID,
				&scan.ProjectKey,
				&tsRaw,
				&scan.DatabaseMode,
				&scan.Threshold,
				&scan.FilesScanned,
				&scan.FunctionsHashed,
				&scan.ParseFailures,
			); err != nil {
				return fmt.Errorf("scan history row: %w", err)
			}
			ts, err := time.Parse(tsLayout, tsRaw)
			if err != nil {
				return fmt.Errorf("parse scan timestamp %q: %w", tsRaw, err)
			}
			scan.Timestamp = ts.UTC()
			scans = append(scans, scan)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	for i := range scans {
		components, err := s.loadComponents(ctx, scans[i].RunID)
		if err != nil {
			return nil, err
		}
		scans[i].Components = components
	}

	for i, j := 0, len(scans)-1; i < j; i, j = i+1, j-1 {
		scans[i], scans[j] = scans[j], scans[i]
	}
	return scans, nil
}

// Latest returns the most recent scan for projectKey, if any.
func (s *Store) Latest(ctx context.Context, projectKey string) (Scan, bool, error) {
	scans, err := s.LoadScans(ctx, projectKey, 1)
	if err != nil || len(scans) == 0 {
		return Scan{}, false, err
	}
	return scans[0], true, nil
}

func (s *Store) loadComponents(ctx context.Context, runID string) ([]Component, error) {
	var out []Component
	err := s.withRetry("load scan components", func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, `
SELECT component_id, version, score, matched_hash_count, total_functions
FROM scan_components
WHERE run_id = ?
ORDER BY score DESC, component_id ASC`, runID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c Component
			if err := rows.Scan(&c.ComponentID, &c.Version, &c.Score, &c.MatchedHashCount, &c.TotalFunctions); err != nil {
				return fmt.Errorf("scan component row: %w", err)
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) withRetry(op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isLockError(err) || attempt == maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt*25) * time.Millisecond)
	}
	code := coreerrors.CodeInternal
	if isLockError(lastErr) {
		code = coreerrors.CodeTransientIO
	}
	return coreerrors.AddContext(coreerrors.Wrap(lastErr, code, op), coreerrors.CtxPath, s.path)
}

func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
}
