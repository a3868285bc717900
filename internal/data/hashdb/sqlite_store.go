package hashdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	coreerrors "ossmatch/internal/core/errors"
	"ossmatch/internal/engine/fingerprint"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

// FileName returns the conventional database file name for a mode.
func FileName(mode string) string {
	return "components-" + mode + ".db"
}

// Save writes db to path. The file is built under a temporary name in the
// same directory and renamed into place, so an interrupted save leaves any
// previous database untouched.
func Save(ctx context.Context, db *Database, path string) (err error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return coreerrors.New(coreerrors.CodeValidationError, "database path must not be empty")
	}
	dir := filepath.Dir(cleanPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeTransientIO, fmt.Sprintf("create database directory %q", dir))
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(cleanPath)+".tmp-*")
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeTransientIO, "create temporary database")
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(OFF)&_pragma=synchronous(OFF)&_pragma=foreign_keys(ON)", tmpPath)
	sqlDB, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeTransientIO, "open temporary database")
	}
	sqlDB.SetMaxOpenConns(1)

	if err = writeDatabase(ctx, sqlDB, db); err != nil {
		_ = sqlDB.Close()
		return coreerrors.AddContext(err, coreerrors.CtxPath, cleanPath)
	}
	if err = sqlDB.Close(); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeTransientIO, "close temporary database")
	}
	if err = os.Rename(tmpPath, cleanPath); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeTransientIO, "move database into place")
	}
	return nil
}

func writeDatabase(ctx context.Context, sqlDB *sql.DB, db *Database) error {
	if err := createSchema(sqlDB); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeInternal, "create schema")
	}

	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeTransientIO, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	meta := map[string]string{
		"mode":           db.meta.Mode,
		"schema_version": strconv.Itoa(schemaVersion),
		"run_id":         db.meta.RunID,
		"built_at":       db.meta.BuiltAt.UTC().Format(time.RFC3339),
		"entries":        strconv.Itoa(db.EntryCount()),
		"hashes":         strconv.Itoa(db.HashCount()),
	}
	for key, value := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES(?, ?)`, key, value); err != nil {
			return coreerrors.Wrap(err, coreerrors.CodeTransientIO, "insert meta")
		}
	}

	entryStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries(id, component_id, version, repo_url, total_functions, released_at) VALUES(?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeTransientIO, "prepare entry insert")
	}
	defer entryStmt.Close()
	for _, e := range db.entries {
		var released any
		if !e.ReleasedAt.IsZero() {
			released = e.ReleasedAt.Unix()
		}
		if _, err := entryStmt.ExecContext(ctx, int64(e.ID), e.ComponentID, e.Version, e.RepoURL, e.TotalFunctions, released); err != nil {
			return coreerrors.Wrap(err, coreerrors.CodeTransientIO, "insert entry")
		}
	}

	hashStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO hashes(hash, entry_id) VALUES(?, ?)`)
	if err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeTransientIO, "prepare hash insert")
	}
	defer hashStmt.Close()
	written := 0
	for h, ids := range db.index {
		for _, id := range ids {
			if _, err := hashStmt.ExecContext(ctx, h[:], int64(id)); err != nil {
				return coreerrors.Wrap(err, coreerrors.CodeTransientIO, "insert hash")
			}
		}
		written++
		if written%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeTransientIO, "commit database")
	}
	return nil
}

// Open loads a database file fully into memory.
func Open(ctx context.Context, path string) (*Database, error) {
	cleanPath := strings.TrimSpace(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, coreerrors.AddContext(
				coreerrors.Wrap(err, coreerrors.CodeNotFound, "database not found"),
				coreerrors.CtxPath, cleanPath,
			)
		}
		return nil, coreerrors.Wrap(err, coreerrors.CodeTransientIO, "stat database")
	}
	if info.IsDir() {
		return nil, coreerrors.New(coreerrors.CodeValidationError, fmt.Sprintf("database path %q is a directory", cleanPath))
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", cleanPath)
	sqlDB, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeTransientIO, "open database")
	}
	defer sqlDB.Close()
	sqlDB.SetMaxOpenConns(1)

	db, err := readDatabase(ctx, sqlDB)
	if err != nil {
		return nil, coreerrors.AddContext(err, coreerrors.CtxPath, cleanPath)
	}
	return db, nil
}

func readDatabase(ctx context.Context, sqlDB *sql.DB) (*Database, error) {
	meta, err := readMeta(ctx, sqlDB)
	if err != nil {
		return nil, err
	}
	b := NewBuilder(meta)

	rows, err := sqlDB.QueryContext(ctx,
		`SELECT id, component_id, version, repo_url, total_functions, released_at FROM entries ORDER BY id`)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeCorruptRecord, "query entries")
	}
	for rows.Next() {
		var (
			id       int64
			e        Entry
			released sql.NullInt64
		)
		if err := rows.Scan(&id, &e.ComponentID, &e.Version, &e.RepoURL, &e.TotalFunctions, &released); err != nil {
			rows.Close()
			return nil, coreerrors.Wrap(err, coreerrors.CodeCorruptRecord, "scan entry")
		}
		if released.Valid {
			e.ReleasedAt = time.Unix(released.Int64, 0).UTC()
		}
		if assigned := b.AddEntry(e); int64(assigned) != id {
			rows.Close()
			return nil, coreerrors.New(coreerrors.CodeCorruptRecord, fmt.Sprintf("entry ids are not dense: expected %d, found %d", assigned, id))
		}
	}
	if err := rows.Close(); err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeCorruptRecord, "read entries")
	}
	entryCount := int64(len(b.entries))

	rows, err = sqlDB.QueryContext(ctx, `SELECT hash, entry_id FROM hashes ORDER BY hash, entry_id`)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeCorruptRecord, "query hashes")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			raw     []byte
			entryID int64
		)
		if err := rows.Scan(&raw, &entryID); err != nil {
			return nil, coreerrors.Wrap(err, coreerrors.CodeCorruptRecord, "scan hash")
		}
		h, err := fingerprint.HashFromBytes(raw)
		if err != nil {
			return nil, coreerrors.Wrap(err, coreerrors.CodeCorruptRecord, "decode hash")
		}
		if entryID < 0 || entryID >= entryCount {
			return nil, coreerrors.New(coreerrors.CodeCorruptRecord, fmt.Sprintf("hash references unknown entry %d", entryID))
		}
		b.AddHash(EntryID(entryID), h)
	}
	if err := rows.Err(); err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeCorruptRecord, "read hashes")
	}
	return b.Build(), nil
}

func readMeta(ctx context.Context, sqlDB *sql.DB) (Meta, error) {
	rows, err := sqlDB.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return Meta{}, coreerrors.Wrap(err, coreerrors.CodeCorruptRecord, "query meta")
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Meta{}, coreerrors.Wrap(err, coreerrors.CodeCorruptRecord, "scan meta")
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return Meta{}, coreerrors.Wrap(err, coreerrors.CodeCorruptRecord, "read meta")
	}

	if v := values["schema_version"]; v != strconv.Itoa(schemaVersion) {
		return Meta{}, coreerrors.New(coreerrors.CodeCorruptRecord, fmt.Sprintf("unsupported database schema version %q", v))
	}
	meta := Meta{Mode: values["mode"], RunID: values["run_id"]}
	if meta.Mode != ModeFull && meta.Mode != ModeLite {
		return Meta{}, coreerrors.New(coreerrors.CodeCorruptRecord, fmt.Sprintf("unknown database mode %q", meta.Mode))
	}
	if built, err := time.Parse(time.RFC3339, values["built_at"]); err == nil {
		meta.BuiltAt = built
	}
	return meta, nil
}
