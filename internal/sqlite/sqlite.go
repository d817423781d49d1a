// Package sqlite persists parse results so a later process can start warm
// and reparse only files whose fingerprint moved.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/phobologic/docscope/internal/cache"
	"github.com/phobologic/docscope/internal/model"
)

// schemaVersion is bumped whenever the payload encoding or the tables change. Stores with
// another version are discarded on open; they only hold derived data.
const schemaVersion = 2

const (
	kindDoc   = "doc"
	kindError = "error"
)

var _ cache.Store = (*DB)(nil)

// DB is a SQLite-backed result store.
type DB struct {
	db   *sql.DB
	path string
}

// NewDB creates a DB for path. Use ":memory:" for an in-memory database.
func NewDB(path string) *DB {
	return &DB{path: path}
}

// Open opens the database connection and creates the schema if needed.
func (db *DB) Open() error {
	conn, err := sql.Open("sqlite3", db.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if db.path != ":memory:" {
		if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
			conn.Close()
			return fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	db.db = conn
	if err := db.migrate(); err != nil {
		conn.Close()
		db.db = nil
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

// Path returns the database path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) migrate() error {
	var version int
	if err := db.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version != 0 && version != schemaVersion {
		for _, table := range []string{"units", "meta"} {
			if _, err := db.db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return err
			}
		}
	}

	schema := []string{`
		CREATE TABLE IF NOT EXISTS units (
			path TEXT PRIMARY KEY,
			mod_time INTEGER NOT NULL,
			size INTEGER NOT NULL,
			hash INTEGER NOT NULL DEFAULT 0,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`, `
		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.db.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := db.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

// UseProfile binds the store to profile, an opaque digest of the settings
// the results are produced with. Rows saved under any other profile, or
// under none, are discarded. It returns the number of rows dropped.
func (db *DB) UseProfile(ctx context.Context, profile string) (dropped int, err error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var stored string
	err = tx.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'profile'").Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = nil
	case err != nil:
		return 0, fmt.Errorf("reading profile: %w", err)
	case stored == profile:
		return 0, tx.Commit()
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM units")
	if err != nil {
		return 0, fmt.Errorf("discarding results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if _, err = tx.ExecContext(ctx, "INSERT OR REPLACE INTO meta (key, value) VALUES ('profile', ?)", profile); err != nil {
		return 0, fmt.Errorf("writing profile: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

// SaveResults upserts results in one transaction.
func (db *DB) SaveResults(ctx context.Context, results []model.ParseResult) (err error) {
	if len(results) == 0 {
		return nil
	}
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO units (path, mod_time, size, hash, kind, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			mod_time = excluded.mod_time,
			size = excluded.size,
			hash = excluded.hash,
			kind = excluded.kind,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range results {
		kind, payload, err := encode(r)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", r.Path, err)
		}
		fp := r.Fingerprint
		if _, err := stmt.ExecContext(ctx, r.Path, fp.ModTime, fp.Size, int64(fp.Hash), kind, payload, now); err != nil {
			return fmt.Errorf("saving %s: %w", r.Path, err)
		}
	}
	return tx.Commit()
}

// Delete removes the rows of paths.
func (db *DB) Delete(ctx context.Context, paths []string) (err error) {
	if len(paths) == 0 {
		return nil
	}
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, p := range paths {
		if _, err := tx.ExecContext(ctx, "DELETE FROM units WHERE path = ?", p); err != nil {
			return fmt.Errorf("deleting %s: %w", p, err)
		}
	}
	return tx.Commit()
}

// Load returns every stored result keyed by path.
func (db *DB) Load(ctx context.Context) (map[string]model.ParseResult, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT path, mod_time, size, hash, kind, payload
		FROM units
		ORDER BY path
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]model.ParseResult{}
	for rows.Next() {
		var (
			r       model.ParseResult
			hash    int64
			kind    string
			payload string
		)
		if err := rows.Scan(&r.Path, &r.Fingerprint.ModTime, &r.Fingerprint.Size, &hash, &kind, &payload); err != nil {
			return nil, err
		}
		r.Fingerprint.Hash = uint64(hash)
		if err := decode(&r, kind, payload); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", r.Path, err)
		}
		out[r.Path] = r
	}
	return out, rows.Err()
}

// Count returns the number of stored rows.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM units").Scan(&n)
	return n, err
}

func encode(r model.ParseResult) (kind, payload string, err error) {
	var b []byte
	switch {
	case r.Err != nil:
		kind = kindError
		b, err = json.Marshal(r.Err)
	case r.Doc != nil:
		kind = kindDoc
		b, err = json.Marshal(r.Doc)
	default:
		return "", "", errors.New("result has neither model nor error")
	}
	return kind, string(b), err
}

func decode(r *model.ParseResult, kind, payload string) error {
	switch kind {
	case kindError:
		r.Err = &model.ErrorRecord{}
		return json.Unmarshal([]byte(payload), r.Err)
	case kindDoc:
		r.Doc = &model.DocModel{}
		return json.Unmarshal([]byte(payload), r.Doc)
	}
	return fmt.Errorf("unknown kind %q", kind)
}
