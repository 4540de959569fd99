// Package store provides the SQLite asset ledger for manga-cli.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robertmeta/manga-cli/model"
	_ "modernc.org/sqlite"
)

// Store manages the SQLite database.
type Store struct {
	db *sql.DB
}

// QueryOptions specifies how to query assets.
type QueryOptions struct {
	Limit     int
	Offset    int
	Kind      string
	Provider  string
	SinceTime *int64 // Unix timestamp
}

// New creates a new Store with the given database path.
// Use ":memory:" for an in-memory database (useful for testing).
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps pragmas and ":memory:" databases consistent.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}

	if err := store.applyPragmas(); err != nil {
		db.Close()
		return nil, err
	}

	// Initialize schema
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) applyPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
	}
	return nil
}

// createSchema creates the database tables and indexes.
func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		kind TEXT NOT NULL,
		key TEXT NOT NULL,
		path TEXT NOT NULL,
		source_url TEXT,
		width INTEGER DEFAULT 0,
		height INTEGER DEFAULT 0,
		stored_at INTEGER NOT NULL,
		UNIQUE(provider, kind, key)
	);

	CREATE INDEX IF NOT EXISTS idx_assets_stored_at ON assets(stored_at DESC);
	CREATE INDEX IF NOT EXISTS idx_assets_path ON assets(path);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordAsset inserts an asset or replaces the row with the same provider,
// kind and key. A zero StoredAt is set to now. The row ID is written back.
func (s *Store) RecordAsset(a *model.Asset) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid asset: %w", err)
	}
	if a.StoredAt.IsZero() {
		a.StoredAt = time.Now()
	}

	err := s.db.QueryRow(
		`INSERT INTO assets (provider, kind, key, path, source_url, width, height, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, kind, key) DO UPDATE SET
			path = excluded.path,
			source_url = excluded.source_url,
			width = excluded.width,
			height = excluded.height,
			stored_at = excluded.stored_at
		RETURNING id`,
		a.Provider, a.Kind, a.Key, a.Path, a.SourceURL, a.Width, a.Height, a.StoredAt.Unix(),
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to record asset: %w", err)
	}
	return nil
}

// ListAssets retrieves assets with optional filtering and pagination,
// newest first.
func (s *Store) ListAssets(opts QueryOptions) ([]*model.Asset, error) {
	where, args := opts.where()
	query := "SELECT id, provider, kind, key, path, source_url, width, height, stored_at FROM assets" + where

	// Order by stored date (newest first)
	query += " ORDER BY stored_at DESC, id DESC"

	// Apply pagination. SQLite needs a LIMIT before OFFSET.
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		query += " LIMIT -1"
	}

	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	assets := []*model.Asset{}
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}

	return assets, rows.Err()
}

// CountAssets counts assets matching the filters. Limit and Offset are
// ignored.
func (s *Store) CountAssets(opts QueryOptions) (int, error) {
	where, args := opts.where()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM assets"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count assets: %w", err)
	}
	return count, nil
}

// DeleteAssetsByPath removes the rows pointing at any of paths and returns
// how many were deleted.
func (s *Store) DeleteAssetsByPath(paths []string) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("DELETE FROM assets WHERE path = ?")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()

	var deleted int64
	for _, p := range paths {
		result, err := stmt.Exec(p)
		if err != nil {
			return 0, fmt.Errorf("failed to delete asset %s: %w", p, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count deleted rows: %w", err)
		}
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return deleted, nil
}

// where builds the shared filter clause.
func (opts QueryOptions) where() (string, []interface{}) {
	clause := " WHERE 1=1"
	args := []interface{}{}

	if opts.Kind != "" {
		clause += " AND kind = ?"
		args = append(args, opts.Kind)
	}
	if opts.Provider != "" {
		clause += " AND provider = ?"
		args = append(args, opts.Provider)
	}
	if opts.SinceTime != nil {
		clause += " AND stored_at >= ?"
		args = append(args, *opts.SinceTime)
	}

	return clause, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAsset(row rowScanner) (*model.Asset, error) {
	asset := &model.Asset{}
	var sourceURL sql.NullString
	var storedUnix int64

	err := row.Scan(&asset.ID, &asset.Provider, &asset.Kind, &asset.Key, &asset.Path,
		&sourceURL, &asset.Width, &asset.Height, &storedUnix)
	if err != nil {
		return nil, err
	}

	asset.SourceURL = sourceURL.String
	asset.StoredAt = unixToTime(storedUnix)
	return asset, nil
}

// Helper to convert Unix timestamp to time.Time
func unixToTime(unix int64) time.Time {
	return time.Unix(unix, 0)
}
