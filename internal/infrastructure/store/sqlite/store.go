// Package sqlite is the persistent store for scan folders, sources, products
// and product path dependencies.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/alexisbeaulieu97/assetq/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS scan_folders (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  path TEXT NOT NULL UNIQUE,
  portable_key TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS sources (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  uuid TEXT NOT NULL UNIQUE,
  scan_folder_id INTEGER NOT NULL REFERENCES scan_folders(id),
  name TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sources_name ON sources (scan_folder_id, name COLLATE NOCASE);
CREATE TABLE IF NOT EXISTS products (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  source_uuid TEXT NOT NULL,
  sub_id INTEGER NOT NULL,
  name TEXT NOT NULL,
  platform TEXT NOT NULL,
  job_key TEXT NOT NULL,
  UNIQUE (source_uuid, platform, job_key, sub_id)
);
CREATE INDEX IF NOT EXISTS idx_products_name ON products (name COLLATE NOCASE);
CREATE TABLE IF NOT EXISTS product_dependencies (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  product_id INTEGER NOT NULL REFERENCES products(id) ON DELETE CASCADE,
  dep_source_uuid TEXT NOT NULL,
  dep_sub_id INTEGER NOT NULL DEFAULT 0,
  platform TEXT NOT NULL,
  unresolved_path TEXT NOT NULL DEFAULT '',
  type INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_product_dependencies_unique
  ON product_dependencies (product_id, dep_source_uuid, dep_sub_id, platform, unresolved_path);
CREATE INDEX IF NOT EXISTS idx_product_dependencies_unresolved
  ON product_dependencies (unresolved_path) WHERE unresolved_path != '';
`

// Store implements ports.DependencyStore and ports.CatalogStore on SQLite.
type Store struct {
	db *sql.DB
	// SQLite allows one writer at a time; writes are serialized here to avoid SQLITE_BUSY.
	lock sync.Mutex
}

var (
	_ ports.DependencyStore = (*Store)(nil)
	_ ports.CatalogStore    = (*Store)(nil)
)

// Open creates the database file and its directory if needed, and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating database directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, errors.Wrapf(err, "opening sqlite database %s", path)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "enabling WAL journal")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "applying schema")
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return errors.WithStack(s.db.Close())
}

// likePattern escapes LIKE's single-character wildcard so that only the
// pattern token matches arbitrary text.
func likePattern(pattern string) string {
	pattern = strings.ReplaceAll(pattern, `\`, `\\`)
	return strings.ReplaceAll(pattern, "_", `\_`)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.WithStack(tx.Commit())
}
