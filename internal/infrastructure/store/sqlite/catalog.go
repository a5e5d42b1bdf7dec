package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/alexisbeaulieu97/assetq/internal/domain/pathdep"
)

const productColumns = "id, source_uuid, sub_id, name, platform, job_key"

// EnsureScanFolder registers a scan folder or refreshes its portable key.
func (s *Store) EnsureScanFolder(ctx context.Context, path, portableKey string) (pathdep.ScanFolder, error) {
	folder := pathdep.ScanFolder{Path: path, PortableKey: portableKey}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scan_folders (path, portable_key) VALUES (?, ?)
			 ON CONFLICT(path) DO UPDATE SET portable_key = excluded.portable_key`,
			path, portableKey,
		); err != nil {
			return errors.Wrapf(err, "registering scan folder %s", path)
		}
		return errors.WithStack(tx.QueryRowContext(ctx, "SELECT id FROM scan_folders WHERE path = ?", path).Scan(&folder.ID))
	})
	return folder, err
}

// ScanFolders lists every registered scan folder.
func (s *Store) ScanFolders(ctx context.Context) ([]pathdep.ScanFolder, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, path, portable_key FROM scan_folders ORDER BY id")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var out []pathdep.ScanFolder
	for rows.Next() {
		var f pathdep.ScanFolder
		if err := rows.Scan(&f.ID, &f.Path, &f.PortableKey); err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, f)
	}
	return out, errors.WithStack(rows.Err())
}

// UpsertSource records a source by UUID and returns it with its row id.
func (s *Store) UpsertSource(ctx context.Context, source pathdep.Source) (pathdep.Source, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sources (uuid, scan_folder_id, name) VALUES (?, ?, ?)
			 ON CONFLICT(uuid) DO UPDATE SET scan_folder_id = excluded.scan_folder_id, name = excluded.name`,
			source.UUID.String(), source.ScanFolderID, source.Name,
		); err != nil {
			return errors.Wrapf(err, "recording source %s", source.Name)
		}
		return errors.WithStack(tx.QueryRowContext(ctx, "SELECT id FROM sources WHERE uuid = ?", source.UUID.String()).Scan(&source.ID))
	})
	return source, err
}

// SourcesByName finds sources by exact case-insensitive name within one scan folder.
func (s *Store) SourcesByName(ctx context.Context, scanFolderID int64, name string) ([]pathdep.Source, error) {
	return s.querySources(ctx,
		"SELECT id, uuid, scan_folder_id, name FROM sources WHERE scan_folder_id = ? AND name = ? COLLATE NOCASE ORDER BY id",
		scanFolderID, name)
}

// SourcesLike finds sources whose name matches a '%' pattern in any scan folder.
func (s *Store) SourcesLike(ctx context.Context, pattern string) ([]pathdep.Source, error) {
	return s.querySources(ctx,
		`SELECT id, uuid, scan_folder_id, name FROM sources WHERE name LIKE ? ESCAPE '\' ORDER BY id`,
		likePattern(pattern))
}

func (s *Store) querySources(ctx context.Context, query string, args ...interface{}) ([]pathdep.Source, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var out []pathdep.Source
	for rows.Next() {
		var (
			src pathdep.Source
			id  string
		)
		if err := rows.Scan(&src.ID, &id, &src.ScanFolderID, &src.Name); err != nil {
			return nil, errors.WithStack(err)
		}
		if src.UUID, err = uuid.Parse(id); err != nil {
			return nil, errors.Wrapf(err, "source %d has malformed uuid", src.ID)
		}
		out = append(out, src)
	}
	return out, errors.WithStack(rows.Err())
}

// ReplaceProducts makes products the complete output of (source, platform,
// job key). Products that keep their sub id keep their row id, so their
// dependency rows survive; dropped products lose theirs.
func (s *Store) ReplaceProducts(ctx context.Context, sourceUUID uuid.UUID, platform, jobKey string, products []pathdep.Product) ([]pathdep.Product, error) {
	platform = strings.ToLower(platform)
	jobKey = strings.ToLower(jobKey)
	out := make([]pathdep.Product, 0, len(products))

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		keep := make([]interface{}, 0, len(products)+3)
		keep = append(keep, sourceUUID.String(), platform, jobKey)
		for _, p := range products {
			p.SourceUUID, p.Platform, p.JobKey = sourceUUID, platform, jobKey
			p.Name = strings.ToLower(p.Name)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO products (source_uuid, sub_id, name, platform, job_key) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(source_uuid, platform, job_key, sub_id) DO UPDATE SET name = excluded.name`,
				sourceUUID.String(), p.SubID, p.Name, platform, jobKey,
			); err != nil {
				return errors.Wrapf(err, "recording product %s", p.Name)
			}
			if err := tx.QueryRowContext(ctx,
				"SELECT id FROM products WHERE source_uuid = ? AND platform = ? AND job_key = ? AND sub_id = ?",
				sourceUUID.String(), platform, jobKey, p.SubID,
			).Scan(&p.ID); err != nil {
				return errors.WithStack(err)
			}
			keep = append(keep, p.SubID)
			out = append(out, p)
		}

		query := "DELETE FROM products WHERE source_uuid = ? AND platform = ? AND job_key = ?"
		if len(products) > 0 {
			query += " AND sub_id NOT IN (?" + strings.Repeat(", ?", len(products)-1) + ")"
		}
		_, err := tx.ExecContext(ctx, query, keep...)
		return errors.Wrap(err, "removing stale products")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProductsByName finds products by exact platform-prefixed name. An empty
// platform matches every platform.
func (s *Store) ProductsByName(ctx context.Context, name, platform string) ([]pathdep.Product, error) {
	return s.queryProducts(ctx,
		"SELECT "+productColumns+" FROM products WHERE name = ? COLLATE NOCASE AND (? = '' OR platform = ?) ORDER BY id",
		name, strings.ToLower(platform), strings.ToLower(platform))
}

// ProductsLike finds products whose platform-prefixed name matches a '%' pattern.
func (s *Store) ProductsLike(ctx context.Context, pattern, platform string) ([]pathdep.Product, error) {
	return s.queryProducts(ctx,
		"SELECT "+productColumns+` FROM products WHERE name LIKE ? ESCAPE '\' AND (? = '' OR platform = ?) ORDER BY id`,
		likePattern(pattern), strings.ToLower(platform), strings.ToLower(platform))
}

// ProductsBySource lists the products of a source, optionally for one platform.
func (s *Store) ProductsBySource(ctx context.Context, sourceUUID uuid.UUID, platform string) ([]pathdep.Product, error) {
	return s.queryProducts(ctx,
		"SELECT "+productColumns+" FROM products WHERE source_uuid = ? AND (? = '' OR platform = ?) ORDER BY id",
		sourceUUID.String(), strings.ToLower(platform), strings.ToLower(platform))
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...interface{}) ([]pathdep.Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var out []pathdep.Product
	for rows.Next() {
		var (
			p  pathdep.Product
			id string
		)
		if err := rows.Scan(&p.ID, &id, &p.SubID, &p.Name, &p.Platform, &p.JobKey); err != nil {
			return nil, errors.WithStack(err)
		}
		if p.SourceUUID, err = uuid.Parse(id); err != nil {
			return nil, errors.Wrapf(err, "product %d has malformed source uuid", p.ID)
		}
		out = append(out, p)
	}
	return out, errors.WithStack(rows.Err())
}
