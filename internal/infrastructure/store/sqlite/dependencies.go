package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/alexisbeaulieu97/assetq/internal/domain/pathdep"
)

const dependencyColumns = "id, product_id, dep_source_uuid, dep_sub_id, platform, unresolved_path, type"

const insertDependency = `INSERT INTO product_dependencies
  (product_id, dep_source_uuid, dep_sub_id, platform, unresolved_path, type)
  VALUES (?, ?, ?, ?, ?, ?)
  ON CONFLICT DO NOTHING`

// UnresolvedDependenciesMatching returns non-exclusion placeholder rows whose
// stored path, read as a '*' pattern, matches any candidate name.
func (s *Store) UnresolvedDependenciesMatching(ctx context.Context, candidates []string) ([]pathdep.ProductDependency, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	clauses := make([]string, 0, len(candidates))
	args := make([]interface{}, 0, len(candidates))
	for _, candidate := range candidates {
		clauses = append(clauses, `? LIKE REPLACE(REPLACE(REPLACE(unresolved_path, '\', '\\'), '_', '\_'), '*', '%') ESCAPE '\'`)
		args = append(args, strings.ToLower(candidate))
	}
	query := "SELECT " + dependencyColumns + ` FROM product_dependencies
		WHERE unresolved_path != '' AND substr(unresolved_path, 1, 1) != ':'
		AND (` + strings.Join(clauses, " OR ") + ") ORDER BY id"
	return s.queryDependencies(ctx, query, args...)
}

// ExclusionDependencies returns every placeholder row carrying the exclusion marker.
func (s *Store) ExclusionDependencies(ctx context.Context) ([]pathdep.ProductDependency, error) {
	return s.queryDependencies(ctx,
		"SELECT "+dependencyColumns+" FROM product_dependencies WHERE substr(unresolved_path, 1, 1) = ':' ORDER BY id")
}

// GetProductDependencies returns resolved and placeholder rows of a product.
func (s *Store) GetProductDependencies(ctx context.Context, productID int64) ([]pathdep.ProductDependency, error) {
	return s.queryDependencies(ctx,
		"SELECT "+dependencyColumns+" FROM product_dependencies WHERE product_id = ? ORDER BY id", productID)
}

// InsertDependencies adds rows, skipping any that already exist.
func (s *Store) InsertDependencies(ctx context.Context, rows []pathdep.ProductDependency) error {
	if len(rows) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := insertDependencies(ctx, tx, rows)
		return err
	})
}

// SetProductDependencies replaces every dependency row of a product.
func (s *Store) SetProductDependencies(ctx context.Context, productID int64, rows []pathdep.ProductDependency) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM product_dependencies WHERE product_id = ?", productID); err != nil {
			return errors.Wrapf(err, "clearing dependencies of product %d", productID)
		}
		for i := range rows {
			rows[i].ProductID = productID
		}
		_, err := insertDependencies(ctx, tx, rows)
		return err
	})
}

// ApplyResolutions fills in placeholder rows and inserts new resolved rows
// in one transaction, returning only the edges that did not exist before. An
// update that would duplicate an existing resolved row replaces it and is not
// returned; neither is an insert the unique index skipped.
func (s *Store) ApplyResolutions(ctx context.Context, updates, inserts []pathdep.ProductDependency) ([]pathdep.ProductDependency, error) {
	if len(updates) == 0 && len(inserts) == 0 {
		return nil, nil
	}
	var written []pathdep.ProductDependency
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		written = written[:0]
		for _, row := range updates {
			var existing int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM product_dependencies
				 WHERE product_id = ? AND dep_source_uuid = ? AND dep_sub_id = ? AND platform = ?
				   AND unresolved_path = '' AND id != ?`,
				row.ProductID, row.DependencySourceUUID.String(), row.DependencySubID, strings.ToLower(row.Platform), row.ID,
			).Scan(&existing); err != nil {
				return errors.Wrapf(err, "checking dependency row %d", row.ID)
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE OR REPLACE product_dependencies
				 SET dep_source_uuid = ?, dep_sub_id = ?, unresolved_path = ''
				 WHERE id = ?`,
				row.DependencySourceUUID.String(), row.DependencySubID, row.ID,
			)
			if err != nil {
				return errors.Wrapf(err, "resolving dependency row %d", row.ID)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return errors.WithStack(err)
			}
			if n > 0 && existing == 0 {
				row.UnresolvedPath = ""
				written = append(written, row)
			}
		}
		inserted, err := insertDependencies(ctx, tx, inserts)
		if err != nil {
			return err
		}
		written = append(written, inserted...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

// insertDependencies returns the rows the unique index did not skip, with
// their new ids.
func insertDependencies(ctx context.Context, tx *sql.Tx, rows []pathdep.ProductDependency) ([]pathdep.ProductDependency, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	stmt, err := tx.PrepareContext(ctx, insertDependency)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer stmt.Close()

	var inserted []pathdep.ProductDependency
	for _, row := range rows {
		res, err := stmt.ExecContext(ctx,
			row.ProductID,
			row.DependencySourceUUID.String(),
			row.DependencySubID,
			strings.ToLower(row.Platform),
			row.UnresolvedPath,
			int(row.Type),
		)
		if err != nil {
			return nil, errors.Wrapf(err, "inserting dependency of product %d", row.ProductID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if n == 0 {
			continue
		}
		if id, err := res.LastInsertId(); err == nil {
			row.ID = id
		}
		inserted = append(inserted, row)
	}
	return inserted, nil
}

func (s *Store) queryDependencies(ctx context.Context, query string, args ...interface{}) ([]pathdep.ProductDependency, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var out []pathdep.ProductDependency
	for rows.Next() {
		var (
			d   pathdep.ProductDependency
			id  string
			typ int
		)
		if err := rows.Scan(&d.ID, &d.ProductID, &id, &d.DependencySubID, &d.Platform, &d.UnresolvedPath, &typ); err != nil {
			return nil, errors.WithStack(err)
		}
		if d.DependencySourceUUID, err = uuid.Parse(id); err != nil {
			return nil, errors.Wrapf(err, "dependency %d has malformed uuid", d.ID)
		}
		d.Type = pathdep.Type(typ)
		out = append(out, d)
	}
	return out, errors.WithStack(rows.Err())
}
