package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/assetq/internal/domain/pathdep"
)

// DependencyStore is the persistent store surface the path dependency resolver
// needs. Name comparisons are case-insensitive; patterns use '%' as wildcard.
type DependencyStore interface {
	ScanFolders(ctx context.Context) ([]pathdep.ScanFolder, error)
	SourcesByName(ctx context.Context, scanFolderID int64, name string) ([]pathdep.Source, error)
	SourcesLike(ctx context.Context, pattern string) ([]pathdep.Source, error)
	ProductsByName(ctx context.Context, name, platform string) ([]pathdep.Product, error)
	ProductsLike(ctx context.Context, pattern, platform string) ([]pathdep.Product, error)
	// ProductsBySource returns products of a source; an empty platform returns every platform.
	ProductsBySource(ctx context.Context, sourceUUID uuid.UUID, platform string) ([]pathdep.Product, error)
	// UnresolvedDependenciesMatching returns placeholder rows whose stored path,
	// read as a pattern, matches any candidate. Exclusion rows are not returned.
	UnresolvedDependenciesMatching(ctx context.Context, candidates []string) ([]pathdep.ProductDependency, error)
	// ExclusionDependencies returns every placeholder row carrying the exclusion marker.
	ExclusionDependencies(ctx context.Context) ([]pathdep.ProductDependency, error)
	// InsertDependencies adds rows, ignoring any that already exist.
	InsertDependencies(ctx context.Context, rows []pathdep.ProductDependency) error
	// ApplyResolutions updates existing placeholder rows in place and inserts new
	// resolved rows in one transaction. It returns the edges actually written;
	// edges that already existed are left out.
	ApplyResolutions(ctx context.Context, updates, inserts []pathdep.ProductDependency) ([]pathdep.ProductDependency, error)
	GetProductDependencies(ctx context.Context, productID int64) ([]pathdep.ProductDependency, error)
}

// CatalogStore records sources and products of completed jobs.
type CatalogStore interface {
	EnsureScanFolder(ctx context.Context, path, portableKey string) (pathdep.ScanFolder, error)
	UpsertSource(ctx context.Context, source pathdep.Source) (pathdep.Source, error)
	// ReplaceProducts swaps the products of (source, platform, job key) and
	// returns them with store identifiers.
	ReplaceProducts(ctx context.Context, sourceUUID uuid.UUID, platform, jobKey string, products []pathdep.Product) ([]pathdep.Product, error)
	// SetProductDependencies replaces every dependency row of a product.
	SetProductDependencies(ctx context.Context, productID int64, rows []pathdep.ProductDependency) error
	// ProductsBySource returns products of a source; an empty platform returns every platform.
	ProductsBySource(ctx context.Context, sourceUUID uuid.UUID, platform string) ([]pathdep.Product, error)
	ProductsByName(ctx context.Context, name, platform string) ([]pathdep.Product, error)
	GetProductDependencies(ctx context.Context, productID int64) ([]pathdep.ProductDependency, error)
}
