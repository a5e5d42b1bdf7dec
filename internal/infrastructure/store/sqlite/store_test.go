package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/assetq/internal/domain/pathdep"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "assetq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func addSource(t *testing.T, s *Store, folder int64, name string) pathdep.Source {
	t.Helper()
	src, err := s.UpsertSource(context.Background(), pathdep.Source{
		UUID:         uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)),
		ScanFolderID: folder,
		Name:         name,
	})
	require.NoError(t, err)
	return src
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assetq.db")
	ctx := context.Background()

	first, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = first.EnsureScanFolder(ctx, "/game", "game")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(ctx, path)
	require.NoError(t, err)
	defer second.Close()

	folders, err := second.ScanFolders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "/game", folders[0].Path)
}

func TestEnsureScanFolderKeepsID(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	a, err := s.EnsureScanFolder(ctx, "/game", "game")
	require.NoError(t, err)
	b, err := s.EnsureScanFolder(ctx, "/game", "renamed")
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	folders, err := s.ScanFolders(ctx)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "renamed", folders[0].PortableKey)
}

func TestSourceLookups(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	folder, err := s.EnsureScanFolder(ctx, "/game", "game")
	require.NoError(t, err)
	other, err := s.EnsureScanFolder(ctx, "/engine", "engine")
	require.NoError(t, err)

	addSource(t, s, folder.ID, "shared/dep1.txt")
	addSource(t, s, folder.ID, "shared/dep_2.txt")
	addSource(t, s, other.ID, "shared/dep1.txt.bak")

	found, err := s.SourcesByName(ctx, folder.ID, "SHARED/Dep1.txt")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "shared/dep1.txt", found[0].Name)

	found, err = s.SourcesByName(ctx, other.ID, "shared/dep1.txt")
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = s.SourcesLike(ctx, "shared/dep1.%")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	// '_' is literal, not a single-character wildcard.
	found, err = s.SourcesLike(ctx, "shared/dep_%")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "shared/dep_2.txt", found[0].Name)
}

func TestReplaceProductsKeepsIDsAndDropsStale(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := uuid.New()

	first, err := s.ReplaceProducts(ctx, id, "PC", "compile", []pathdep.Product{
		{SubID: 0, Name: "pc/a.bin"},
		{SubID: 1, Name: "pc/b.bin"},
	})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "pc", first[0].Platform)

	second, err := s.ReplaceProducts(ctx, id, "pc", "compile", []pathdep.Product{
		{SubID: 1, Name: "pc/b2.bin"},
	})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[1].ID, second[0].ID)

	products, err := s.ProductsBySource(ctx, id, "")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "pc/b2.bin", products[0].Name)

	none, err := s.ReplaceProducts(ctx, id, "pc", "compile", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
	products, err = s.ProductsBySource(ctx, id, "pc")
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestProductLookupsFilterPlatform(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := s.ReplaceProducts(ctx, id, "pc", "compile", []pathdep.Product{{Name: "pc/mat/a.mat"}})
	require.NoError(t, err)
	_, err = s.ReplaceProducts(ctx, id, "android", "compile", []pathdep.Product{{Name: "android/mat/a.mat"}})
	require.NoError(t, err)

	found, err := s.ProductsByName(ctx, "PC/Mat/A.mat", "pc")
	require.NoError(t, err)
	require.Len(t, found, 1)

	found, err = s.ProductsLike(ctx, "%/mat/a.mat", "")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = s.ProductsBySource(ctx, id, "android")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "android", found[0].Platform)
}

func TestDependencyRowsAreUnique(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	products, err := s.ReplaceProducts(ctx, uuid.New(), "pc", "compile", []pathdep.Product{{Name: "pc/p.bin"}})
	require.NoError(t, err)
	owner := products[0].ID

	target := uuid.New()
	rows := []pathdep.ProductDependency{
		{ProductID: owner, Platform: "pc", UnresolvedPath: "dep1.*", Type: pathdep.TypeSourceFile},
		{ProductID: owner, Platform: "pc", DependencySourceUUID: target, DependencySubID: 2, Type: pathdep.TypeProductFile},
	}
	require.NoError(t, s.InsertDependencies(ctx, rows))
	require.NoError(t, s.InsertDependencies(ctx, rows))

	stored, err := s.GetProductDependencies(ctx, owner)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.False(t, stored[0].Resolved())
	assert.Equal(t, uuid.Nil, stored[0].DependencySourceUUID)
	assert.True(t, stored[1].Resolved())
	assert.Equal(t, pathdep.Ref{SourceUUID: target, SubID: 2}, stored[1].Target())
}

func TestUnresolvedMatchingAndExclusions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	products, err := s.ReplaceProducts(ctx, uuid.New(), "pc", "compile", []pathdep.Product{{Name: "pc/p.bin"}})
	require.NoError(t, err)
	owner := products[0].ID

	require.NoError(t, s.InsertDependencies(ctx, []pathdep.ProductDependency{
		{ProductID: owner, Platform: "pc", UnresolvedPath: "dep1.*", Type: pathdep.TypeSourceFile},
		{ProductID: owner, Platform: "pc", UnresolvedPath: "$1$shared/dep1.txt", Type: pathdep.TypeSourceFile},
		{ProductID: owner, Platform: "pc", UnresolvedPath: "other_file.txt", Type: pathdep.TypeSourceFile},
		{ProductID: owner, Platform: "pc", UnresolvedPath: ":dep1.*", Type: pathdep.TypeSourceFile},
	}))

	matched, err := s.UnresolvedDependenciesMatching(ctx, []string{"dep1.txt", "$1$shared/dep1.txt"})
	require.NoError(t, err)
	paths := make([]string, 0, len(matched))
	for _, row := range matched {
		paths = append(paths, row.UnresolvedPath)
	}
	assert.ElementsMatch(t, []string{"dep1.*", "$1$shared/dep1.txt"}, paths)

	// '_' in a stored path does not act as a single-character wildcard.
	matched, err = s.UnresolvedDependenciesMatching(ctx, []string{"otherxfile.txt"})
	require.NoError(t, err)
	assert.Empty(t, matched)

	exclusions, err := s.ExclusionDependencies(ctx)
	require.NoError(t, err)
	require.Len(t, exclusions, 1)
	assert.Equal(t, ":dep1.*", exclusions[0].UnresolvedPath)

	none, err := s.UnresolvedDependenciesMatching(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestApplyResolutionsFillsPlaceholderInPlace(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	products, err := s.ReplaceProducts(ctx, uuid.New(), "pc", "compile", []pathdep.Product{{Name: "pc/p.bin"}})
	require.NoError(t, err)
	owner := products[0].ID
	require.NoError(t, s.InsertDependencies(ctx, []pathdep.ProductDependency{
		{ProductID: owner, Platform: "pc", UnresolvedPath: "a.txt", Type: pathdep.TypeSourceFile},
	}))
	placeholder, err := s.GetProductDependencies(ctx, owner)
	require.NoError(t, err)
	require.Len(t, placeholder, 1)

	target := uuid.New()
	update := pathdep.ProductDependency{ID: placeholder[0].ID, DependencySourceUUID: target, DependencySubID: 0}
	insert := pathdep.ProductDependency{ProductID: owner, Platform: "pc", DependencySourceUUID: target, DependencySubID: 1, Type: pathdep.TypeSourceFile}
	written, err := s.ApplyResolutions(ctx, []pathdep.ProductDependency{update}, []pathdep.ProductDependency{insert})
	require.NoError(t, err)
	require.Len(t, written, 2)

	rows, err := s.GetProductDependencies(ctx, owner)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, placeholder[0].ID, rows[0].ID)
	for _, row := range rows {
		assert.True(t, row.Resolved())
		assert.Equal(t, target, row.DependencySourceUUID)
	}
}

func TestApplyResolutionsReportsOnlyNewEdges(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	products, err := s.ReplaceProducts(ctx, uuid.New(), "pc", "compile", []pathdep.Product{{Name: "pc/p.bin"}})
	require.NoError(t, err)
	owner := products[0].ID
	target := uuid.New()
	edge := pathdep.ProductDependency{ProductID: owner, Platform: "pc", DependencySourceUUID: target, DependencySubID: 3, Type: pathdep.TypeProductFile}

	written, err := s.ApplyResolutions(ctx, nil, []pathdep.ProductDependency{edge})
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.NotZero(t, written[0].ID)

	written, err = s.ApplyResolutions(ctx, nil, []pathdep.ProductDependency{edge})
	require.NoError(t, err)
	assert.Empty(t, written, "an edge that already exists is not reported")

	// A placeholder resolving to an edge that is already present is absorbed.
	require.NoError(t, s.InsertDependencies(ctx, []pathdep.ProductDependency{
		{ProductID: owner, Platform: "pc", UnresolvedPath: "p3.bin", Type: pathdep.TypeProductFile},
	}))
	rows, err := s.GetProductDependencies(ctx, owner)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	placeholder := rows[1]
	require.False(t, placeholder.Resolved())

	fill := edge
	fill.ID = placeholder.ID
	written, err = s.ApplyResolutions(ctx, []pathdep.ProductDependency{fill}, nil)
	require.NoError(t, err)
	assert.Empty(t, written)

	rows, err = s.GetProductDependencies(ctx, owner)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Resolved())
}

func TestProductDeletionCascadesToDependencies(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := uuid.New()

	products, err := s.ReplaceProducts(ctx, id, "pc", "compile", []pathdep.Product{{Name: "pc/p.bin"}})
	require.NoError(t, err)
	owner := products[0].ID
	require.NoError(t, s.SetProductDependencies(ctx, owner, []pathdep.ProductDependency{
		{Platform: "pc", UnresolvedPath: "x.txt", Type: pathdep.TypeSourceFile},
	}))

	_, err = s.ReplaceProducts(ctx, id, "pc", "compile", nil)
	require.NoError(t, err)

	rows, err := s.GetProductDependencies(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLikePatternEscapes(t *testing.T) {
	assert.Equal(t, `a\_b%`, likePattern("a_b%"))
	assert.Equal(t, `a\\b`, likePattern(`a\b`))
}
