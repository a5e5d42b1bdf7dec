// Package pathdeps resolves path dependencies declared by finished products
// into edges between products, and keeps unresolved declarations standing as
// placeholder rows until a matching source or product appears.
package pathdeps

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/assetq/internal/domain/pathdep"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
)

// Resolver reconciles declared path dependencies with the dependency store.
// Every operation holds one lock so concurrent catalog passes never
// interleave their read-modify-write sequences.
type Resolver struct {
	store  ports.DependencyStore
	logger ports.Logger
	events ports.EventPublisher
	mu     sync.Mutex
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger ports.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEvents publishes one dependency.resolved event per edge resolved by a deferred retry.
func WithEvents(events ports.EventPublisher) Option {
	return func(r *Resolver) {
		r.events = events
	}
}

// New constructs a resolver over store.
func New(store ports.DependencyStore, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		logger: logging.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "resolver")
	return r
}

// Resolution is the outcome of resolving one product's declarations.
type Resolution struct {
	// Resolved holds edges ready to be stored for the product.
	Resolved []pathdep.ProductDependency
	// Unresolved holds the declarations that must be kept as placeholders.
	Unresolved []pathdep.Dependency
	// Conflicts holds declarations that were both included and excluded.
	Conflicts []pathdep.Dependency
}

// ResolveDependencies resolves the declarations of product against the known
// sources and products of platform.
//
// Self references are dropped with a warning. A path that is both included and
// excluded resolves to nothing and both declarations stay unresolved. An exact
// declaration with at least one match leaves the unresolved set; wildcard and
// exclusion declarations always stay so later products can match them. Edges
// matched by an exclusion never appear in Resolved.
func (r *Resolver) ResolveDependencies(ctx context.Context, declared []pathdep.Dependency, platform string, product pathdep.Product) (Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	platform = strings.ToLower(platform)
	ownName := pathdep.NormalizePath(product.Name)
	self := product.Ref()

	var res Resolution
	conflicted := r.findConflicts(ctx, declared, product)

	folders, err := r.store.ScanFolders(ctx)
	if err != nil {
		return Resolution{}, err
	}

	resolved := newRefSet()
	excluded := newRefSet()

	for _, dep := range declared {
		n := pathdep.Normalize(dep)
		if n.Path == "" {
			continue
		}
		if n.Type == pathdep.TypeProductFile && platform+"/"+n.Path == ownName {
			r.logger.Warn(ctx, "product lists itself as a path dependency", "product", product.Name, "path", dep.Path)
			continue
		}
		if _, ok := conflicted[conflictKey(n)]; ok {
			res.Conflicts = append(res.Conflicts, dep)
			res.Unresolved = append(res.Unresolved, dep)
			continue
		}

		var matches []refType
		switch n.Type {
		case pathdep.TypeProductFile:
			matches, err = r.matchProducts(ctx, n, platform)
		default:
			matches, err = r.matchSources(ctx, n, platform, folders)
		}
		if err != nil {
			return Resolution{}, err
		}

		if n.Exclusion {
			for _, m := range matches {
				excluded.add(m)
			}
			res.Unresolved = append(res.Unresolved, dep)
			continue
		}
		for _, m := range matches {
			resolved.add(m)
		}
		if !n.Exact || len(matches) == 0 {
			res.Unresolved = append(res.Unresolved, dep)
		}
	}

	for _, m := range resolved.items() {
		if excluded.has(m.ref) {
			continue
		}
		if m.ref == self && self.SourceUUID != uuid.Nil {
			r.logger.Warn(ctx, "product resolves to itself as a path dependency", "product", product.Name)
			continue
		}
		res.Resolved = append(res.Resolved, pathdep.ProductDependency{
			ProductID:            product.ID,
			DependencySourceUUID: m.ref.SourceUUID,
			DependencySubID:      m.ref.SubID,
			Platform:             platform,
			Type:                 m.typ,
		})
	}
	return res, nil
}

// SaveUnresolvedDependenciesToDatabase stores every declaration as a
// placeholder row of product. Absolute paths inside a known scan folder are
// stored in scan-folder-prefixed relative form.
func (r *Resolver) SaveUnresolvedDependenciesToDatabase(ctx context.Context, unresolved []pathdep.Dependency, product pathdep.Product, platform string) error {
	if len(unresolved) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	folders, err := r.store.ScanFolders(ctx)
	if err != nil {
		return err
	}

	rows := make([]pathdep.ProductDependency, 0, len(unresolved))
	for _, dep := range unresolved {
		n := pathdep.Normalize(dep)
		if n.Path == "" {
			continue
		}
		stored := n.Path
		if pathdep.IsAbsolute(stored) {
			if folder, rel, ok := folderFor(folders, stored); ok {
				stored = pathdep.ScanFolderPrefixed(folder.ID, rel)
			}
		}
		if n.Exclusion {
			stored = pathdep.ExclusionMarker + stored
		}
		rows = append(rows, pathdep.ProductDependency{
			ProductID:      product.ID,
			Platform:       strings.ToLower(platform),
			UnresolvedPath: stored,
			Type:           n.Type,
		})
	}
	return r.store.InsertDependencies(ctx, rows)
}

// findConflicts returns the keys of paths declared both as include and as
// exclusion, logging one error per offending declaration.
func (r *Resolver) findConflicts(ctx context.Context, declared []pathdep.Dependency, product pathdep.Product) map[string]struct{} {
	includes := make(map[string]struct{})
	exclusions := make(map[string]struct{})
	for _, dep := range declared {
		n := pathdep.Normalize(dep)
		if n.Exclusion {
			exclusions[conflictKey(n)] = struct{}{}
		} else {
			includes[conflictKey(n)] = struct{}{}
		}
	}

	conflicts := make(map[string]struct{})
	for key := range includes {
		if _, ok := exclusions[key]; ok {
			conflicts[key] = struct{}{}
		}
	}
	for _, dep := range declared {
		n := pathdep.Normalize(dep)
		if _, ok := conflicts[conflictKey(n)]; ok {
			r.logger.Error(ctx, "path dependency is both included and excluded",
				"product", product.Name, "path", dep.Path, "type", n.Type.String())
		}
	}
	return conflicts
}

func (r *Resolver) matchProducts(ctx context.Context, n pathdep.Normalized, platform string) ([]refType, error) {
	var (
		products []pathdep.Product
		err      error
	)
	if n.Exact {
		products, err = r.store.ProductsByName(ctx, platform+"/"+n.Path, platform)
	} else {
		products, err = r.store.ProductsLike(ctx, platform+"/"+n.Pattern, platform)
	}
	if err != nil {
		return nil, err
	}
	out := make([]refType, 0, len(products))
	for _, p := range products {
		out = append(out, refType{ref: p.Ref(), typ: pathdep.TypeProductFile})
	}
	return out, nil
}

func (r *Resolver) matchSources(ctx context.Context, n pathdep.Normalized, platform string, folders []pathdep.ScanFolder) ([]refType, error) {
	name, pattern := n.Path, n.Pattern
	var only *pathdep.ScanFolder
	if pathdep.IsAbsolute(name) {
		folder, rel, ok := folderFor(folders, name)
		if !ok {
			return nil, nil
		}
		only = &folder
		name = rel
		pattern = strings.ReplaceAll(rel, pathdep.Wildcard, pathdep.PatternToken)
	}

	var sources []pathdep.Source
	switch {
	case n.Exact && only != nil:
		found, err := r.store.SourcesByName(ctx, only.ID, name)
		if err != nil {
			return nil, err
		}
		sources = found
	case n.Exact:
		for _, folder := range folders {
			found, err := r.store.SourcesByName(ctx, folder.ID, name)
			if err != nil {
				return nil, err
			}
			sources = append(sources, found...)
		}
	default:
		found, err := r.store.SourcesLike(ctx, pattern)
		if err != nil {
			return nil, err
		}
		for _, src := range found {
			if only == nil || src.ScanFolderID == only.ID {
				sources = append(sources, src)
			}
		}
	}

	var out []refType
	for _, src := range sources {
		products, err := r.store.ProductsBySource(ctx, src.UUID, platform)
		if err != nil {
			return nil, err
		}
		for _, p := range products {
			out = append(out, refType{ref: p.Ref(), typ: pathdep.TypeSourceFile})
		}
	}
	return out, nil
}

// folderFor returns the scan folder containing an absolute path and the
// path relative to it. The deepest folder wins when roots are nested.
func folderFor(folders []pathdep.ScanFolder, absolute string) (pathdep.ScanFolder, string, bool) {
	var (
		best    pathdep.ScanFolder
		bestRel string
		found   bool
	)
	for _, folder := range folders {
		rel, ok := folder.Relative(absolute)
		if !ok {
			continue
		}
		if !found || len(rel) < len(bestRel) {
			best, bestRel, found = folder, rel, true
		}
	}
	return best, bestRel, found
}

func conflictKey(n pathdep.Normalized) string {
	return n.Type.String() + "\x00" + n.Path
}

type refType struct {
	ref pathdep.Ref
	typ pathdep.Type
}

// refSet keeps refs in first-seen order.
type refSet struct {
	seen  map[pathdep.Ref]struct{}
	order []refType
}

func newRefSet() *refSet {
	return &refSet{seen: make(map[pathdep.Ref]struct{})}
}

func (s *refSet) add(m refType) {
	if _, ok := s.seen[m.ref]; ok {
		return
	}
	s.seen[m.ref] = struct{}{}
	s.order = append(s.order, m)
}

func (s *refSet) has(ref pathdep.Ref) bool {
	_, ok := s.seen[ref]
	return ok
}

func (s *refSet) items() []refType {
	return s.order
}
