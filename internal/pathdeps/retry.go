package pathdeps

import (
	"context"
	"strings"

	"github.com/alexisbeaulieu97/assetq/internal/domain/pathdep"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
)

// RetryDeferredDependencies resolves placeholder rows that name source or
// one of its products. Exact placeholders are filled in place by their first
// resolution; wildcard placeholders stay and gain one resolved row per match.
// All writes happen in one batch, after which one dependency.resolved event is
// published per edge written. Edges that already existed are neither returned
// nor published.
func (r *Resolver) RetryDeferredDependencies(ctx context.Context, source pathdep.Source) ([]pathdep.ProductDependency, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	products, err := r.store.ProductsBySource(ctx, source.UUID, "")
	if err != nil {
		return nil, err
	}

	name := pathdep.NormalizePath(source.Name)
	prefixed := pathdep.ScanFolderPrefixed(source.ScanFolderID, name)
	candidates := []string{name, prefixed}
	for _, p := range products {
		candidates = append(candidates, p.RelativeName())
	}

	rows, err := r.store.UnresolvedDependenciesMatching(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	exclusionRows, err := r.store.ExclusionDependencies(ctx)
	if err != nil {
		return nil, err
	}
	excl := newExclusions(exclusionRows)

	var updates, inserts []pathdep.ProductDependency
	for _, row := range rows {
		var targets []pathdep.Product
		if row.Type == pathdep.TypeSourceFile {
			targets = r.sourceTargets(ctx, row, name, prefixed, products, excl)
		} else {
			targets = r.productTargets(ctx, row, products, excl)
		}

		fillInPlace := !strings.Contains(row.UnresolvedPath, pathdep.Wildcard)
		for _, p := range targets {
			edge := pathdep.ProductDependency{
				ProductID:            row.ProductID,
				DependencySourceUUID: p.SourceUUID,
				DependencySubID:      p.SubID,
				Platform:             row.Platform,
				Type:                 row.Type,
			}
			if fillInPlace {
				edge.ID = row.ID
				updates = append(updates, edge)
				fillInPlace = false
				continue
			}
			inserts = append(inserts, edge)
		}
	}

	edges, err := r.store.ApplyResolutions(ctx, updates, inserts)
	if err != nil {
		return nil, err
	}
	for _, edge := range edges {
		r.publish(ctx, ports.Event{
			Type: ports.EventDependencyResolved,
			Data: ports.DependencyResolvedEvent{Dependency: edge, Source: source.Name},
		})
	}
	if len(edges) > 0 {
		r.logger.Debug(ctx, "resolved deferred path dependencies", "source", source.Name, "edges", len(edges))
	}
	return edges, nil
}

// sourceTargets returns the products of the new source a source-type
// placeholder resolves to. The scan-folder-prefixed form is tried first; a
// row matching both forms still resolves once.
func (r *Resolver) sourceTargets(ctx context.Context, row pathdep.ProductDependency, name, prefixed string, products []pathdep.Product, excl exclusions) []pathdep.Product {
	if !pathdep.Match(row.UnresolvedPath, prefixed) && !pathdep.Match(row.UnresolvedPath, name) {
		return nil
	}
	if blocked, ok := excl.match(row.ProductID, pathdep.TypeSourceFile, prefixed, name); ok {
		r.reportExcluded(ctx, row, blocked)
		return nil
	}
	return r.platformTargets(ctx, row, products, nil)
}

func (r *Resolver) productTargets(ctx context.Context, row pathdep.ProductDependency, products []pathdep.Product, excl exclusions) []pathdep.Product {
	return r.platformTargets(ctx, row, products, func(p pathdep.Product) bool {
		rel := p.RelativeName()
		if !pathdep.Match(row.UnresolvedPath, rel) {
			return false
		}
		if blocked, ok := excl.match(row.ProductID, pathdep.TypeProductFile, rel); ok {
			r.reportExcluded(ctx, row, blocked)
			return false
		}
		return true
	})
}

// platformTargets keeps products on the row's platform that are not the
// row's own product and pass keep.
func (r *Resolver) platformTargets(ctx context.Context, row pathdep.ProductDependency, products []pathdep.Product, keep func(pathdep.Product) bool) []pathdep.Product {
	var out []pathdep.Product
	for _, p := range products {
		if !strings.EqualFold(p.Platform, row.Platform) {
			continue
		}
		if p.ID == row.ProductID {
			r.logger.Warn(ctx, "product lists itself as a path dependency", "product_id", p.ID, "path", row.UnresolvedPath)
			continue
		}
		if keep != nil && !keep(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (r *Resolver) reportExcluded(ctx context.Context, row pathdep.ProductDependency, exclusion string) {
	if exclusion == row.UnresolvedPath {
		r.logger.Error(ctx, "path dependency is both included and excluded",
			"product_id", row.ProductID, "path", row.UnresolvedPath, "type", row.Type.String())
		return
	}
	r.logger.Debug(ctx, "deferred path dependency excluded",
		"product_id", row.ProductID, "path", row.UnresolvedPath, "exclusion", exclusion)
}

func (r *Resolver) publish(ctx context.Context, event ports.Event) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ctx, event); err != nil {
		r.logger.Warn(ctx, "failed to publish event", "event", event.Type, "error", err)
	}
}

type exclusionKey struct {
	product int64
	typ     pathdep.Type
}

type exclusionSet struct {
	exact    map[string]struct{}
	wildcard []string
}

// exclusions indexes exclusion placeholder rows by owning product and dependency kind.
type exclusions map[exclusionKey]*exclusionSet

func newExclusions(rows []pathdep.ProductDependency) exclusions {
	out := make(exclusions)
	for _, row := range rows {
		key := exclusionKey{product: row.ProductID, typ: row.Type}
		set, ok := out[key]
		if !ok {
			set = &exclusionSet{exact: make(map[string]struct{})}
			out[key] = set
		}
		path := strings.TrimPrefix(row.UnresolvedPath, pathdep.ExclusionMarker)
		if strings.Contains(path, pathdep.Wildcard) {
			set.wildcard = append(set.wildcard, path)
		} else {
			set.exact[path] = struct{}{}
		}
	}
	return out
}

// match returns the exclusion path of product that covers any of names.
func (e exclusions) match(product int64, typ pathdep.Type, names ...string) (string, bool) {
	set, ok := e[exclusionKey{product: product, typ: typ}]
	if !ok {
		return "", false
	}
	for _, name := range names {
		if _, ok := set.exact[name]; ok {
			return name, true
		}
		for _, pattern := range set.wildcard {
			if pathdep.Match(pattern, name) {
				return pattern, true
			}
		}
	}
	return "", false
}
