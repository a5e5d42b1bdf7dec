package queue

import (
	"path"
	"strings"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
)

// SearchOptions tunes the fuzzy lookup used when escalating by search term.
type SearchOptions struct {
	// StripExtension enables the second tier, which compares paths without extensions.
	StripExtension bool
	// StripUnderscoreSuffix enables the third tier, which drops a trailing "_suffix"
	// from the term and matches by containment.
	StripUnderscoreSuffix bool
	// MinContainsLength is the shortest stem the third tier will search for.
	MinContainsLength int
}

// DefaultSearchOptions returns the thresholds used when nothing is configured.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		StripExtension:        true,
		StripUnderscoreSuffix: true,
		MinContainsLength:     3,
	}
}

// Search finds live jobs whose source matches term, restricted to platform
// when non-empty. Tiers are tried in order and the first tier with any match
// wins: full relative path suffix, suffix without extension, then
// containment of the file stem with any "_suffix" removed.
func (c *Collection) Search(platform, term string) []*job.Job {
	term = normalizeTerm(term)
	if term == "" {
		return nil
	}
	candidates := c.live(platform)
	if len(candidates) == 0 {
		return nil
	}

	if found := filterJobs(candidates, func(source string) bool {
		return pathSuffix(source, term)
	}); len(found) > 0 {
		return found
	}

	if c.search.StripExtension {
		stem := stripExtension(term)
		if found := filterJobs(candidates, func(source string) bool {
			return pathSuffix(stripExtension(source), stem)
		}); len(found) > 0 {
			return found
		}
	}

	if c.search.StripUnderscoreSuffix {
		name := stripExtension(path.Base(term))
		if i := strings.LastIndex(name, "_"); i > 0 {
			name = name[:i]
		}
		if len(name) < c.search.MinContainsLength {
			return nil
		}
		return filterJobs(candidates, func(source string) bool {
			return strings.Contains(stripExtension(path.Base(source)), name)
		})
	}
	return nil
}

func normalizeTerm(term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	term = strings.ReplaceAll(term, "\\", "/")
	return strings.TrimLeft(term, "/")
}

func filterJobs(jobs []*job.Job, match func(source string) bool) []*job.Job {
	var out []*job.Job
	for _, j := range jobs {
		if match(strings.ToLower(j.Identity().Source)) {
			out = append(out, j)
		}
	}
	return out
}

// pathSuffix reports whether term matches source at a path-segment boundary.
func pathSuffix(source, term string) bool {
	return source == term || strings.HasSuffix(source, "/"+term)
}

func stripExtension(p string) string {
	if ext := path.Ext(p); ext != "" {
		return strings.TrimSuffix(p, ext)
	}
	return p
}
