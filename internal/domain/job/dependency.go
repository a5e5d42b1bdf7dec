package job

import (
	"fmt"
	"strings"
)

// DependencyKind classifies a job dependency.
type DependencyKind int

const (
	// DependencyOrder must finish before the dependent starts, checked every time.
	DependencyOrder DependencyKind = iota
	// DependencyOrderOnce is enforced only until the dependent source has been processed once.
	DependencyOrderOnce
	// DependencyOrderOnly orders without consuming the prerequisite's output.
	DependencyOrderOnly
	// DependencyJobToJob orders at job granularity and is settled before submission.
	DependencyJobToJob
)

var dependencyKindNames = map[DependencyKind]string{
	DependencyOrder:     "order",
	DependencyOrderOnce: "order_once",
	DependencyOrderOnly: "order_only",
	DependencyJobToJob:  "job_to_job",
}

func (k DependencyKind) String() string {
	if name, ok := dependencyKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseDependencyKind converts the manifest spelling of a dependency kind.
func ParseDependencyKind(s string) (DependencyKind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for kind, name := range dependencyKindNames {
		if name == normalized || strings.ReplaceAll(name, "_", "") == normalized {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown dependency kind %q", s)
}

// Orders reports whether the selector enforces this kind.
func (k DependencyKind) Orders() bool {
	return k == DependencyOrder || k == DependencyOrderOnce || k == DependencyOrderOnly
}

// Dependency references a prerequisite job by source and platform plus either
// a job key or a builder id. With neither set, any job for the source and
// platform matches.
type Dependency struct {
	Kind      DependencyKind
	Source    string
	Platform  string
	JobKey    string
	BuilderID string
	// Resolved is set when the prerequisite source was located at analysis time.
	Resolved bool
	// MissingSource is set when a wildcard or placeholder reference found no source.
	MissingSource bool
}

// Matches reports whether a job with the given identity and builder satisfies the reference.
func (d Dependency) Matches(id Identity, builderID string) bool {
	if d.Source != id.Source || !strings.EqualFold(d.Platform, id.Platform) {
		return false
	}
	if d.JobKey != "" {
		return strings.EqualFold(d.JobKey, id.JobKey)
	}
	if d.BuilderID != "" {
		return d.BuilderID == builderID
	}
	return true
}

func (d Dependency) String() string {
	target := d.JobKey
	if target == "" {
		target = d.BuilderID
	}
	return fmt.Sprintf("%s -> %s [%s/%s]", d.Kind, d.Source, strings.ToLower(d.Platform), target)
}
