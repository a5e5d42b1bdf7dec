// Package manifest reads job manifests: YAML lists of build submissions that
// expand into one job per source, platform and job key.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/assetq/internal/config"
	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/domain/pathdep"
	"github.com/alexisbeaulieu97/assetq/internal/infrastructure/logging"
	"github.com/alexisbeaulieu97/assetq/internal/ports"
	assetqerrors "github.com/alexisbeaulieu97/assetq/pkg/errors"
)

// SourceNamespace seeds the deterministic source UUIDs derived from scan folder and path.
var SourceNamespace = uuid.MustParse("6f1c2d3e-8a4b-4c5d-9e6f-7a8b9c0d1e2f")

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// Manifest is the document root.
type Manifest struct {
	Jobs []Entry `yaml:"jobs" validate:"required,min=1,dive"`
}

// Entry is one submission. Platforms expands it into one job per platform;
// an empty list means every configured platform.
type Entry struct {
	Source           string            `yaml:"source" validate:"required"`
	ScanFolder       string            `yaml:"scan_folder"`
	Platforms        []string          `yaml:"platforms" validate:"omitempty,dive,platform_id"`
	JobKey           string            `yaml:"job_key"`
	Builder          string            `yaml:"builder" validate:"required_without=AutoFail"`
	Priority         int               `yaml:"priority"`
	Critical         bool              `yaml:"critical"`
	AutoFail         bool              `yaml:"auto_fail"`
	FailureReason    string            `yaml:"failure_reason"`
	Params           map[string]string `yaml:"params"`
	ExpectedProducts []string          `yaml:"expected_products"`
	DependsOn        []DependsOn       `yaml:"depends_on" validate:"omitempty,dive"`
	PathDependencies []PathDependency  `yaml:"path_dependencies" validate:"omitempty,dive"`
}

// DependsOn references a prerequisite job.
type DependsOn struct {
	Source string `yaml:"source" validate:"required"`
	// Platform defaults to the dependent job's platform.
	Platform string `yaml:"platform" validate:"omitempty,platform_id"`
	JobKey   string `yaml:"job_key"`
	Builder  string `yaml:"builder"`
	Kind     string `yaml:"kind" validate:"omitempty,oneof=order order_once order_only job_to_job orderonce orderonly jobtojob"`
}

// PathDependency is a declared path dependency forwarded to the builder.
type PathDependency struct {
	Path string `yaml:"path" validate:"required"`
	Type string `yaml:"type" validate:"omitempty,oneof=source product sourcefile productfile source_file product_file"`
}

// Loader reads manifests from disk.
type Loader struct {
	logger ports.Logger
}

// NewLoader returns a Loader. A nil logger discards output.
func NewLoader(logger ports.Logger) *Loader {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Loader{logger: logger.With("component", "manifest")}
}

// Load parses and validates the manifest at path.
func (l *Loader) Load(ctx context.Context, path string) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, assetqerrors.NewParseError(path, 0, err)
	}

	m, err := Parse(data)
	if err != nil {
		l.logger.Error(ctx, "failed to parse manifest", "path", path, "error", err)
		var pe *assetqerrors.ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}

	l.logger.Debug(ctx, "manifest loaded", "path", path, "entries", len(m.Jobs))
	return m, nil
}

// Parse decodes and validates manifest bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, assetqerrors.NewParseError("", extractLine(err), err)
	}
	if err := config.GetValidator().Struct(&m); err != nil {
		return nil, config.ConvertValidationError(err)
	}
	for i, entry := range m.Jobs {
		for j, dep := range entry.DependsOn {
			if dep.JobKey != "" && dep.Builder != "" {
				return nil, assetqerrors.NewValidationError(
					fmt.Sprintf("jobs[%d].depends_on[%d]", i, j),
					"job_key and builder are mutually exclusive", nil)
			}
		}
	}
	return &m, nil
}

// Expand converts the manifest into job submissions against cfg. Entries without
// a scan folder use the first configured one; entries without platforms run on
// every configured platform.
func (m *Manifest) Expand(cfg *config.Config) ([]job.Details, error) {
	var out []job.Details
	for i, entry := range m.Jobs {
		scanFolder := entry.ScanFolder
		if scanFolder == "" {
			if len(cfg.ScanFolders) == 0 {
				return nil, assetqerrors.NewValidationError(fmt.Sprintf("jobs[%d].scan_folder", i), "no scan folder configured", nil)
			}
			scanFolder = cfg.ScanFolders[0].Path
		}
		source := NormalizeSource(entry.Source)

		platforms := entry.Platforms
		if len(platforms) == 0 {
			for _, p := range cfg.Platforms {
				platforms = append(platforms, p.Name)
			}
		}

		pathDeps, err := entry.pathDependencies()
		if err != nil {
			return nil, assetqerrors.NewValidationError(fmt.Sprintf("jobs[%d].path_dependencies", i), err.Error(), err)
		}

		for _, platform := range platforms {
			platform = strings.ToLower(platform)
			if !cfg.HasPlatform(platform) {
				return nil, assetqerrors.NewValidationError(fmt.Sprintf("jobs[%d].platforms", i),
					fmt.Sprintf("platform %q is not configured", platform), nil)
			}
			deps, err := entry.dependencies(platform)
			if err != nil {
				return nil, assetqerrors.NewValidationError(fmt.Sprintf("jobs[%d].depends_on", i), err.Error(), err)
			}
			jobKey := entry.JobKey
			if jobKey == "" {
				jobKey = entry.Builder
			}
			out = append(out, job.Details{
				Source:           source,
				SourceUUID:       SourceUUID(scanFolder, source),
				ScanFolder:       scanFolder,
				Platform:         platform,
				JobKey:           jobKey,
				BuilderID:        entry.Builder,
				Priority:         entry.Priority,
				Critical:         entry.Critical,
				AutoFail:         entry.AutoFail,
				FailureReason:    entry.FailureReason,
				Dependencies:     deps,
				PathDependencies: pathDeps,
				ExpectedProducts: append([]string(nil), entry.ExpectedProducts...),
				Params:           copyParams(entry.Params),
			})
		}
	}
	return out, nil
}

func (e Entry) dependencies(platform string) ([]job.Dependency, error) {
	deps := make([]job.Dependency, 0, len(e.DependsOn))
	for _, d := range e.DependsOn {
		kind := job.DependencyOrder
		if d.Kind != "" {
			parsed, err := job.ParseDependencyKind(d.Kind)
			if err != nil {
				return nil, err
			}
			kind = parsed
		}
		target := platform
		if d.Platform != "" {
			target = strings.ToLower(d.Platform)
		}
		deps = append(deps, job.Dependency{
			Kind:      kind,
			Source:    NormalizeSource(d.Source),
			Platform:  target,
			JobKey:    strings.ToLower(d.JobKey),
			BuilderID: d.Builder,
			Resolved:  true,
		})
	}
	return deps, nil
}

func (e Entry) pathDependencies() ([]pathdep.Dependency, error) {
	out := make([]pathdep.Dependency, 0, len(e.PathDependencies))
	for _, d := range e.PathDependencies {
		t, err := pathdep.ParseType(d.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, pathdep.Dependency{Path: d.Path, Type: t})
	}
	return out, nil
}

// NormalizeSource converts a manifest source path to the forward-slash relative form jobs use.
func NormalizeSource(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// SourceUUID derives a stable identity for a source under a scan folder.
func SourceUUID(scanFolder, source string) uuid.UUID {
	key := strings.ToLower(filepath.ToSlash(scanFolder)) + "|" + strings.ToLower(source)
	return uuid.NewSHA1(SourceNamespace, []byte(key))
}

func copyParams(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func extractLine(err error) int {
	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}
	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}
	return line
}
