package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
	"github.com/alexisbeaulieu97/assetq/internal/domain/pathdep"
)

// BuilderMetadata describes a registered builder.
type BuilderMetadata struct {
	ID          string
	Version     string
	Description string
}

// BuildRequest is what a builder receives for one run.
type BuildRequest struct {
	RunID uuid.UUID
	// SourcePath is the absolute path of the source file.
	SourcePath string
	// Source is the scan-folder-relative name.
	Source   string
	Platform string
	JobKey   string
	// OutputDir is the platform cache directory products are written under.
	OutputDir        string
	Params           map[string]string
	PathDependencies []pathdep.Dependency
}

// BuildResponse lists the products a builder wrote.
type BuildResponse struct {
	Products []job.Product
	Message  string
}

// Builder turns a source into platform products.
type Builder interface {
	Metadata() BuilderMetadata
	Build(ctx context.Context, req BuildRequest) (BuildResponse, error)
}

// BuilderRegistry resolves builders by id.
type BuilderRegistry interface {
	Lookup(id string) (Builder, error)
}

// Fingerprinter computes a stable numeric fingerprint of a file's content.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, path string) (uint64, error)
}

// FileLocker reports whether a file can be opened for exclusive access.
type FileLocker interface {
	TryLock(path string) (bool, error)
}
