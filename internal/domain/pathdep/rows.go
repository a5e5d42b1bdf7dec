package pathdep

import (
	"strings"

	"github.com/google/uuid"
)

// ScanFolder is a configured root under which sources are discovered.
type ScanFolder struct {
	ID          int64
	Path        string
	PortableKey string
}

// Relative returns the scan-folder-relative form of an absolute normalized path
// and whether the path lies inside the folder.
func (f ScanFolder) Relative(absolute string) (string, bool) {
	root := strings.TrimSuffix(NormalizePath(f.Path), "/") + "/"
	p := NormalizePath(absolute)
	if !strings.HasPrefix(p, root) {
		return "", false
	}
	return strings.TrimPrefix(p, root), true
}

// Source is a known source file.
type Source struct {
	ID           int64
	UUID         uuid.UUID
	ScanFolderID int64
	// Name is the scan-folder-relative path with forward slashes.
	Name string
}

// Ref identifies a product independently of its platform.
type Ref struct {
	SourceUUID uuid.UUID
	SubID      uint32
}

// Product is an output registered for a source on one platform.
type Product struct {
	ID         int64
	SourceUUID uuid.UUID
	SubID      uint32
	// Name is the platform-prefixed cache path, e.g. "pc/textures/a.dds".
	Name     string
	Platform string
	JobKey   string
}

// Ref returns the platform-independent identity of the product.
func (p Product) Ref() Ref {
	return Ref{SourceUUID: p.SourceUUID, SubID: p.SubID}
}

// RelativeName strips the platform prefix from Name.
func (p Product) RelativeName() string {
	prefix := strings.ToLower(p.Platform) + "/"
	name := strings.ToLower(p.Name)
	return strings.TrimPrefix(name, prefix)
}

// ProductDependency is one stored dependency row. A row with an empty
// UnresolvedPath is resolved; otherwise it is a placeholder.
type ProductDependency struct {
	ID                   int64
	ProductID            int64
	DependencySourceUUID uuid.UUID
	DependencySubID      uint32
	Platform             string
	UnresolvedPath       string
	Type                 Type
}

// Resolved reports whether the row points at a concrete product.
func (d ProductDependency) Resolved() bool {
	return d.UnresolvedPath == ""
}

// Target returns the product identity a resolved row points at.
func (d ProductDependency) Target() Ref {
	return Ref{SourceUUID: d.DependencySourceUUID, SubID: d.DependencySubID}
}
