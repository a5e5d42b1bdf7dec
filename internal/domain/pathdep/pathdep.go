// Package pathdep defines path dependencies declared by finished products and
// the rows the dependency store keeps for them.
package pathdep

import (
	"fmt"
	"path"
	"strings"
)

// Type distinguishes what a declared path refers to.
type Type int

const (
	// TypeSourceFile refers to a source file under a scan folder.
	TypeSourceFile Type = iota
	// TypeProductFile refers to a product in the platform cache.
	TypeProductFile
)

func (t Type) String() string {
	switch t {
	case TypeSourceFile:
		return "source"
	case TypeProductFile:
		return "product"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// ParseType converts the manifest spelling of a dependency type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "source", "sourcefile", "source_file":
		return TypeSourceFile, nil
	case "product", "productfile", "product_file", "":
		return TypeProductFile, nil
	default:
		return 0, fmt.Errorf("unknown path dependency type %q", s)
	}
}

const (
	// ExclusionMarker prefixes a declared path that must never become an edge.
	ExclusionMarker = ":"
	// Wildcard is the declaration-side wildcard character.
	Wildcard = "*"
	// PatternToken is the store-side pattern token that Wildcard maps to.
	PatternToken = "%"
)

// Dependency is a path dependency as declared by a builder for one product.
type Dependency struct {
	Path string
	Type Type
}

// IsExclusion reports whether the declaration carries the exclusion marker.
func (d Dependency) IsExclusion() bool {
	return strings.HasPrefix(d.Path, ExclusionMarker)
}

// Normalized is a declaration after marker stripping and path normalization.
type Normalized struct {
	// Path is lower-cased with separators collapsed and the marker removed. Wildcards stay as '*'.
	Path string
	// Pattern is Path with wildcards replaced by the store pattern token.
	Pattern   string
	Type      Type
	Exclusion bool
	Exact     bool
}

// Normalize strips the exclusion marker, normalizes the path and applies the
// image-extension reclassification for product dependencies.
func Normalize(d Dependency) Normalized {
	raw := d.Path
	exclusion := strings.HasPrefix(raw, ExclusionMarker)
	if exclusion {
		raw = strings.TrimPrefix(raw, ExclusionMarker)
	}
	p := NormalizePath(raw)
	typ := d.Type
	if typ == TypeProductFile && IsImageFile(p) {
		typ = TypeSourceFile
	}
	return Normalized{
		Path:      p,
		Pattern:   strings.ReplaceAll(p, Wildcard, PatternToken),
		Type:      typ,
		Exclusion: exclusion,
		Exact:     !strings.Contains(p, Wildcard),
	}
}

// NormalizePath lower-cases p, converts backslashes to forward slashes and
// collapses repeated separators.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return strings.ToLower(p)
}

// IsAbsolute reports whether a normalized path is rooted, including drive-letter paths.
func IsAbsolute(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	return len(p) >= 3 && p[1] == ':' && p[2] == '/'
}

// Legacy builders declared raster images as products; they are sources.
var imageExtensions = map[string]struct{}{
	".bmp":  {},
	".dds":  {},
	".exr":  {},
	".gif":  {},
	".hdr":  {},
	".jpeg": {},
	".jpg":  {},
	".png":  {},
	".psd":  {},
	".tga":  {},
	".tif":  {},
	".tiff": {},
}

// IsImageFile reports whether p has a known raster image extension.
func IsImageFile(p string) bool {
	_, ok := imageExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

// ScanFolderPrefixed renders a scan-folder-relative path in its stored form.
func ScanFolderPrefixed(scanFolderID int64, relative string) string {
	return fmt.Sprintf("$%d$%s", scanFolderID, relative)
}

// Match reports whether a normalized declaration path (which may contain '*' or
// '%') matches the candidate name. Both are compared case-insensitively.
func Match(pattern, name string) bool {
	pattern = strings.ReplaceAll(strings.ToLower(pattern), PatternToken, Wildcard)
	name = strings.ToLower(name)
	if !strings.Contains(pattern, Wildcard) {
		return pattern == name
	}
	parts := strings.Split(pattern, Wildcard)
	if !strings.HasPrefix(name, parts[0]) {
		return false
	}
	name = name[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		idx := strings.Index(name, part)
		if idx < 0 {
			return false
		}
		name = name[idx+len(part):]
	}
	return strings.HasSuffix(name, last)
}
