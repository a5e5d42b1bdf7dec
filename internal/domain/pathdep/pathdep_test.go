package pathdep

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeCollapsesSeparatorsAndCase(t *testing.T) {
	t.Parallel()

	n := Normalize(Dependency{Path: `Dep\\SubFolder//Dep1.TXT`, Type: TypeSourceFile})
	assert.Equal(t, "dep/subfolder/dep1.txt", n.Path)
	assert.True(t, n.Exact)
	assert.False(t, n.Exclusion)
}

func TestNormalizeExclusionAndWildcard(t *testing.T) {
	t.Parallel()

	n := Normalize(Dependency{Path: ":Dep/*.asset", Type: TypeProductFile})
	assert.True(t, n.Exclusion)
	assert.False(t, n.Exact)
	assert.Equal(t, "dep/*.asset", n.Path)
	assert.Equal(t, "dep/%.asset", n.Pattern)
	assert.Equal(t, TypeProductFile, n.Type)
}

func TestImageProductIsReclassifiedAsSource(t *testing.T) {
	t.Parallel()

	n := Normalize(Dependency{Path: "imagefile.bmp", Type: TypeProductFile})
	assert.Equal(t, TypeSourceFile, n.Type)

	n = Normalize(Dependency{Path: "mesh.asset", Type: TypeProductFile})
	assert.Equal(t, TypeProductFile, n.Type)
}

func TestMatch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"dep1.*", "dep1.txt", true},
		{"dep1.%", "dep1.txt", true},
		{"*p1.txt", "dep1.txt", true},
		{"dep/*", "dep/sub/dep1.txt", true},
		{"dep1.txt", "DEP1.txt", true},
		{"dep1.txt", "dep10.txt", false},
		{"a*b*c", "axxbyyc", true},
		{"a*b*c", "axxcyyb", false},
		{"ab*b", "ab", false},
		{"*", "", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Match(tc.pattern, tc.name), "%s ~ %s", tc.pattern, tc.name)
	}
}

func TestScanFolderRelative(t *testing.T) {
	t.Parallel()

	folder := ScanFolder{ID: 3, Path: "/Work/Assets"}
	rel, ok := folder.Relative("/work/assets/textures/A.png")
	assert.True(t, ok)
	assert.Equal(t, "textures/a.png", rel)
	assert.Equal(t, "$3$textures/a.png", ScanFolderPrefixed(folder.ID, rel))

	_, ok = folder.Relative("/work/other/a.png")
	assert.False(t, ok)
}

func TestProductRelativeName(t *testing.T) {
	t.Parallel()

	p := Product{Name: "pc/Dep/Dep1.asset", Platform: "PC", SourceUUID: uuid.New(), SubID: 2}
	assert.Equal(t, "dep/dep1.asset", p.RelativeName())
	assert.Equal(t, Ref{SourceUUID: p.SourceUUID, SubID: 2}, p.Ref())
}

func TestParseType(t *testing.T) {
	t.Parallel()

	typ, err := ParseType("Source")
	assert.NoError(t, err)
	assert.Equal(t, TypeSourceFile, typ)

	typ, err = ParseType("")
	assert.NoError(t, err)
	assert.Equal(t, TypeProductFile, typ)

	_, err = ParseType("folder")
	assert.Error(t, err)
}
