package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/assetq/internal/domain/job"
)

func sources(jobs []*job.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Identity().Source)
	}
	return out
}

func TestSearchTiers(t *testing.T) {
	c := newCollection(t)
	for _, src := range []string{
		"textures/rock_diffuse.png",
		"textures/rock.tga",
		"models/tree.fbx",
		"data.txt",
		"metadata.txt",
	} {
		_, err := c.Insert(details(src, "pc", "compile"))
		require.NoError(t, err)
	}

	tests := []struct {
		name string
		term string
		want []string
	}{
		{name: "full suffix", term: "textures/rock.tga", want: []string{"textures/rock.tga"}},
		{name: "suffix respects segments", term: "data.txt", want: []string{"data.txt"}},
		{name: "backslashes and case", term: `Models\Tree.FBX`, want: []string{"models/tree.fbx"}},
		{name: "without extension", term: "models/tree.dds", want: []string{"models/tree.fbx"}},
		{name: "underscore suffix containment", term: "rock_normal.png", want: []string{"textures/rock_diffuse.png", "textures/rock.tga"}},
		{name: "stem too short", term: "ab_x.png", want: []string{}},
		{name: "no match", term: "sounds/boom.wav", want: []string{}},
		{name: "empty term", term: "  ", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, sources(c.Search("pc", tt.term)))
		})
	}
}

func TestSearchFiltersPlatformAndFinishedJobs(t *testing.T) {
	c := newCollection(t)
	pc, err := c.Insert(details("a.png", "pc", "compile"))
	require.NoError(t, err)
	_, err = c.Insert(details("a.png", "android", "compile"))
	require.NoError(t, err)

	assert.Len(t, c.Search("", "a.png"), 2)
	assert.Equal(t, []*job.Job{pc}, c.Search("PC", "a.png"))

	require.NoError(t, pc.Transition(job.StateCancelled))
	assert.Empty(t, c.Search("pc", "a.png"))
}

func TestSearchHonoursOptions(t *testing.T) {
	c := newCollection(t, WithSearchOptions(SearchOptions{}))
	_, err := c.Insert(details("models/tree.fbx", "pc", "compile"))
	require.NoError(t, err)

	assert.Empty(t, c.Search("pc", "tree.dds"))
	assert.Empty(t, c.Search("pc", "tree_lod1.fbx"))
	assert.Len(t, c.Search("pc", "tree.fbx"), 1)
}
