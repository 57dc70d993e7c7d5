package depgraph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/cooker/internal/provider"
	"github.com/standardbeagle/cooker/internal/recipecache"
	"github.com/standardbeagle/cooker/internal/taskdata"
	"github.com/standardbeagle/cooker/internal/types"
)

func buildSampleTaskData(t *testing.T) (*recipecache.RecipeCache, *taskdata.TaskData) {
	t.Helper()
	c := recipecache.New(nil, nil)
	c.AddFromRecipeInfo("/a/app_1.0.bb", types.RecipeInfo{
		PN: "app", PV: "1.0", Provides: []string{"app"},
		Depends:  []string{"libfoo"},
		Inherits: []string{"autotools"},
		Extra:    map[string]any{"checksum": "deadbeef", "unrelated": "x"},
	})
	c.AddFromRecipeInfo("/a/libfoo_2.0.bb", types.RecipeInfo{
		PN: "libfoo", PV: "2.0", Provides: []string{"libfoo"},
	})

	r := provider.New(c, nil)
	b := taskdata.New(c, r, nil, true, "build")
	td, err := b.Build(context.Background(), []string{"app:do_build"})
	require.NoError(t, err)
	return c, td
}

func TestBuild_RecipeGraphReflectsBuildDeps(t *testing.T) {
	c, td := buildSampleTaskData(t)
	gb := New(c, nil, nil)
	g := gb.Build(td)

	assert.ElementsMatch(t, []string{"libfoo"}, g.RecipeGraph["app"])
	assert.Contains(t, g.Nodes, "app")
	assert.Equal(t, "1.0", g.Nodes["app"].Version)
}

func TestBuild_TaskGraphKeyedByPNDotTask(t *testing.T) {
	c, td := buildSampleTaskData(t)
	gb := New(c, nil, nil)
	g := gb.Build(td)

	assert.Contains(t, g.TaskGraph, "app.build")
}

func TestBuild_ExtraFieldsFilteredByInstalledExtensions(t *testing.T) {
	c, td := buildSampleTaskData(t)
	ext := []types.CacheExtension{{ID: "checksums", CacheFields: []string{"checksum"}}}
	gb := New(c, nil, ext)
	g := gb.Build(td)

	extra := g.Nodes["app"].Extra
	require.NotNil(t, extra)
	assert.Equal(t, "deadbeef", extra["checksum"])
	assert.NotContains(t, extra, "unrelated")
}

func TestWriteDotFiles_ProducesThreeFilesAndBuildList(t *testing.T) {
	c, td := buildSampleTaskData(t)
	gb := New(c, nil, nil)
	g := gb.Build(td)

	dir := t.TempDir()
	require.NoError(t, g.WriteDotFiles(dir, []string{"app"}))

	for _, name := range []string{"task-depends.dot", "recipe-depends.dot", "package-depends.dot", "building.list"} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}

	data, err := os.ReadFile(filepath.Join(dir, "recipe-depends.dot"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"app" -> "libfoo"`)
}
