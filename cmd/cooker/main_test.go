package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/cooker/internal/errors"
)

// writeRecipe creates a minimal "name_version.bb" file stubParser can
// derive a PN/PV from.
func writeRecipe(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("# recipe\n"), 0o644))
	return path
}

func TestBuildCommand_ResolvesAndPlansTarget(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "app_1.0.bb")
	writeRecipe(t, root, "libfoo_2.0.bb")

	app := newApp()
	err := app.Run([]string{"cooker", "--root", root, "build", "app"})
	require.NoError(t, err)
}

func TestBuildCommand_EmptyTargetListFails(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "app_1.0.bb")

	app := newApp()
	err := app.Run([]string{"cooker", "--root", root, "build"})
	require.Error(t, err)
}

func TestBuildCommand_WritesDotGraph(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "app_1.0.bb")
	graphDir := filepath.Join(root, "graphs")

	app := newApp()
	err := app.Run([]string{"cooker", "--root", root, "--graph-dir", graphDir, "build", "app"})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(graphDir, "task-depends.dot"))
	assert.FileExists(t, filepath.Join(graphDir, "recipe-depends.dot"))
	assert.FileExists(t, filepath.Join(graphDir, "package-depends.dot"))
	assert.FileExists(t, filepath.Join(graphDir, "building.list"))
}

func TestShowEnvironment_NoTargetIsNoSpecificMatch(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "app_1.0.bb")

	app := newApp()
	err := app.Run([]string{"cooker", "--root", root, "show-environment"})
	require.Error(t, err)
	var nsm *errors.NoSpecificMatch
	require.ErrorAs(t, err, &nsm)
}

func TestShowEnvironment_ResolvesTarget(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "app_1.0.bb")

	app := newApp()
	err := app.Run([]string{"cooker", "--root", root, "show-environment", "app"})
	require.NoError(t, err)
}

func TestExitCodeFor_HandledVsUnknown(t *testing.T) {
	assert.Equal(t, 1, exitCodeFor(&errors.NothingToBuild{}))
	assert.Equal(t, 2, exitCodeFor(assert.AnError))
}
