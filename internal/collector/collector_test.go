package collector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/cooker/internal/config"
	"github.com/standardbeagle/cooker/internal/layer"
)

func intp(v int) *int { return &v }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCollect_OverlaySelection(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "A", "foo_1.0.bb"), "")
	writeFile(t, filepath.Join(dir, "B", "foo_1.0.bb"), "")

	cfg := &config.Config{
		TopDir:  dir,
		BBFiles: []string{filepath.Join(dir, "A"), filepath.Join(dir, "B")},
		Layers: []config.LayerConfig{
			{Name: "A", Pattern: filepath.Join(dir, "A") + `/.*`, ExplicitPriority: intp(5)},
			{Name: "B", Pattern: filepath.Join(dir, "B") + `/.*`, ExplicitPriority: intp(6)},
		},
	}
	resolved, err := layer.Resolve(cfg)
	require.NoError(t, err)

	fc := New(cfg, resolved)
	collected, err := fc.Collect()
	require.NoError(t, err)

	require.Len(t, collected.Recipes, 2)
	winner := collected.Recipes[0]
	assert.Contains(t, winner, filepath.Join("B", "foo_1.0.bb"))

	shadowed, ok := collected.Overlays[winner]
	require.True(t, ok)
	require.Len(t, shadowed, 1)
	assert.Contains(t, shadowed[0], filepath.Join("A", "foo_1.0.bb"))
}

func TestCollect_AppendApplication(t *testing.T) {
	dir := t.TempDir()
	recipe := filepath.Join(dir, "foo_1.0.bb")
	appendFile := filepath.Join(dir, "foo_%.bbappend")
	writeFile(t, recipe, "")
	writeFile(t, appendFile, "")

	cfg := &config.Config{TopDir: dir, BBFiles: []string{dir}}
	fc := New(cfg, nil)
	collected, err := fc.Collect()
	require.NoError(t, err)
	require.Len(t, collected.Recipes, 1)

	appends := collected.Appends.GetFileAppends(collected.Recipes[0])
	require.Len(t, appends, 1)
	assert.Contains(t, appends[0], "foo_%.bbappend")

	assert.Empty(t, collected.Appends.Dangling())
}

func TestCollect_DanglingAppendReported(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bar_1.0.bb"), "")
	writeFile(t, filepath.Join(dir, "unrelated.bbappend"), "")

	cfg := &config.Config{TopDir: dir, BBFiles: []string{dir}}
	fc := New(cfg, nil)
	collected, err := fc.Collect()
	require.NoError(t, err)

	for _, r := range collected.Recipes {
		collected.Appends.GetFileAppends(r)
	}
	assert.Equal(t, []string{"unrelated.bb"}, collected.Appends.Dangling())
}

func TestCollect_BBMaskExcludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep_1.0.bb"), "")
	writeFile(t, filepath.Join(dir, "contrib", "drop_1.0.bb"), "")

	cfg := &config.Config{TopDir: dir, BBFiles: []string{dir}, BBMask: "contrib"}
	fc := New(cfg, nil)
	collected, err := fc.Collect()
	require.NoError(t, err)
	assert.Equal(t, 1, collected.Masked)
	require.Len(t, collected.Recipes, 1)
	assert.Contains(t, collected.Recipes[0], "keep_1.0.bb")
}

func TestCollect_InvalidMaskTreatedAsNoMask(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep_1.0.bb"), "")

	cfg := &config.Config{TopDir: dir, BBFiles: []string{dir}, BBMask: "("}
	fc := New(cfg, nil)
	collected, err := fc.Collect()
	require.NoError(t, err)
	assert.Equal(t, 0, collected.Masked)
	assert.Len(t, collected.Recipes, 1)
}

func TestCollect_FallbackToCWDWhenBBFilesEmpty(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cwd_1.0.bb"), "")

	cfg := &config.Config{TopDir: dir}
	fc := New(cfg, nil)
	collected, err := fc.Collect()
	require.NoError(t, err)
	require.Len(t, collected.Recipes, 1)
	assert.Contains(t, collected.Recipes[0], "cwd_1.0.bb")
}
