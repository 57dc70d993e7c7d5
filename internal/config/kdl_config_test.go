package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoSessionFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "build", cfg.DefaultTask)
	assert.Empty(t, cfg.Layers)
}

func TestLoad_ParsesLayersAndPreferredProviders(t *testing.T) {
	dir := t.TempDir()
	content := `
topdir "."
bbfiles "recipes-*/**/*.bb"
bbmask "contrib"
num_parse_threads 4
dangling_appends_warn_only true

layer "core" {
    pattern "^.*/meta/recipes-.*/"
    priority 5
}
layer "extra" {
    pattern "^.*/meta-extra/recipes-.*/"
    depends "core"
}

preferred_providers {
    bar "bar_1.0"
}

assume_provided "gcc" "glibc"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, SessionFileName), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	require.Len(t, cfg.Layers, 2)
	assert.Equal(t, "core", cfg.Layers[0].Name)
	require.NotNil(t, cfg.Layers[0].ExplicitPriority)
	assert.Equal(t, 5, *cfg.Layers[0].ExplicitPriority)
	assert.Equal(t, "extra", cfg.Layers[1].Name)
	assert.Equal(t, []string{"core"}, cfg.Layers[1].Depends)

	assert.Equal(t, []string{"core", "extra"}, cfg.BBFileCollections)
	assert.Equal(t, 4, cfg.NumParseThreads)
	assert.True(t, cfg.DanglingAppendsWarnOnly)
	assert.Equal(t, "bar_1.0", cfg.PreferredProviders["bar"])
	assert.ElementsMatch(t, []string{"gcc", "glibc"}, cfg.AssumeProvided)
}

func TestValidate_MissingPattern(t *testing.T) {
	cfg := Default()
	cfg.BBFileCollections = []string{"core"}
	cfg.Layers = []LayerConfig{{Name: "core"}}
	problems := cfg.Validate()
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "core")
}

func TestBBPathDirs(t *testing.T) {
	assert.Equal(t, []string{"/a", "/b"}, BBPathDirs("/a::/b"))
	assert.Nil(t, BBPathDirs(""))
}
