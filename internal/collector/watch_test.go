package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/cooker/internal/config"
)

func TestWatch_ReportsRecipeFileChanges(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{TopDir: dir, BBFiles: []string{dir}}
	fc := New(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan string, 8)
	require.NoError(t, fc.Watch(ctx, []string{dir}, func(path string) {
		changes <- path
	}))

	recipe := filepath.Join(dir, "new_1.0.bb")
	require.NoError(t, os.WriteFile(recipe, []byte("# recipe\n"), 0o644))

	select {
	case path := <-changes:
		require.Equal(t, recipe, path)
	case <-time.After(5 * time.Second):
		t.Fatal("no change event within timeout")
	}
}

func TestWatch_IgnoresNonRecipeFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{TopDir: dir, BBFiles: []string{dir}}
	fc := New(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan string, 8)
	require.NoError(t, fc.Watch(ctx, []string{dir}, func(path string) {
		changes <- path
	}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	select {
	case path := <-changes:
		t.Fatalf("unexpected change event for %s", path)
	case <-time.After(500 * time.Millisecond):
	}
}
