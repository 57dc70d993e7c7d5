package collector

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/cooker/internal/logging"
)

// Watch monitors the directories backing BBFILES for changes to .bb,
// .bbappend, .bbclass, .inc and .conf files and invokes onChange with
// the changed path. Optional: Collect alone is sufficient to build a plan once.
func (fc *FileCollector) Watch(ctx context.Context, roots []string, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	added := map[string]bool{}
	addDir := func(dir string) {
		if !added[dir] {
			if err := watcher.Add(dir); err == nil {
				added[dir] = true
			}
		}
	}
	for _, root := range roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			if skipDirNames[d.Name()] {
				return filepath.SkipDir
			}
			addDir(path)
			return nil
		})
		addDir(root)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if isRecipeLike(ev.Name) {
					logging.Debug("recipe file changed", "path", ev.Name, "op", ev.Op.String())
					onChange(ev.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("watch error", "error", err)
			}
		}
	}()
	return nil
}

func isRecipeLike(path string) bool {
	for _, suffix := range []string{".bb", ".bbappend", ".bbclass", ".inc", ".conf"} {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}
