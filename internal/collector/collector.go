// Package collector expands BBFILES into a deduplicated,
// priority-sorted recipe list, builds the .bbappend index, applies
// BBMASK, and detects overlay shadowing.
package collector

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/cooker/internal/config"
	"github.com/standardbeagle/cooker/internal/events"
	"github.com/standardbeagle/cooker/internal/layer"
	"github.com/standardbeagle/cooker/internal/logging"
)

var skipDirNames = map[string]bool{".git": true, "CVS": true, "SCCS": true, ".svn": true}

// AppendIndex maps a recipe basename (possibly "%"-wildcarded) to the
// append files that augment it, and tracks which entries have been
// consulted via GetFileAppends.
type AppendIndex struct {
	mu      sync.Mutex
	byBase  map[string][]string
	applied map[string]bool
}

func newAppendIndex() *AppendIndex {
	return &AppendIndex{byBase: map[string][]string{}, applied: map[string]bool{}}
}

func (a *AppendIndex) add(basename, appendPath string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byBase[basename] = append(a.byBase[basename], appendPath)
}

// GetFileAppends returns the append paths that apply to file, and marks
// every matching basename pattern as applied for the dangling-append
// audit.
func (a *AppendIndex) GetFileAppends(file string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	base := filepath.Base(file)
	var out []string
	for pattern, appends := range a.byBase {
		if matchesAppendPattern(pattern, base) {
			a.applied[pattern] = true
			out = append(out, appends...)
		}
	}
	return out
}

func matchesAppendPattern(pattern, base string) bool {
	if pattern == base {
		return true
	}
	if idx := strings.Index(pattern, "%"); idx >= 0 {
		return strings.HasPrefix(base, pattern[:idx])
	}
	return false
}

// Dangling returns the append basename patterns that were never consulted
// via GetFileAppends, i.e. applied to no recipe.
func (a *AppendIndex) Dangling() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for pattern := range a.byBase {
		if !a.applied[pattern] {
			out = append(out, pattern)
		}
	}
	sort.Strings(out)
	return out
}

// Collected is the collector's output: the recipe list
// (priority-sorted), the append index, and the overlay map
// (winner -> shadowed).
type Collected struct {
	Recipes  []string
	Masked   int
	Appends  *AppendIndex
	Overlays map[string][]string
}

// FileCollector enumerates recipe and append files for one session.
type FileCollector struct {
	cfg    *config.Config
	layers []layer.Resolved

	// Bus, if set, receives a FilesMatchingFound event per expanded
	// BBFILES entry. Nil keeps Collect silent.
	Bus *events.Bus
}

func New(cfg *config.Config, layers []layer.Resolved) *FileCollector {
	return &FileCollector{cfg: cfg, layers: layers}
}

// Collect expands, dedups, masks, sorts, and indexes the configured
// recipe set, returning the recipes, append index, and overlay map.
func (fc *FileCollector) Collect() (*Collected, error) {
	patterns := fc.cfg.BBFiles
	if len(patterns) == 0 {
		cwd, err := fallbackCWDRecipes(fc.cfg.TopDir)
		if err != nil {
			return nil, err
		}
		patterns = cwd
	}

	seen := map[string]bool{}
	var all []string
	for _, pattern := range patterns {
		expanded, err := expand(pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding BBFILES entry %q: %w", pattern, err)
		}
		if fc.Bus != nil {
			fc.Bus.Fire(events.NewFilesMatchingFound(pattern, expanded))
		}
		for _, f := range expanded {
			if !seen[f] {
				seen[f] = true
				all = append(all, f)
			}
		}
	}

	var maskRe *regexp.Regexp
	if fc.cfg.BBMask != "" {
		re, err := regexp.Compile(fc.cfg.BBMask)
		if err != nil {
			logging.Warn("BBMASK is not a valid regular expression, ignoring", "mask", fc.cfg.BBMask, "error", err)
		} else {
			maskRe = re
		}
	}

	masked := 0
	appends := newAppendIndex()
	var recipes []string
	for _, f := range all {
		if maskRe != nil && maskRe.MatchString(f) {
			masked++
			continue
		}
		switch {
		case strings.HasSuffix(f, ".bb"):
			recipes = append(recipes, f)
		case strings.HasSuffix(f, ".bbappend"):
			base := strings.TrimSuffix(filepath.Base(f), ".bbappend") + ".bb"
			appends.add(base, f)
		default:
			logging.Debug("skipping file with unknown extension", "path", f)
		}
	}

	sort.SliceStable(recipes, func(i, j int) bool {
		pi, _ := layer.PriorityFor(fc.layers, recipes[i])
		pj, _ := layer.PriorityFor(fc.layers, recipes[j])
		if pi != pj {
			return pi > pj
		}
		return recipes[i] < recipes[j]
	})

	overlays := map[string][]string{}
	seenBase := map[string]string{}
	for i := 0; i < len(recipes); i++ {
		f := recipes[i]
		base := filepath.Base(f)
		if winner, ok := seenBase[base]; ok {
			overlays[winner] = append(overlays[winner], f)
		} else {
			seenBase[base] = f
		}
	}

	return &Collected{Recipes: recipes, Masked: masked, Appends: appends, Overlays: overlays}, nil
}

// fallbackCWDRecipes returns the .bb files of the build root, used when
// BBFILES is empty rather than failing outright.
func fallbackCWDRecipes(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".bb") {
			abs, err := filepath.Abs(filepath.Join(root, e.Name()))
			if err != nil {
				continue
			}
			out = append(out, abs)
		}
	}
	return out, nil
}

// expand turns one BBFILES entry into file paths: directory -> recursive
// walk (skipping VCS dirs); else glob; else literal-path existence check.
func expand(pattern string) ([]string, error) {
	info, err := os.Stat(pattern)
	if err == nil && info.IsDir() {
		return walkDir(pattern)
	}

	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		if _, err := os.Stat(pattern); err == nil {
			return []string{pattern}, nil
		}
		return nil, nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		abs, err := filepath.Abs(m)
		if err != nil {
			abs = m
		}
		out = append(out, abs)
	}
	return out, nil
}

func walkDir(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirNames[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		out = append(out, abs)
		return nil
	})
	return out, err
}
