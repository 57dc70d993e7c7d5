package parserpool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/cooker/internal/types"
)

// DiskCache is the on-disk parse cache, keyed by (file path, mtime,
// config hash, applied-append mtimes). The xxhash of that tuple is the
// cache-entry filename, so the cache survives process restarts without
// a separate index file.
type DiskCache struct {
	dir string
}

func NewDiskCache(dir string) *DiskCache {
	return &DiskCache{dir: dir}
}

type cacheEntry struct {
	Infos []types.RecipeInfo `json:"infos"`
}

// Key computes the cache key for file given its current appends and the
// configuration hash. A changed mtime on the recipe or any append, or a
// changed configHash, yields a different key — this is cacheValid()
// expressed as "does the key match", rather than as a separate
// validity check, so a cache miss and a stale entry look identical to
// the caller.
func (c *DiskCache) Key(file string, appends []string, configHash string) (string, error) {
	fi, err := os.Stat(file)
	if err != nil {
		return "", fmt.Errorf("stat recipe %s: %w", file, err)
	}

	h := xxhash.New()
	fmt.Fprintf(h, "file=%s\nmtime=%d\nconfig=%s\n", file, fi.ModTime().UnixNano(), configHash)

	sorted := append([]string(nil), appends...)
	sort.Strings(sorted)
	for _, a := range sorted {
		ai, err := os.Stat(a)
		if err != nil {
			fmt.Fprintf(h, "append=%s\nmissing\n", a)
			continue
		}
		fmt.Fprintf(h, "append=%s\nmtime=%d\n", a, ai.ModTime().UnixNano())
	}
	return strconv.FormatUint(h.Sum64(), 16), nil
}

func (c *DiskCache) entryPath(key string) string {
	if len(key) < 2 {
		return filepath.Join(c.dir, key+".json")
	}
	return filepath.Join(c.dir, key[:2], key+".json")
}

// Load returns the cached RecipeInfo array for key, if present.
func (c *DiskCache) Load(key string) ([]types.RecipeInfo, bool) {
	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		return nil, false
	}
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	return entry.Infos, true
}

// Store persists infos under key via a temp-file-then-rename so a
// concurrent Load never observes a partially written entry.
func (c *DiskCache) Store(key string, infos []types.RecipeInfo) error {
	path := c.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(cacheEntry{Infos: infos})
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
