// Package recipecache is a passive, mutex-guarded aggregate of indices
// built from every RecipeInfo the parser pool produces. It is written
// only by the driver goroutine and read by the resolver, the task-data
// builder, and the graph projections; a plain RWMutex guards it since
// the index values are composite maps that cannot merge atomically.
package recipecache

import (
	"sort"
	"strings"
	"sync"

	"github.com/standardbeagle/cooker/internal/layer"
	"github.com/standardbeagle/cooker/internal/logging"
	"github.com/standardbeagle/cooker/internal/types"
)

// SkippedPackage records a recipe that parsed successfully but opted
// out of providing anything, so a later query can explain the skip.
type SkippedPackage struct {
	File   string
	PN     string
	Reason string
}

// RecipeCache is an aggregate of indices over RecipeInfos.
type RecipeCache struct {
	mu sync.RWMutex

	pkgFn       map[string]string              // file -> pn
	pnProvides  map[string][]string             // pn -> provides
	providers   map[string][]string             // item -> [file], ordered
	rproviders  map[string][]string             // item -> [file], ordered
	preferred   map[string]string               // providee -> provider pn
	inherits    map[string][]string             // file -> [class]
	rundeps     map[string]map[string][]string  // file -> package -> [str]
	runrecs     map[string]map[string][]string  // file -> package -> [str]
	pkgPEPVPR   map[string]types.PEPVPR         // file -> (pe,pv,pr)
	bbPriority  map[string]int                  // file -> priority
	bbConfigPri []layer.Resolved                // (layer, pattern, regex, priority)
	ignored     map[string]bool                 // ASSUME_PROVIDED set
	worldTarget map[string]bool                 // pn set
	universe    map[string]bool                 // pn set
	possWorld   map[string]bool                 // file set

	skiplist []SkippedPackage

	matchedPatterns map[string]bool // layer pattern strings that matched >=1 file

	// infos holds the full RecipeInfo per file. The task-data builder
	// needs each file's raw Depends list, which no derived index keeps,
	// so the cache retains the source record alongside its indices.
	infos map[string]types.RecipeInfo
}

// New constructs an empty cache seeded with the resolved layer set (used
// for bbfile_priority lookups and the dead-pattern audit) and the
// ASSUME_PROVIDED ignored set.
func New(layers []layer.Resolved, ignored []string) *RecipeCache {
	c := &RecipeCache{
		pkgFn:           map[string]string{},
		pnProvides:      map[string][]string{},
		providers:       map[string][]string{},
		rproviders:      map[string][]string{},
		preferred:       map[string]string{},
		inherits:        map[string][]string{},
		rundeps:         map[string]map[string][]string{},
		runrecs:         map[string]map[string][]string{},
		pkgPEPVPR:       map[string]types.PEPVPR{},
		bbPriority:      map[string]int{},
		bbConfigPri:     layers,
		ignored:         map[string]bool{},
		worldTarget:     map[string]bool{},
		universe:        map[string]bool{},
		possWorld:       map[string]bool{},
		matchedPatterns: map[string]bool{},
		infos:           map[string]types.RecipeInfo{},
	}
	for _, item := range ignored {
		c.ignored[item] = true
	}
	return c
}

// SetPreferred records a PREFERRED_PROVIDERS mapping. It returns false
// if providee already maps to a different provider, so the caller can
// report the conflict instead of silently dropping it.
func (c *RecipeCache) SetPreferred(providee, providerPN string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.preferred[providee]; ok && existing != providerPN {
		return false
	}
	c.preferred[providee] = providerPN
	return true
}

// AddFromRecipeInfo merges one virtual variant's RecipeInfo into the
// cache's indices. It is idempotent: calling it twice with identical
// (file, info) produces the same index state as calling it once,
// because every index it touches is either a plain overwrite (pkg_fn,
// pkg_pepvpr, bbfile_priority, ...) or a dedup-on-insert append
// (providers, rproviders, pn_provides, inherits, rundeps, runrecs).
func (c *RecipeCache) AddFromRecipeInfo(file string, info types.RecipeInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if info.Skipped {
		c.recordSkippedLocked(file, info)
		return
	}

	c.infos[file] = info
	c.pkgFn[file] = info.PN
	c.pkgPEPVPR[file] = info.PEPVPR()
	c.inherits[file] = dedupAppend(c.inherits[file], info.Inherits...)
	c.pnProvides[info.PN] = dedupAppend(c.pnProvides[info.PN], info.Provides...)

	priority, matched := layer.PriorityFor(c.bbConfigPri, file)
	c.bbPriority[file] = priority
	if matched != nil {
		c.matchedPatterns[matched.Pattern] = true
	}

	c.addProviderLocked(c.providers, info.PN, file)
	for _, item := range info.Provides {
		c.addProviderLocked(c.providers, item, file)
	}
	for _, item := range info.RProvides {
		c.addProviderLocked(c.rproviders, item, file)
	}

	if c.rundeps[file] == nil {
		c.rundeps[file] = map[string][]string{}
	}
	for pkg, deps := range info.RDepends {
		c.rundeps[file][pkg] = dedupAppend(c.rundeps[file][pkg], deps...)
	}
	if c.runrecs[file] == nil {
		c.runrecs[file] = map[string][]string{}
	}
	for pkg, recs := range info.RRecommends {
		c.runrecs[file][pkg] = dedupAppend(c.runrecs[file][pkg], recs...)
	}

	c.possWorld[file] = true
	// A recipe providing a virtual/ item is excluded from world:
	// virtual providers are selected by PREFERRED_PROVIDERS/first-match,
	// not by blanket inclusion in the world build.
	providesVirtual := false
	for _, item := range info.Provides {
		if strings.HasPrefix(item, "virtual/") {
			providesVirtual = true
			break
		}
	}
	if !c.ignored[info.PN] && !providesVirtual {
		c.worldTarget[info.PN] = true
	}
	c.universe[info.PN] = true
}

func (c *RecipeCache) recordSkippedLocked(file string, info types.RecipeInfo) {
	for _, s := range c.skiplist {
		if s.File == file {
			return
		}
	}
	c.skiplist = append(c.skiplist, SkippedPackage{File: file, PN: info.PN, Reason: info.SkipReason})
	delete(c.possWorld, file)
}

func (c *RecipeCache) addProviderLocked(index map[string][]string, item, file string) {
	for _, existing := range index[item] {
		if existing == file {
			c.reorderProvidersLocked(index, item)
			return
		}
	}
	index[item] = append(index[item], file)
	c.reorderProvidersLocked(index, item)
}

// reorderProvidersLocked keeps providers[item] sorted by descending
// bbfile_priority then descending PEPVPR then ascending path, so the
// resolver can simply take providers[item][0] once ineligible entries
// are filtered.
func (c *RecipeCache) reorderProvidersLocked(index map[string][]string, item string) {
	files := index[item]
	sort.SliceStable(files, func(i, j int) bool {
		fi, fj := files[i], files[j]
		pi, pj := c.bbPriority[fi], c.bbPriority[fj]
		if pi != pj {
			return pi > pj
		}
		vi, vj := c.pkgPEPVPR[fi], c.pkgPEPVPR[fj]
		if cmp := vi.Compare(vj); cmp != 0 {
			return cmp > 0
		}
		return fi < fj
	})
}

// CollectionPriorities returns {file: priority} for files, using the
// resolved layer regex set, and records which patterns matched so
// dead-pattern detection can run later.
func (c *RecipeCache) CollectionPriorities(files []string) map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(files))
	for _, f := range files {
		priority, matched := layer.PriorityFor(c.bbConfigPri, f)
		out[f] = priority
		if matched != nil {
			c.matchedPatterns[matched.Pattern] = true
		}
	}
	return out
}

// UnmatchedPatterns returns the layer patterns that never matched a
// single collected file, for the dead-pattern warning.
func (c *RecipeCache) UnmatchedPatterns() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, l := range c.bbConfigPri {
		if !c.matchedPatterns[l.Pattern] {
			out = append(out, l.Pattern)
		}
	}
	sort.Strings(out)
	return out
}

func (c *RecipeCache) PkgFn(file string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pn, ok := c.pkgFn[file]
	return pn, ok
}

func (c *RecipeCache) BBFilePriority(file string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bbPriority[file]
}

func (c *RecipeCache) Providers(item string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.providers[item]...)
}

func (c *RecipeCache) RProviders(item string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.rproviders[item]...)
}

func (c *RecipeCache) Preferred(providee string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pn, ok := c.preferred[providee]
	return pn, ok
}

func (c *RecipeCache) Inherits(file string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.inherits[file]...)
}

func (c *RecipeCache) PEPVPR(file string) types.PEPVPR {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pkgPEPVPR[file]
}

// Info returns the full RecipeInfo last recorded for file.
func (c *RecipeCache) Info(file string) (types.RecipeInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.infos[file]
	return info, ok
}

func (c *RecipeCache) IsIgnored(item string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ignored[item]
}

func (c *RecipeCache) WorldTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return setKeys(c.worldTarget)
}

func (c *RecipeCache) UniverseTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return setKeys(c.universe)
}

func (c *RecipeCache) PossibleWorld() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return setKeys(c.possWorld)
}

func (c *RecipeCache) Skiplist() []SkippedPackage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]SkippedPackage(nil), c.skiplist...)
}

// ExcludeFromWorld removes pn from the world target set without
// touching universe or possible_world.
func (c *RecipeCache) ExcludeFromWorld(pn string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.worldTarget, pn)
}

// PruneWorldConflicts drops every pn from the world target set whose
// provided items are also provided by a recipe with a different pn: a
// contested item needs an explicit provider choice, not blanket
// inclusion in a world build. Run once after parsing has populated the
// cache.
func (c *RecipeCache) PruneWorldConflicts() {
	c.mu.RLock()
	var conflicted []string
	for pn := range c.worldTarget {
		for _, item := range c.pnProvides[pn] {
			contested := false
			for _, pf := range c.providers[item] {
				if c.pkgFn[pf] != pn {
					contested = true
					break
				}
			}
			if contested {
				conflicted = append(conflicted, pn)
				break
			}
		}
	}
	c.mu.RUnlock()
	for _, pn := range conflicted {
		logging.Debug("world build skipping recipe with a contested provide", "pn", pn)
		c.ExcludeFromWorld(pn)
	}
}

func dedupAppend(existing []string, add ...string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e] = true
	}
	out := existing
	for _, a := range add {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

func setKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
