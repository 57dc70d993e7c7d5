// Package provider chooses, for a requested item name, the single best
// recipe file that provides it. Tie-breaking reuses types.PEPVPR.Compare
// and is already applied by internal/recipecache when it keeps each
// providers[item] list sorted on insert, so Resolve only has to filter
// and take the head of an already-ordered list.
package provider

import (
	"sort"
	"sync"

	"github.com/hbollon/go-edlib"

	"github.com/standardbeagle/cooker/internal/errors"
	"github.com/standardbeagle/cooker/internal/events"
	"github.com/standardbeagle/cooker/internal/recipecache"
)

// CloseMatchThreshold is the minimum Jaro-Winkler similarity score for a
// universe item to be suggested as a "did you mean" candidate in a
// NoProvider error.
const CloseMatchThreshold = 0.82

const maxCloseMatches = 5

// Resolver resolves item names against a populated RecipeCache. It
// remembers each selection so a later PREFERRED_PROVIDERS-driven choice
// that contradicts an earlier one for the same providee is an error
// rather than a silent flip. Safe for concurrent Resolve calls.
type Resolver struct {
	cache *recipecache.RecipeCache
	bus   *events.Bus

	mu       sync.Mutex
	selected map[string]string // item -> chosen file
}

func New(cache *recipecache.RecipeCache, bus *events.Bus) *Resolver {
	return &Resolver{cache: cache, bus: bus, selected: map[string]string{}}
}

// Resolve picks the best file providing item. If item is in
// ASSUME_PROVIDED, it returns ("", nil): the item is taken as already
// satisfied and no recipe is selected for it. Otherwise it returns the
// chosen file, or a *errors.NoProvider if none is eligible.
func (r *Resolver) Resolve(item string, runtime bool) (string, error) {
	if r.cache.IsIgnored(item) {
		return "", nil
	}

	var candidates []string
	if runtime {
		candidates = r.cache.RProviders(item)
	} else {
		candidates = r.cache.Providers(item)
	}

	if pref, ok := r.cache.Preferred(item); ok {
		r.mu.Lock()
		prior, hadPrior := r.selected[item]
		r.mu.Unlock()
		if hadPrior && len(r.filterByPN([]string{prior}, pref)) == 0 {
			return "", &errors.NoProvider{
				Item:    item,
				Runtime: runtime,
				Reasons: []string{"PREFERRED_PROVIDERS names " + pref + " but " + prior + " was already selected for " + item},
			}
		}
		candidates = r.filterByPN(candidates, pref)
		if len(candidates) == 0 {
			err := &errors.NoProvider{
				Item:    item,
				Runtime: runtime,
				Reasons: []string{"PREFERRED_PROVIDERS names " + pref + " but no eligible recipe has that PN"},
			}
			r.fireNoProvider(item, runtime, nil)
			return "", err
		}
	}

	if len(candidates) == 0 {
		closeMatches := r.CloseMatches(item)
		r.fireNoProvider(item, runtime, closeMatches)
		return "", &errors.NoProvider{Item: item, Runtime: runtime, CloseMatches: closeMatches}
	}

	if len(candidates) > 1 && r.bus != nil {
		r.bus.Fire(events.NewMultipleProviders(item, candidates))
	}

	// candidates is already ordered (bbfile_priority desc, PEPVPR desc,
	// path asc) by recipecache's insert-time sort, so the winner is the
	// head of the list.
	r.mu.Lock()
	r.selected[item] = candidates[0]
	r.mu.Unlock()
	return candidates[0], nil
}

// filterByPN keeps the candidates whose PN matches pref. A pref of the
// form "pn_version" additionally pins the version, so a preference can
// distinguish two recipes sharing one PN.
func (r *Resolver) filterByPN(candidates []string, pref string) []string {
	var out []string
	for _, f := range candidates {
		fpn, ok := r.cache.PkgFn(f)
		if !ok {
			continue
		}
		if fpn == pref || fpn+"_"+r.cache.PEPVPR(f).Version == pref {
			out = append(out, f)
		}
	}
	return out
}

func (r *Resolver) fireNoProvider(item string, runtime bool, closeMatches []string) {
	if r.bus != nil {
		r.bus.Fire(events.NewNoProvider(item, runtime, closeMatches))
	}
}

// closeMatch pairs a universe item name with its similarity score.
type closeMatch struct {
	name  string
	score float32
}

// CloseMatches returns up to maxCloseMatches universe item names whose
// Jaro-Winkler similarity to item is at least CloseMatchThreshold,
// ranked highest-first. StringsSimilarity returns similarity directly,
// not a raw edit distance.
func (r *Resolver) CloseMatches(item string) []string {
	universe := r.cache.UniverseTargets()
	var scored []closeMatch
	for _, candidate := range universe {
		if candidate == item {
			continue
		}
		score, err := edlib.StringsSimilarity(item, candidate, edlib.JaroWinkler)
		if err != nil || score < CloseMatchThreshold {
			continue
		}
		scored = append(scored, closeMatch{name: candidate, score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].name < scored[j].name
	})
	if len(scored) > maxCloseMatches {
		scored = scored[:maxCloseMatches]
	}
	out := make([]string, len(scored))
	for i, s := range scored {
		out[i] = s.name
	}
	return out
}
