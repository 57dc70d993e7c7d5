// Package depgraph builds task-, recipe-, and package-level projections
// over a built TaskData, either fired as a DepTreeGenerated event or
// written as three .dot files plus a flat build list. The .dot text is
// emitted directly rather than shelling out to `dot`.
package depgraph

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/standardbeagle/cooker/internal/events"
	"github.com/standardbeagle/cooker/internal/recipecache"
	"github.com/standardbeagle/cooker/internal/taskdata"
	"github.com/standardbeagle/cooker/internal/types"
)

// Node is one pn's projection into the graph: its recipe file, version,
// inherited classes, and whatever extra cache fields an installed
// extension contributed.
type Node struct {
	Filename string
	Version  string
	Inherits []string
	Extra    map[string]any
}

// Graph holds the three projections plus the per-pn node data.
type Graph struct {
	TaskGraph    map[string][]string // "pn.taskname" -> ["pn.taskname", ...]
	RecipeGraph  map[string][]string // pn -> [pn] build-time
	RuntimeGraph map[string][]string // pn -> [pn] runtime
	PackageGraph map[string][]string // package -> [package] runtime; the pn that owns each package is not recorded
	Nodes        map[string]Node
}

// Builder projects a TaskData through the recipe cache.
type Builder struct {
	cache      *recipecache.RecipeCache
	bus        *events.Bus
	extensions []types.CacheExtension
}

func New(cache *recipecache.RecipeCache, bus *events.Bus, extensions []types.CacheExtension) *Builder {
	return &Builder{cache: cache, bus: bus, extensions: extensions}
}

// Build materializes the three projections from td. The cache is only
// read, never mutated, while a graph is being emitted.
func (b *Builder) Build(td *taskdata.TaskData) *Graph {
	g := &Graph{
		TaskGraph:    map[string][]string{},
		RecipeGraph:  map[string][]string{},
		RuntimeGraph: map[string][]string{},
		PackageGraph: map[string][]string{},
		Nodes:        map[string]Node{},
	}

	pnOf := func(fid int) string {
		pn, _ := b.cache.PkgFn(td.FnIndex[fid])
		return pn
	}

	for i, fid := range td.TasksFnID {
		taskName := td.TasksName[i]
		key := pnOf(fid) + "." + taskName
		for _, depID := range td.DepIDs[fid] {
			g.TaskGraph[key] = append(g.TaskGraph[key], pnOf(depID)+"."+taskName)
		}
	}

	for fid, file := range td.FnIndex {
		pn, ok := b.cache.PkgFn(file)
		if !ok || pn == "" {
			continue
		}

		var buildDeps []string
		for _, depID := range td.DepIDs[fid] {
			buildDeps = append(buildDeps, pnOf(depID))
		}
		g.RecipeGraph[pn] = buildDeps

		var runDeps []string
		for _, depID := range td.RDepIDs[fid] {
			runDeps = append(runDeps, pnOf(depID))
		}
		g.RuntimeGraph[pn] = runDeps

		info, _ := b.cache.Info(file)
		for pkg, deps := range info.RDepends {
			g.PackageGraph[pkg] = append(g.PackageGraph[pkg], deps...)
		}

		g.Nodes[pn] = Node{
			Filename: file,
			Version:  info.PV,
			Inherits: b.cache.Inherits(file),
			Extra:    b.extractExtra(info),
		}
	}

	return g
}

// extractExtra returns the subset of info.Extra declared by an
// installed cache extension: the union of every extension's declared
// cache fields.
func (b *Builder) extractExtra(info types.RecipeInfo) map[string]any {
	if len(b.extensions) == 0 || len(info.Extra) == 0 {
		return nil
	}
	out := map[string]any{}
	for _, ext := range b.extensions {
		for _, field := range ext.CacheFields {
			if v, ok := info.Extra[field]; ok {
				out[field] = v
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Emit fires a DepTreeGenerated event carrying the three graphs. This
// and WriteDotFiles are mutually exclusive emission paths.
func (b *Builder) Emit(g *Graph) {
	if b.bus != nil {
		b.bus.Fire(events.NewDepTreeGenerated(g.TaskGraph, g.RecipeGraph, g.PackageGraph))
	}
}

// WriteDotFiles writes task-depends.dot, recipe-depends.dot (build
// edges solid, runtime edges dashed) and package-depends.dot into dir,
// plus a flat building.list of every pn in buildTargets.
func (g *Graph) WriteDotFiles(dir string, buildTargets []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeDot(filepath.Join(dir, "task-depends.dot"), "task_depends", []dotEdgeSet{
		{edges: g.TaskGraph, style: ""},
	}); err != nil {
		return err
	}
	if err := writeDot(filepath.Join(dir, "recipe-depends.dot"), "recipe_depends", []dotEdgeSet{
		{edges: g.RecipeGraph, style: ""},
		{edges: g.RuntimeGraph, style: "dashed"},
	}); err != nil {
		return err
	}
	if err := writeDot(filepath.Join(dir, "package-depends.dot"), "package_depends", []dotEdgeSet{
		{edges: g.PackageGraph, style: "dashed"},
	}); err != nil {
		return err
	}
	return writeBuildList(filepath.Join(dir, "building.list"), buildTargets)
}

type dotEdgeSet struct {
	edges map[string][]string
	style string
}

func writeDot(path, graphName string, sets []dotEdgeSet) error {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %s {\n", graphName)
	for _, set := range sets {
		keys := make([]string, 0, len(set.edges))
		for k := range set.edges {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, from := range keys {
			targets := append([]string(nil), set.edges[from]...)
			sort.Strings(targets)
			for _, to := range targets {
				if set.style != "" {
					fmt.Fprintf(&b, "  %q -> %q [style=%s];\n", from, to, set.style)
				} else {
					fmt.Fprintf(&b, "  %q -> %q;\n", from, to)
				}
			}
		}
	}
	b.WriteString("}\n")
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeBuildList(path string, targets []string) error {
	sorted := append([]string(nil), targets...)
	sort.Strings(sorted)
	var b strings.Builder
	for _, t := range sorted {
		b.WriteString(t)
		b.WriteString("\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
