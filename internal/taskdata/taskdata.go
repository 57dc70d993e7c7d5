// Package taskdata expands target names (including the world/universe
// aliases) into a transitive closure of (recipe, task) pairs with
// build-time and runtime dependency edges. Each BFS frontier's
// unresolved items are resolved concurrently via errgroup; the recipe
// cache is read-only for the duration of Build.
package taskdata

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/cooker/internal/errors"
	"github.com/standardbeagle/cooker/internal/events"
	"github.com/standardbeagle/cooker/internal/logging"
	"github.com/standardbeagle/cooker/internal/provider"
	"github.com/standardbeagle/cooker/internal/recipecache"
	"github.com/standardbeagle/cooker/internal/types"
)

// SkippedTarget records a target or dependency that failed to resolve
// in abort=false mode, where failures are recorded rather than fatal.
type SkippedTarget struct {
	Name   string
	Reason string
}

// TaskData is the schedulable plan handed to the run queue.
type TaskData struct {
	mu sync.Mutex

	FnIndex []string       // file index: FnIndex[i] is the i-th resolved recipe file
	fnID    map[string]int // reverse index: file -> its FnIndex position

	TasksFnID []int    // parallel to TasksName: task i belongs to file FnIndex[TasksFnID[i]]
	TasksName []string // task i's name, without the "do_" prefix
	taskSeen  map[string]bool

	DepIDs  map[int][]int // fn index -> build-time dependency fn indices
	RDepIDs map[int][]int // fn index -> runtime dependency fn indices

	BuildTargets map[string]string // requested build-time item -> chosen file
	RunTargets   map[string]string // requested runtime item -> chosen file

	Skipped []SkippedTarget
}

func newTaskData() *TaskData {
	return &TaskData{
		fnID:         map[string]int{},
		taskSeen:     map[string]bool{},
		DepIDs:       map[int][]int{},
		RDepIDs:      map[int][]int{},
		BuildTargets: map[string]string{},
		RunTargets:   map[string]string{},
	}
}

func (td *TaskData) fileIndex(file string) int {
	td.mu.Lock()
	defer td.mu.Unlock()
	if id, ok := td.fnID[file]; ok {
		return id
	}
	id := len(td.FnIndex)
	td.FnIndex = append(td.FnIndex, file)
	td.fnID[file] = id
	return id
}

func (td *TaskData) fileAt(id int) string {
	td.mu.Lock()
	defer td.mu.Unlock()
	return td.FnIndex[id]
}

func (td *TaskData) addTask(fileID int, task string) {
	td.mu.Lock()
	defer td.mu.Unlock()
	key := fmt.Sprintf("%d:%s", fileID, task)
	if td.taskSeen[key] {
		return
	}
	td.taskSeen[key] = true
	td.TasksFnID = append(td.TasksFnID, fileID)
	td.TasksName = append(td.TasksName, task)
}

func (td *TaskData) addBuildDep(fromID, depID int) {
	td.mu.Lock()
	defer td.mu.Unlock()
	for _, d := range td.DepIDs[fromID] {
		if d == depID {
			return
		}
	}
	td.DepIDs[fromID] = append(td.DepIDs[fromID], depID)
}

func (td *TaskData) addRunDep(fromID, depID int) {
	td.mu.Lock()
	defer td.mu.Unlock()
	for _, d := range td.RDepIDs[fromID] {
		if d == depID {
			return
		}
	}
	td.RDepIDs[fromID] = append(td.RDepIDs[fromID], depID)
}

func (td *TaskData) addSkipped(s SkippedTarget) {
	td.mu.Lock()
	defer td.mu.Unlock()
	td.Skipped = append(td.Skipped, s)
}

func (td *TaskData) setBuildTarget(name, file string) {
	td.mu.Lock()
	defer td.mu.Unlock()
	td.BuildTargets[name] = file
}

func (td *TaskData) setRunTarget(name, file string) {
	td.mu.Lock()
	defer td.mu.Unlock()
	td.RunTargets[name] = file
}

// Builder turns requested target names into a TaskData.
type Builder struct {
	cache       *recipecache.RecipeCache
	resolver    *provider.Resolver
	bus         *events.Bus
	abort       bool
	defaultTask string
}

func New(cache *recipecache.RecipeCache, resolver *provider.Resolver, bus *events.Bus, abort bool, defaultTask string) *Builder {
	return &Builder{cache: cache, resolver: resolver, bus: bus, abort: abort, defaultTask: defaultTask}
}

// Build expands targetNames (splitting any ":do_X" suffix and the
// world/universe aliases) into a TaskData, resolving every build- and
// runtime dependency to a fixed point.
func (b *Builder) Build(ctx context.Context, targetNames []string) (*TaskData, error) {
	if len(targetNames) == 0 {
		return nil, &errors.NothingToBuild{}
	}

	td := newTaskData()
	expanded := b.expandAliases(targetNames)

	if b.bus != nil {
		b.bus.Fire(events.NewTreeDataPreparationStarted())
	}

	total := len(expanded)
	step := total / 100
	if step < 1 {
		step = 1
	}

	for i, raw := range expanded {
		target := types.SplitTarget(raw, b.defaultTask)

		if b.cache.IsIgnored(target.Name) {
			logging.Warn("target is in ASSUME_PROVIDED, dropping from build list", "target", target.Name)
			continue
		}

		file, err := b.resolver.Resolve(target.Name, false)
		if err != nil {
			if b.abort {
				return nil, err
			}
			td.addSkipped(SkippedTarget{Name: target.Name, Reason: err.Error()})
			continue
		}
		if file == "" {
			continue
		}

		fid := td.fileIndex(file)
		td.addTask(fid, target.Task)
		td.setBuildTarget(target.Name, file)

		if err := b.resolveClosure(ctx, td, fid); err != nil && b.abort {
			return nil, err
		}

		if b.bus != nil && (i+1)%step == 0 {
			b.bus.Fire(events.NewTreeDataPreparationProgress(i+1, total))
		}
	}

	if b.bus != nil {
		b.bus.Fire(events.NewTreeDataPreparationCompleted(total))
		b.bus.Fire(events.NewTargetsTreeGenerated(expanded))
	}

	return td, nil
}

// expandAliases replaces a bare "world" or "universe" target (optionally
// suffixed with ":do_X") with every matching pn from the RecipeCache,
// reapplying the same task suffix to each.
func (b *Builder) expandAliases(targets []string) []string {
	var out []string
	for _, t := range targets {
		base, suffix := t, ""
		if idx := strings.Index(t, ":do_"); idx >= 0 {
			base, suffix = t[:idx], t[idx:]
		}
		switch base {
		case "world":
			for _, pn := range b.cache.WorldTargets() {
				out = append(out, pn+suffix)
			}
		case "universe":
			for _, pn := range b.cache.UniverseTargets() {
				out = append(out, pn+suffix)
			}
		default:
			out = append(out, t)
		}
	}
	return out
}

// resolveClosure walks the build- and run-dependency graph outward from
// rootID to a fixed point, resolving every frontier's unresolved items
// concurrently via errgroup before advancing to the next frontier.
func (b *Builder) resolveClosure(ctx context.Context, td *TaskData, rootID int) error {
	var visitedMu sync.Mutex
	visited := map[int]bool{rootID: true}
	frontier := []int{rootID}

	for len(frontier) > 0 {
		var nextMu sync.Mutex
		var next []int

		g, gctx := errgroup.WithContext(ctx)
		for _, fid := range frontier {
			fid := fid
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				file := td.fileAt(fid)
				info, ok := b.cache.Info(file)
				if !ok {
					return nil
				}

				resolveOne := func(item string, runtime bool) error {
					depFile, err := b.resolver.Resolve(item, runtime)
					if err != nil {
						if b.abort {
							return err
						}
						td.addSkipped(SkippedTarget{Name: item, Reason: err.Error()})
						return nil
					}
					if depFile == "" {
						return nil
					}
					depID := td.fileIndex(depFile)
					if runtime {
						td.addRunDep(fid, depID)
						td.setRunTarget(item, depFile)
					} else {
						td.addBuildDep(fid, depID)
					}
					visitedMu.Lock()
					isNew := !visited[depID]
					if isNew {
						visited[depID] = true
					}
					visitedMu.Unlock()
					if isNew {
						td.addTask(depID, b.defaultTask)
						nextMu.Lock()
						next = append(next, depID)
						nextMu.Unlock()
					}
					return nil
				}

				for _, dep := range info.Depends {
					if err := resolveOne(dep, false); err != nil {
						return err
					}
				}
				for _, deps := range info.RDepends {
					for _, dep := range deps {
						if err := resolveOne(dep, true); err != nil {
							return err
						}
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		frontier = next
	}
	return nil
}
