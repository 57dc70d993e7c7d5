// Command cooker drives the whole pipeline end to end: it loads a
// session config, resolves layer priorities, collects recipe files,
// parses them through the worker pool, resolves providers, builds a
// task plan, and hands the plan to whatever RunQueue the host wires
// in. Recipe-syntax parsing itself is an external collaborator;
// parser_stub.go stands in for it so this binary is runnable against a
// directory of "name_version.bb" files without a real recipe parser.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/cooker/internal/collaborators"
	"github.com/standardbeagle/cooker/internal/collector"
	"github.com/standardbeagle/cooker/internal/config"
	"github.com/standardbeagle/cooker/internal/cookerfsm"
	"github.com/standardbeagle/cooker/internal/depgraph"
	"github.com/standardbeagle/cooker/internal/errors"
	"github.com/standardbeagle/cooker/internal/events"
	"github.com/standardbeagle/cooker/internal/layer"
	"github.com/standardbeagle/cooker/internal/logging"
	"github.com/standardbeagle/cooker/internal/metrics"
	"github.com/standardbeagle/cooker/internal/parserpool"
	"github.com/standardbeagle/cooker/internal/provider"
	"github.com/standardbeagle/cooker/internal/recipecache"
	"github.com/standardbeagle/cooker/internal/taskdata"
	"github.com/standardbeagle/cooker/internal/version"
)

// newApp builds the cooker CLI; split out from main so tests can drive
// it in-process without shelling out to a built binary.
func newApp() *cli.App {
	return &cli.App{
		Name:    "cooker",
		Usage:   "recipe-based build coordinator",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Aliases: []string{"r"}, Value: ".", Usage: "build root (TOPDIR), containing cooker.kdl"},
			&cli.BoolFlag{Name: "verbose", Usage: "enable BB_VERBOSE_LOGS-equivalent debug logging"},
			&cli.BoolFlag{Name: "continue-on-error", Usage: "abort=false: record unresolved targets/deps instead of failing the build"},
			&cli.StringFlag{Name: "graph-dir", Usage: "write task/recipe/package .dot files + building.list here instead of firing DepTreeGenerated"},
			&cli.StringFlag{Name: "profile-dir", Usage: "write a pool.pprof CPU profile of the parser pool's worker goroutines here"},
		},
		Commands: []*cli.Command{
			{
				Name:      "build",
				Usage:     "resolve targets and hand the plan to the run queue",
				ArgsUsage: "TARGET [TARGET...]",
				Action:    runBuild,
			},
			{
				Name:      "show-environment",
				Usage:     "print the recipe file chosen to provide a single target",
				ArgsUsage: "TARGET",
				Action:    runShowEnvironment,
			},
		},
	}
}

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "cooker:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps the error taxonomy to process exit codes: an error
// kind the cooker has already named and reported through its own
// taxonomy exits 1; anything else propagates as >=2.
func exitCodeFor(err error) int {
	switch err.(type) {
	case *errors.ConfigError, *errors.Fatal, *errors.NoProvider,
		*errors.MultipleProviders, *errors.NoSpecificMatch,
		*errors.NothingToBuild, *errors.ParseFailure, *errors.TaskFailure:
		return 1
	default:
		return 2
	}
}

// session bundles the pieces every subcommand needs, built once by
// bootstrap so build and show-environment share identical wiring up
// through a populated recipe cache.
type session struct {
	cfg     *config.Config
	machine *cookerfsm.Machine
	bus     *events.Bus
	cache   *recipecache.RecipeCache
}

// bootstrap drives Initial -> Parsing -> Running: load and validate
// config, resolve layers, collect recipes, and parse them through the
// worker pool into a populated RecipeCache.
func bootstrap(c *cli.Context) (*session, error) {
	cfg, err := config.Load(c.String("root"))
	if err != nil {
		return nil, errors.NewFatal("load config", err)
	}
	logging.SetVerbose(c.Bool("verbose") || cfg.VerboseLogs)

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, errors.NewConfigError("validate config", problems)
	}

	bus := events.NewBus()
	bus.Subscribe(func(e events.Event) { logging.Debug("event", "name", e.Name()) })
	ui := collaborators.UI(collaborators.StdoutUI{Write: func(line string) { fmt.Fprintln(os.Stderr, line) }})
	bus.Subscribe(func(e events.Event) {
		switch ev := e.(type) {
		case events.ParseCompleted:
			ui.Render(fmt.Sprintf("parsed %d recipes (%d cached, %d skipped, %d masked, %d errors)",
				ev.Parsed, ev.Cached, ev.Skipped, ev.Masked, ev.Errors))
		case events.BuildCompleted:
			ui.Render(fmt.Sprintf("build complete, %d unresolved", ev.Failures))
		}
	})
	bus.Fire(events.NewConfigFilePathFound(filepath.Join(cfg.TopDir, config.SessionFileName)))

	sess := cookerfsm.NewSession(cfg, bus)
	machine, err := cookerfsm.New(sess)
	if err != nil {
		return nil, err
	}
	if err := machine.ParseConfig(); err != nil {
		machine.Close()
		return nil, err
	}
	if err := machine.BuildTargets(); err != nil {
		machine.Close()
		return nil, err
	}

	layers, err := layer.Resolve(cfg)
	if err != nil {
		_ = machine.Fail()
		machine.Close()
		return nil, errors.NewFatal("resolve layers", err)
	}
	bus.Fire(events.NewConfigFilesFound(confFilesUnder(cfg.BBPath)))
	bus.Fire(events.NewCoreBaseFilesFound(classFilesUnder(cfg.BBPath)))

	fc := collector.New(cfg, layers)
	fc.Bus = bus
	collected, err := fc.Collect()
	if err != nil {
		_ = machine.Fail()
		machine.Close()
		return nil, errors.NewFatal("collect recipe files", err)
	}

	cache := recipecache.New(layers, cfg.AssumeProvided)
	for providee, pn := range cfg.PreferredProviders {
		if !cache.SetPreferred(providee, pn) {
			logging.Warn("PREFERRED_PROVIDERS conflicts with an earlier selection", "providee", providee, "provider", pn)
		}
	}

	reg := prometheus.NewRegistry()
	pm := metrics.NewParseMetrics(reg)
	diskCache := parserpool.NewDiskCache(filepath.Join(cfg.TopDir, "cache", "parser"))
	configHash := hashConfig(cfg)

	workers := cfg.NumParseThreads
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pool := parserpool.New(stubParser{}, diskCache, workers, configHash, bus, pm)
	if dir := c.String("profile-dir"); dir != "" {
		pool.SetProfileDir(dir)
	}

	items := make([]parserpool.WorkItem, 0, len(collected.Recipes))
	for _, recipe := range collected.Recipes {
		items = append(items, parserpool.WorkItem{
			File:    recipe,
			Appends: collected.Appends.GetFileAppends(recipe),
		})
	}

	ctx := context.Background()
	pool.Start(ctx, items, collected.Masked)
	outcomes, drainErr := pool.Drain(c.Bool("continue-on-error"))
	pool.Shutdown(true, false)

	for _, o := range outcomes {
		for _, info := range o.Infos {
			cache.AddFromRecipeInfo(info.Fn, info)
		}
	}
	if drainErr != nil {
		_ = machine.Fail()
		machine.Close()
		return nil, drainErr
	}

	if dangling := collected.Appends.Dangling(); len(dangling) > 0 {
		if cfg.DanglingAppendsWarnOnly {
			logging.Warn("bbappend applies to no recipe", "patterns", dangling)
		} else {
			_ = machine.Fail()
			machine.Close()
			return nil, errors.NewFatal("post-parse append audit", fmt.Errorf("dangling appends: %s", strings.Join(dangling, ", ")))
		}
	}
	cache.PruneWorldConflicts()

	if dead := cache.UnmatchedPatterns(); len(dead) > 0 {
		bus.Fire(events.NewSanityCheck(dead))
	}

	if err := machine.ParseDrained(); err != nil {
		machine.Close()
		return nil, err
	}

	return &session{cfg: cfg, machine: machine, bus: bus, cache: cache}, nil
}

func runBuild(c *cli.Context) error {
	targets := c.Args().Slice()

	sess, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer sess.machine.Close()

	sess.bus.Fire(events.NewBuildStarted(targets))

	resolver := provider.New(sess.cache, sess.bus)
	builder := taskdata.New(sess.cache, resolver, sess.bus, !c.Bool("continue-on-error"), sess.cfg.DefaultTask)

	td, err := builder.Build(context.Background(), targets)
	if err != nil {
		_ = sess.machine.Shutdown(true)
		sess.bus.Fire(events.NewBuildCompleted(1))
		return err
	}

	graph := depgraph.New(sess.cache, sess.bus, nil)
	g := graph.Build(td)
	if dir := c.String("graph-dir"); dir != "" {
		if err := g.WriteDotFiles(dir, buildTargetPNs(sess.cache, td)); err != nil {
			return errors.NewFatal("write dependency graph", err)
		}
	} else {
		graph.Emit(g)
	}

	runQueue := collaborators.RunQueue(collaborators.NullRunQueue{})
	if err := runQueue.Submit(td); err != nil {
		return &errors.TaskFailure{Target: strings.Join(targets, ","), Task: sess.cfg.DefaultTask, Reason: err.Error()}
	}

	// BuildComplete returns the machine to Initial, ready for another
	// command without reconstructing the caches. This CLI invocation
	// ends here, so it releases the build lock via the deferred Close
	// rather than routing through Shutdown/Stopped, which model an
	// explicit shutdown request or a SIGTERM/SIGHUP, not a normal
	// single-build exit.
	if err := sess.machine.BuildComplete(); err != nil {
		return err
	}
	sess.bus.Fire(events.NewBuildCompleted(len(td.Skipped)))
	sess.bus.Fire(events.NewCookerExit())
	return nil
}

// runShowEnvironment resolves a single target without building it. A
// target that turns out to be in ASSUME_PROVIDED is a fatal, clearly
// named error on this path, unlike a normal build, which just drops it
// from the build list with a warning.
func runShowEnvironment(c *cli.Context) error {
	target := c.Args().First()
	if target == "" {
		return &errors.NoSpecificMatch{Pattern: "", Matches: nil}
	}

	sess, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer sess.machine.Close()

	if sess.cache.IsIgnored(target) {
		return errors.NewFatal("show-environment", fmt.Errorf("target %q is in ASSUME_PROVIDED: no recipe provides it by design", target))
	}

	resolver := provider.New(sess.cache, sess.bus)
	file, err := resolver.Resolve(target, false)
	if err != nil {
		return err
	}
	fmt.Println(file)
	return nil
}

// hashConfig derives the parse-cache configHash from every
// configuration value that changes a recipe's parse result. It does not
// need to be cryptographically strong, only to change whenever a fresh
// parse is required.
func hashConfig(cfg *config.Config) string {
	h := xxhash.New()
	fmt.Fprintf(h, "topdir=%s\n", cfg.TopDir)
	fmt.Fprintf(h, "default_task=%s\n", cfg.DefaultTask)
	assume := append([]string(nil), cfg.AssumeProvided...)
	sort.Strings(assume)
	fmt.Fprintf(h, "assume_provided=%s\n", strings.Join(assume, ","))
	prefs := make([]string, 0, len(cfg.PreferredProviders))
	for k, v := range cfg.PreferredProviders {
		prefs = append(prefs, k+"="+v)
	}
	sort.Strings(prefs)
	fmt.Fprintf(h, "preferred_providers=%s\n", strings.Join(prefs, ","))
	for _, l := range cfg.Layers {
		priority := ""
		if l.ExplicitPriority != nil {
			priority = fmt.Sprint(*l.ExplicitPriority)
		}
		fmt.Fprintf(h, "layer=%s pattern=%s priority=%s\n", l.Name, l.Pattern, priority)
	}
	return fmt.Sprintf("%x", h.Sum64())
}

// buildTargetPNs returns the pn of every recipe td resolved for a
// requested build-time target, sorted, for depgraph.WriteDotFiles'
// building.list.
func buildTargetPNs(cache *recipecache.RecipeCache, td *taskdata.TaskData) []string {
	seen := map[string]bool{}
	var out []string
	for _, file := range td.BuildTargets {
		pn, ok := cache.PkgFn(file)
		if !ok || seen[pn] {
			continue
		}
		seen[pn] = true
		out = append(out, pn)
	}
	sort.Strings(out)
	return out
}

// confFilesUnder and classFilesUnder report the conf/*.conf and
// classes/*.bbclass files discovered under BBPATH. The core only
// reports what it finds, it never parses these files itself; the
// variable data store is an external collaborator.
func confFilesUnder(bbpath []string) []string {
	return globUnder(bbpath, "conf", "*.conf")
}

func classFilesUnder(bbpath []string) []string {
	return globUnder(bbpath, "classes", "*.bbclass")
}

func globUnder(bbpath []string, subdir, pattern string) []string {
	var out []string
	for _, root := range bbpath {
		matches, err := filepath.Glob(filepath.Join(root, subdir, pattern))
		if err != nil {
			continue
		}
		out = append(out, matches...)
	}
	sort.Strings(out)
	return out
}
