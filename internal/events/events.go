// Package events implements the cooker's event bus: a typed record is
// fired for every observable milestone.
package events

import "sync"

// Event is the common interface every fired event value satisfies; Name
// returns the event's wire name, used for filtering and for display.
type Event interface {
	Name() string
}

type named string

func (n named) Name() string { return string(n) }

// Concrete event payloads. Each embeds its name so callers can type-switch
// or just read .Name().
type ConfigFilePathFound struct {
	named
	Path string
}

type ConfigFilesFound struct {
	named
	Paths []string
}

type CoreBaseFilesFound struct {
	named
	Paths []string
}

type FilesMatchingFound struct {
	named
	Pattern string
	Matches []string
}

type TreeDataPreparationStarted struct{ named }

type TreeDataPreparationProgress struct {
	named
	Current, Total int
}

type TreeDataPreparationCompleted struct {
	named
	Total int
}

type DepTreeGenerated struct {
	named
	TaskGraph    map[string][]string
	RecipeGraph  map[string][]string
	PackageGraph map[string][]string
}

type TargetsTreeGenerated struct {
	named
	Targets []string
}

type ParseStarted struct {
	named
	Total int
}

type ParseProgress struct {
	named
	Current, Total int
}

type ParseCompleted struct {
	named
	Cached, Parsed, Skipped, Masked, Virtuals, Errors, Total int
}

type SanityCheck struct {
	named
	Messages []string
}

type BuildStarted struct {
	named
	Targets []string
}

type BuildCompleted struct {
	named
	Failures int
}

type MultipleProvidersEvent struct {
	named
	Item       string
	Candidates []string
}

type NoProviderEvent struct {
	named
	Item         string
	Runtime      bool
	CloseMatches []string
}

type CookerExit struct{ named }

func NewConfigFilePathFound(path string) ConfigFilePathFound {
	return ConfigFilePathFound{named: "ConfigFilePathFound", Path: path}
}
func NewConfigFilesFound(paths []string) ConfigFilesFound {
	return ConfigFilesFound{named: "ConfigFilesFound", Paths: paths}
}
func NewCoreBaseFilesFound(paths []string) CoreBaseFilesFound {
	return CoreBaseFilesFound{named: "CoreBaseFilesFound", Paths: paths}
}
func NewFilesMatchingFound(pattern string, matches []string) FilesMatchingFound {
	return FilesMatchingFound{named: "FilesMatchingFound", Pattern: pattern, Matches: matches}
}
func NewTreeDataPreparationStarted() TreeDataPreparationStarted {
	return TreeDataPreparationStarted{named: "TreeDataPreparationStarted"}
}
func NewTreeDataPreparationProgress(cur, total int) TreeDataPreparationProgress {
	return TreeDataPreparationProgress{named: "TreeDataPreparationProgress", Current: cur, Total: total}
}
func NewTreeDataPreparationCompleted(total int) TreeDataPreparationCompleted {
	return TreeDataPreparationCompleted{named: "TreeDataPreparationCompleted", Total: total}
}
func NewDepTreeGenerated(task, recipe, pkg map[string][]string) DepTreeGenerated {
	return DepTreeGenerated{named: "DepTreeGenerated", TaskGraph: task, RecipeGraph: recipe, PackageGraph: pkg}
}
func NewTargetsTreeGenerated(targets []string) TargetsTreeGenerated {
	return TargetsTreeGenerated{named: "TargetsTreeGenerated", Targets: targets}
}
func NewParseStarted(total int) ParseStarted { return ParseStarted{named: "ParseStarted", Total: total} }
func NewParseProgress(cur, total int) ParseProgress {
	return ParseProgress{named: "ParseProgress", Current: cur, Total: total}
}
func NewParseCompleted(cached, parsed, skipped, masked, virtuals, errs, total int) ParseCompleted {
	return ParseCompleted{named: "ParseCompleted", Cached: cached, Parsed: parsed, Skipped: skipped, Masked: masked, Virtuals: virtuals, Errors: errs, Total: total}
}
func NewSanityCheck(messages []string) SanityCheck {
	return SanityCheck{named: "SanityCheck", Messages: messages}
}
func NewBuildStarted(targets []string) BuildStarted {
	return BuildStarted{named: "BuildStarted", Targets: targets}
}
func NewBuildCompleted(failures int) BuildCompleted {
	return BuildCompleted{named: "BuildCompleted", Failures: failures}
}
func NewMultipleProviders(item string, candidates []string) MultipleProvidersEvent {
	return MultipleProvidersEvent{named: "MultipleProviders", Item: item, Candidates: candidates}
}
func NewNoProvider(item string, runtime bool, closeMatches []string) NoProviderEvent {
	return NoProviderEvent{named: "NoProvider", Item: item, Runtime: runtime, CloseMatches: closeMatches}
}
func NewCookerExit() CookerExit { return CookerExit{named: "CookerExit"} }

// Bus is a minimal synchronous pub/sub bus: Fire calls every subscriber
// in registration order, on the firing goroutine. Subscribers (UI,
// tests) only read the payloads they receive.
type Bus struct {
	mu   sync.RWMutex
	subs []func(Event)
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

func (b *Bus) Fire(e Event) {
	b.mu.RLock()
	subs := append([]func(Event){}, b.subs...)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(e)
	}
}
