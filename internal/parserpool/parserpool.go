// Package parserpool runs a bounded feeder/worker topology that turns
// (file, appends) pairs into (virtual_fn, RecipeInfo[]) results, backed
// by an on-disk cache keyed on file and append mtimes plus the config
// hash.
package parserpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sort"
	"sync"
	"time"

	"github.com/standardbeagle/cooker/internal/errors"
	"github.com/standardbeagle/cooker/internal/events"
	"github.com/standardbeagle/cooker/internal/logging"
	"github.com/standardbeagle/cooker/internal/metrics"
	"github.com/standardbeagle/cooker/internal/types"
)

const (
	resultSendTimeout  = 2 * time.Second
	maxResultSendRetry = 10
	maxSendBackoff     = 30 * time.Second
	forceShutdownWait  = 5 * time.Second
)

// Parser is the external recipe parser the pool drives. The cooker core
// never interprets recipe syntax itself; it only consumes the RecipeInfo
// values this interface returns.
type Parser interface {
	Parse(ctx context.Context, file types.RecipeFile, appends []string) ([]types.RecipeInfo, error)
}

// WorkItem is one to-parse unit: a recipe file plus the append files
// that apply to it.
type WorkItem struct {
	File    string
	Appends []string
}

// Outcome is one parsed (or cached, skipped, failed) result. A failure
// is a value here, never a panic crossing a goroutine boundary.
type Outcome struct {
	VirtualFn string
	Infos     []types.RecipeInfo
	Kind      types.ParseOutcomeKind
	Failure   *errors.ParseFailure
}

type job struct {
	item     WorkItem
	sentinel bool
}

// Pool is the feeder + N workers + on-disk cache + ordered result
// stream.
type Pool struct {
	parser     Parser
	cache      *DiskCache
	workers    int
	configHash string
	bus        *events.Bus
	metrics    *metrics.ParseMetrics

	jobs    chan job
	results chan Outcome
	cancel  chan struct{}
	wg      sync.WaitGroup

	// profileDir, if set via SetProfileDir, makes Start open a CPU
	// profile covering every worker goroutine's execution. runtime/pprof
	// profiles the whole process, so one profile spans the pool's
	// lifetime rather than one file per worker.
	profileDir  string
	profileFile *os.File

	shutdownOnce  sync.Once
	completedOnce sync.Once

	total     int
	delivered int

	countsMu sync.Mutex
	cached, parsed, skipped, masked, errs, virtuals int
}

// New constructs a Pool. workers <= 0 defaults to 1; bus and m may be
// nil (progress/completion events and metrics become no-ops).
func New(p Parser, cache *DiskCache, workers int, configHash string, bus *events.Bus, m *metrics.ParseMetrics) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		parser:     p,
		cache:      cache,
		workers:    workers,
		configHash: configHash,
		bus:        bus,
		metrics:    m,
	}
}

// SetProfileDir enables CPU profiling of the pool's worker goroutines,
// written to <dir>/pool.pprof and covering Start through Shutdown. Call
// before Start. An empty dir (the default) disables profiling.
func (p *Pool) SetProfileDir(dir string) {
	p.profileDir = dir
}

// Start launches the feeder and worker goroutines over items and
// returns immediately; results are consumed via Next. masked is the
// count of files BBMASK already excluded before reaching the pool, so
// the completion event's totals cover the full collected set.
func (p *Pool) Start(ctx context.Context, items []WorkItem, masked int) {
	p.total = len(items)
	p.masked = masked
	if p.metrics != nil && masked > 0 {
		p.metrics.Masked.Add(float64(masked))
	}
	p.jobs = make(chan job, p.workers)
	p.results = make(chan Outcome, p.workers)
	p.cancel = make(chan struct{})

	if p.bus != nil {
		p.bus.Fire(events.NewParseStarted(p.total))
	}

	if p.profileDir != "" {
		p.startPoolProfile()
	}

	p.wg.Add(1)
	go p.feed(ctx, items)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

func (p *Pool) feed(ctx context.Context, items []WorkItem) {
	defer p.wg.Done()
	for _, it := range items {
		select {
		case p.jobs <- job{item: it}:
		case <-ctx.Done():
			return
		case <-p.cancel:
			logging.Warn("feeder abandoning queued recipes on forced shutdown", "remaining_hint", "unbounded")
			return
		}
	}
	for i := 0; i < p.workers; i++ {
		select {
		case p.jobs <- job{sentinel: true}:
		case <-ctx.Done():
			return
		case <-p.cancel:
			return
		}
	}
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.cancel:
			return
		case j, ok := <-p.jobs:
			if !ok || j.sentinel {
				return
			}
			p.send(ctx, id, p.parseOne(ctx, j.item))
		}
	}
}

// startPoolProfile opens pool.pprof under profileDir and starts a CPU
// profile covering every worker goroutine until stopPoolProfile runs.
// Failures are logged and profiling is skipped, never fatal to a build.
func (p *Pool) startPoolProfile() {
	if err := os.MkdirAll(p.profileDir, 0o755); err != nil {
		logging.Warn("could not create profile dir, skipping pool profile", "dir", p.profileDir, "error", err)
		return
	}
	f, err := os.Create(filepath.Join(p.profileDir, "pool.pprof"))
	if err != nil {
		logging.Warn("could not create pool profile file", "error", err)
		return
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		logging.Warn("could not start pool CPU profile", "error", err)
		f.Close()
		return
	}
	p.profileFile = f
}

func (p *Pool) stopPoolProfile() {
	if p.profileFile == nil {
		return
	}
	pprof.StopCPUProfile()
	p.profileFile.Close()
	p.profileFile = nil
}

func (p *Pool) parseOne(ctx context.Context, item WorkItem) Outcome {
	var key string
	if p.cache != nil {
		if k, err := p.cache.Key(item.File, item.Appends, p.configHash); err == nil {
			key = k
			if infos, ok := p.cache.Load(key); ok {
				return Outcome{VirtualFn: item.File, Infos: infos, Kind: types.OutcomeCached}
			}
		}
	}

	infos, failure := p.safeParse(ctx, item)
	if failure != nil {
		return Outcome{VirtualFn: item.File, Kind: types.OutcomeFailed, Failure: failure}
	}

	if key != "" && p.cache != nil {
		if err := p.cache.Store(key, infos); err != nil {
			logging.Warn("failed to persist parse cache entry", "file", item.File, "error", err)
		}
	}

	kind := types.OutcomeParsed
	for _, info := range infos {
		if info.Skipped {
			kind = types.OutcomeSkipped
			break
		}
	}
	return Outcome{VirtualFn: item.File, Infos: infos, Kind: kind}
}

// safeParse ensures a worker never crashes silently: any panic from the
// external parser becomes a ParseFailure value instead of taking the
// goroutine down.
func (p *Pool) safeParse(ctx context.Context, item WorkItem) (infos []types.RecipeInfo, failure *errors.ParseFailure) {
	defer func() {
		if r := recover(); r != nil {
			failure = &errors.ParseFailure{Recipe: item.File, Underlying: fmt.Errorf("parser panic: %v", r)}
		}
	}()
	rf := types.RecipeFile{Path: item.File}
	out, err := p.parser.Parse(ctx, rf, item.Appends)
	if err != nil {
		return nil, &errors.ParseFailure{Recipe: item.File, Underlying: err}
	}
	return out, nil
}

// send delivers o to results, retrying with growing backoff if the
// channel is full rather than blocking forever, so a stalled consumer
// surfaces as backpressure warnings instead of a hung worker.
func (p *Pool) send(ctx context.Context, workerID int, o Outcome) {
	select {
	case p.results <- o:
		return
	case <-ctx.Done():
		return
	case <-p.cancel:
		return
	case <-time.After(resultSendTimeout):
	}

	logging.Warn("parser pool results channel full, applying backpressure", "worker", workerID, "file", o.VirtualFn)
	backoff := resultSendTimeout
	for retry := 0; retry < maxResultSendRetry; retry++ {
		select {
		case p.results <- o:
			return
		case <-ctx.Done():
			return
		case <-p.cancel:
			return
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * 1.5)
			if backoff > maxSendBackoff {
				backoff = maxSendBackoff
			}
		}
	}
	logging.Warn("dropping parse result after repeated backpressure retries", "worker", workerID, "file", o.VirtualFn)
}

// Next returns the next ordered outcome, firing a
// progress event every max(1, total/100) deliveries and the aggregate
// completion event once the stream is exhausted. ok is false once all
// workers have finished and no more outcomes remain.
func (p *Pool) Next() (Outcome, bool) {
	o, ok := <-p.results
	if !ok {
		p.completedOnce.Do(func() {
			if p.bus != nil {
				p.countsMu.Lock()
				p.bus.Fire(events.NewParseCompleted(p.cached, p.parsed, p.skipped, p.masked, p.virtuals, p.errs, p.total))
				p.countsMu.Unlock()
			}
		})
		return Outcome{}, false
	}

	p.countsMu.Lock()
	p.delivered++
	switch o.Kind {
	case types.OutcomeCached:
		p.cached++
		p.virtuals += len(o.Infos)
		if p.metrics != nil {
			p.metrics.Cached.Inc()
		}
	case types.OutcomeParsed:
		p.parsed++
		p.virtuals += len(o.Infos)
		if p.metrics != nil {
			p.metrics.Parsed.Inc()
		}
	case types.OutcomeSkipped:
		p.skipped++
		p.virtuals += len(o.Infos)
		if p.metrics != nil {
			p.metrics.Skipped.Inc()
		}
	case types.OutcomeFailed:
		p.errs++
		if p.metrics != nil {
			p.metrics.Errors.Inc()
		}
	}
	delivered, total := p.delivered, p.total
	p.countsMu.Unlock()

	step := total / 100
	if step < 1 {
		step = 1
	}
	if p.bus != nil && delivered%step == 0 {
		p.bus.Fire(events.NewParseProgress(delivered, total))
	}
	return o, true
}

// Drain consumes Next until exhaustion or the first ParseFailure,
// unless continueOnError is set. Failures surface in consumption order,
// so the first one aborts parsing when the caller does not continue.
func (p *Pool) Drain(continueOnError bool) ([]Outcome, error) {
	var out []Outcome
	for {
		o, ok := p.Next()
		if !ok {
			break
		}
		out = append(out, o)
		if o.Kind == types.OutcomeFailed && !continueOnError {
			return out, o.Failure
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].VirtualFn < out[j].VirtualFn })
	return out, nil
}

// Shutdown terminates the pool before natural completion.
// Natural completion (the feeder running out of work and pushing N
// sentinels) already performs the clean=true path, so Shutdown itself
// only has work to do when called before that point: clean=false
// closes the cancel signal so the feeder abandons queued items and
// workers stop picking up new jobs; force=true additionally waits
// forceShutdownWait for outstanding workers before giving up on them.
// Idempotent: a second call is a no-op.
func (p *Pool) Shutdown(clean bool, force bool) {
	p.shutdownOnce.Do(func() {
		if !clean {
			close(p.cancel)
		}
		if force {
			done := make(chan struct{})
			go func() {
				p.wg.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(forceShutdownWait):
				logging.Warn("forced shutdown timeout exceeded, abandoning straggler workers")
			}
		}
		if clean {
			p.wg.Wait()
		}
		p.stopPoolProfile()
	})
}
