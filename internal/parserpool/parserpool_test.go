package parserpool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/cooker/internal/events"
	"github.com/standardbeagle/cooker/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeParser struct {
	calls  int
	panics map[string]bool
	fails  map[string]bool
}

func (f *fakeParser) Parse(ctx context.Context, file types.RecipeFile, appends []string) ([]types.RecipeInfo, error) {
	f.calls++
	if f.panics[file.Path] {
		panic("boom")
	}
	if f.fails[file.Path] {
		return nil, assertErr{file.Path}
	}
	return []types.RecipeInfo{{PN: filepath.Base(file.Path), Fn: file.Path}}, nil
}

type assertErr struct{ path string }

func (e assertErr) Error() string { return "parse error: " + e.path }

func writeRecipe(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return path
}

func TestPool_ParsesAllItems(t *testing.T) {
	dir := t.TempDir()
	a := writeRecipe(t, dir, "a_1.0.bb")
	b := writeRecipe(t, dir, "b_1.0.bb")

	parser := &fakeParser{}
	cache := NewDiskCache(filepath.Join(dir, "cache"))
	bus := events.NewBus()
	var progressEvents, completedEvents int
	bus.Subscribe(func(e events.Event) {
		switch e.(type) {
		case events.ParseProgress:
			progressEvents++
		case events.ParseCompleted:
			completedEvents++
		}
	})

	pool := New(parser, cache, 2, "cfg-hash-1", bus, nil)
	pool.Start(context.Background(), []WorkItem{{File: a}, {File: b}}, 0)

	outcomes, err := pool.Drain(false)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, 1, completedEvents)
	for _, o := range outcomes {
		assert.Equal(t, types.OutcomeParsed, o.Kind)
	}
}

func TestPool_CacheHitOnSecondRun(t *testing.T) {
	dir := t.TempDir()
	a := writeRecipe(t, dir, "a_1.0.bb")

	parser := &fakeParser{}
	cache := NewDiskCache(filepath.Join(dir, "cache"))
	pool := New(parser, cache, 1, "cfg-hash-1", nil, nil)
	pool.Start(context.Background(), []WorkItem{{File: a}}, 0)
	outcomes, err := pool.Drain(false)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, types.OutcomeParsed, outcomes[0].Kind)
	assert.Equal(t, 1, parser.calls)

	pool2 := New(parser, cache, 1, "cfg-hash-1", nil, nil)
	pool2.Start(context.Background(), []WorkItem{{File: a}}, 0)
	outcomes2, err := pool2.Drain(false)
	require.NoError(t, err)
	require.Len(t, outcomes2, 1)
	assert.Equal(t, types.OutcomeCached, outcomes2[0].Kind)
	assert.Equal(t, 1, parser.calls, "parser must not be invoked again on a cache hit")
}

func TestPool_ConfigHashChangeInvalidatesCache(t *testing.T) {
	dir := t.TempDir()
	a := writeRecipe(t, dir, "a_1.0.bb")

	parser := &fakeParser{}
	cache := NewDiskCache(filepath.Join(dir, "cache"))
	pool := New(parser, cache, 1, "cfg-hash-1", nil, nil)
	pool.Start(context.Background(), []WorkItem{{File: a}}, 0)
	_, err := pool.Drain(false)
	require.NoError(t, err)

	pool2 := New(parser, cache, 1, "cfg-hash-2", nil, nil)
	pool2.Start(context.Background(), []WorkItem{{File: a}}, 0)
	outcomes, err := pool2.Drain(false)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeParsed, outcomes[0].Kind)
	assert.Equal(t, 2, parser.calls)
}

func TestPool_ParseFailureAbortsUnlessContinued(t *testing.T) {
	dir := t.TempDir()
	a := writeRecipe(t, dir, "a_1.0.bb")
	b := writeRecipe(t, dir, "b_1.0.bb")

	parser := &fakeParser{fails: map[string]bool{a: true}}
	pool := New(parser, nil, 1, "cfg", nil, nil)
	pool.Start(context.Background(), []WorkItem{{File: a}, {File: b}}, 0)
	_, err := pool.Drain(false)
	require.Error(t, err)

	parser2 := &fakeParser{fails: map[string]bool{a: true}}
	pool2 := New(parser2, nil, 2, "cfg", nil, nil)
	pool2.Start(context.Background(), []WorkItem{{File: a}, {File: b}}, 0)
	outcomes, err := pool2.Drain(true)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
}

func TestPool_WorkerPanicBecomesParseFailure(t *testing.T) {
	dir := t.TempDir()
	a := writeRecipe(t, dir, "a_1.0.bb")

	parser := &fakeParser{panics: map[string]bool{a: true}}
	pool := New(parser, nil, 1, "cfg", nil, nil)
	pool.Start(context.Background(), []WorkItem{{File: a}}, 0)
	o, ok := pool.Next()
	require.True(t, ok)
	assert.Equal(t, types.OutcomeFailed, o.Kind)
	require.NotNil(t, o.Failure)
	assert.Contains(t, o.Failure.Error(), "panic")

	_, ok = pool.Next()
	assert.False(t, ok)
}

func TestPool_UncleanShutdownAbandonsQueuedWork(t *testing.T) {
	dir := t.TempDir()
	items := make([]WorkItem, 0, 20)
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j",
		"k", "l", "m", "n", "o", "p", "q", "r", "s", "t"} {
		items = append(items, WorkItem{File: writeRecipe(t, dir, name+"_1.0.bb")})
	}

	parser := &fakeParser{}
	pool := New(parser, nil, 2, "cfg", nil, nil)
	pool.Start(context.Background(), items, 0)

	_, ok := pool.Next()
	require.True(t, ok)

	pool.Shutdown(false, true)

	delivered := 1
	for {
		_, ok := pool.Next()
		if !ok {
			break
		}
		delivered++
	}
	assert.Less(t, delivered, len(items), "queued work is abandoned, not drained")
}

func TestPool_ShutdownIdempotent(t *testing.T) {
	dir := t.TempDir()
	a := writeRecipe(t, dir, "a_1.0.bb")

	parser := &fakeParser{}
	pool := New(parser, nil, 1, "cfg", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx, []WorkItem{{File: a}}, 0)
	_, _ = pool.Drain(true)

	pool.Shutdown(true, true)
	pool.Shutdown(true, true)
}
