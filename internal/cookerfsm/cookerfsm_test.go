package cookerfsm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/cooker/internal/config"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	cfg := config.Default()
	cfg.TopDir = t.TempDir()
	m, err := New(NewSession(cfg, nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestLifecycle_HappyPath(t *testing.T) {
	m := newTestMachine(t)
	assert.Equal(t, StateInitial, m.State())

	require.NoError(t, m.ParseConfig())
	assert.Equal(t, StateInitial, m.State(), "ParseConfig keeps the machine in Initial")

	require.NoError(t, m.BuildTargets())
	assert.Equal(t, StateParsing, m.State())

	require.NoError(t, m.ParseDrained())
	assert.Equal(t, StateRunning, m.State())

	require.NoError(t, m.BuildComplete())
	assert.Equal(t, StateInitial, m.State())
}

func TestShutdown_CleanAndForce(t *testing.T) {
	m := newTestMachine(t)
	require.NoError(t, m.BuildTargets())
	require.NoError(t, m.ParseDrained())

	require.NoError(t, m.Shutdown(false))
	assert.Equal(t, StateShutdown, m.State())
	require.NoError(t, m.Drained())
	assert.Equal(t, StateStopped, m.State())

	forced := newTestMachine(t)
	require.NoError(t, forced.BuildTargets())
	require.NoError(t, forced.ParseDrained())

	require.NoError(t, forced.Shutdown(true))
	assert.Equal(t, StateForceShutdown, forced.State())
	require.NoError(t, forced.Drained())
	assert.Equal(t, StateStopped, forced.State())
}

func TestForceShutdown_ValidFromAnyState(t *testing.T) {
	m := newTestMachine(t)
	m.ForceShutdown()
	assert.Equal(t, StateForceShutdown, m.State())

	require.NoError(t, m.Drained())
	assert.Equal(t, StateStopped, m.State())

	m.ForceShutdown()
	assert.Equal(t, StateStopped, m.State(), "ForceShutdown from Stopped is a no-op")
}

func TestInvalidTransitions(t *testing.T) {
	m := newTestMachine(t)
	err := m.ParseDrained()
	assert.Error(t, err)

	err = m.BuildComplete()
	assert.Error(t, err)
}

func TestFail_TransitionsParsingToError(t *testing.T) {
	m := newTestMachine(t)
	require.NoError(t, m.BuildTargets())
	require.NoError(t, m.Fail())
	assert.Equal(t, StateError, m.State())
}

func TestUpdateCache_IdempotentInRunning(t *testing.T) {
	m := newTestMachine(t)
	require.NoError(t, m.BuildTargets())
	require.NoError(t, m.ParseDrained())

	m.UpdateCache()
	m.UpdateCache()
	assert.Equal(t, StateRunning, m.State())
}

func TestSetFeatures_RejectedOutsideInitial(t *testing.T) {
	m := newTestMachine(t)
	changed, err := m.SetFeatures(map[string]bool{"rm_work": true})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, m.Feature("rm_work"))

	changed, err = m.SetFeatures(map[string]bool{"rm_work": true})
	require.NoError(t, err)
	assert.False(t, changed, "identical feature set is not a change")

	require.NoError(t, m.BuildTargets())
	_, err = m.SetFeatures(map[string]bool{"rm_work": false})
	assert.Error(t, err)
}

func TestNew_SecondMachineSameTopDirFailsToLock(t *testing.T) {
	cfg := config.Default()
	cfg.TopDir = t.TempDir()

	first, err := New(NewSession(cfg, nil))
	require.NoError(t, err)
	defer first.Close()

	_, err = New(NewSession(cfg, nil))
	assert.Error(t, err, "a second cooker in the same build directory must fail to acquire the lock")
}

type countingCommand struct {
	steps []Step
	idx   int
}

func (c *countingCommand) Poll(ctx context.Context) (Step, any, error) {
	s := c.steps[c.idx]
	c.idx++
	if s == StepDone {
		return s, "result", nil
	}
	return s, nil, nil
}

func TestRunCommands_DrivesAsyncCommandToDone(t *testing.T) {
	m := newTestMachine(t)
	cmd := &countingCommand{steps: []Step{StepPending, StepYielded, StepDone}}

	ctx := context.Background()
	step, _, err := m.RunCommands(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, StepPending, step)

	step, _, err = m.RunCommands(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, StepYielded, step)

	step, result, err := m.RunCommands(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, StepDone, step)
	assert.Equal(t, "result", result)
}
