// Package cookerfsm holds the top-level state machine a cooker session
// drives through, the advisory build-directory lock that enforces one
// cooker per build directory, and the cooperatively-stepped command
// polling loop.
package cookerfsm

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/standardbeagle/cooker/internal/config"
	"github.com/standardbeagle/cooker/internal/errors"
	"github.com/standardbeagle/cooker/internal/events"
	"github.com/standardbeagle/cooker/internal/logging"
)

// State is one node of the cooker lifecycle.
type State string

const (
	StateInitial       State = "initial"
	StateParsing       State = "parsing"
	StateRunning       State = "running"
	StateShutdown      State = "shutdown"
	StateForceShutdown State = "force_shutdown"
	StateStopped       State = "stopped"
	StateError         State = "error"
)

// Session is the identity and shared context of one cooker run.
type Session struct {
	ID     uuid.UUID
	Config *config.Config
	Bus    *events.Bus
}

func NewSession(cfg *config.Config, bus *events.Bus) *Session {
	return &Session{ID: uuid.New(), Config: cfg, Bus: bus}
}

// BuildLock is the advisory lock held for the session's lifetime;
// fileLock (lock_unix.go / lock_other.go) is the only implementation.
type BuildLock interface {
	Release() error
}

// Machine sequences the cooker lifecycle. All transition methods are
// mutex-guarded; at most one transition runs at a time.
type Machine struct {
	mu       sync.Mutex
	state    State
	session  *Session
	lock     BuildLock
	features map[string]bool

	stopSignals func()
}

// New creates a Machine in StateInitial and acquires the session's
// build-directory lock. Failure to acquire the lock is fatal: a second
// cooker in the same build directory must refuse to start rather than
// race the first.
func New(session *Session) (*Machine, error) {
	lock, err := acquireLock(session.Config.LockPath())
	if err != nil {
		return nil, errors.NewFatal("acquire build lock", err)
	}
	m := &Machine{
		state:    StateInitial,
		session:  session,
		lock:     lock,
		features: map[string]bool{},
	}
	m.installSignalHandler()
	return m, nil
}

// installSignalHandler forces ForceShutdown on SIGTERM/SIGHUP; no
// operation may swallow these signals. Cancel with Close, which also
// stops the signal relay.
func (m *Machine) installSignalHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGHUP)
	done := make(chan struct{})
	go func() {
		select {
		case sig, ok := <-ch:
			if !ok {
				return
			}
			logging.Warn("received signal, forcing shutdown", "signal", sig.String())
			m.ForceShutdown()
		case <-done:
		}
	}()
	m.stopSignals = func() {
		signal.Stop(ch)
		close(done)
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// invalidTransition reports a transition attempted from a state that
// does not permit it.
func (m *Machine) invalidTransition(action string) error {
	return fmt.Errorf("cookerfsm: %s is not valid from state %s", action, m.state)
}

// SetFeatures records the feature set requested for this session.
// Valid only in StateInitial, before any config parsing has begun. It
// reports whether the set changed so the caller can re-run its
// configuration pass when it did.
func (m *Machine) SetFeatures(features map[string]bool) (changed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateInitial {
		return false, m.invalidTransition("SetFeatures")
	}
	next := map[string]bool{}
	for k, v := range features {
		next[k] = v
	}
	changed = len(next) != len(m.features)
	if !changed {
		for k, v := range next {
			if m.features[k] != v {
				changed = true
				break
			}
		}
	}
	m.features = next
	return changed, nil
}

func (m *Machine) Feature(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.features[name]
}

// Reset returns the machine to StateInitial from StateStopped, allowing
// the same session to run another build without re-acquiring the lock.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateStopped && m.state != StateInitial {
		return m.invalidTransition("Reset")
	}
	m.state = StateInitial
	return nil
}

// ParseConfig re-reads configuration while staying in Initial. It only
// validates that no build is in flight; the actual config load is the
// caller's.
func (m *Machine) ParseConfig() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateInitial {
		return m.invalidTransition("ParseConfig")
	}
	return nil
}

// BuildTargets transitions Initial -> Parsing: a build was requested,
// so recipe collection and parsing begin.
func (m *Machine) BuildTargets() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateInitial {
		return m.invalidTransition("BuildTargets")
	}
	m.state = StateParsing
	return nil
}

// ParseDrained transitions Parsing -> Running once the parser pool has
// drained every work item.
func (m *Machine) ParseDrained() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateParsing {
		return m.invalidTransition("ParseDrained")
	}
	m.state = StateRunning
	return nil
}

// BuildComplete transitions Running -> Initial: one build finished and
// the cooker is ready to accept another command without reconstructing
// its caches.
func (m *Machine) BuildComplete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return m.invalidTransition("BuildComplete")
	}
	m.state = StateInitial
	return nil
}

// Shutdown transitions Running -> Shutdown (clean) or -> ForceShutdown
// (force).
func (m *Machine) Shutdown(force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return m.invalidTransition("Shutdown")
	}
	if force {
		m.state = StateForceShutdown
	} else {
		m.state = StateShutdown
	}
	return nil
}

// ForceShutdown is valid from any state: it models an operator
// SIGTERM/SIGHUP landing mid-parse, mid-build, or even before a build
// has started.
func (m *Machine) ForceShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateStopped {
		return
	}
	m.state = StateForceShutdown
}

// Drained transitions {Shutdown, ForceShutdown} -> Stopped once every
// in-flight worker has actually exited.
func (m *Machine) Drained() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateShutdown && m.state != StateForceShutdown {
		return m.invalidTransition("Drained")
	}
	m.state = StateStopped
	return nil
}

// Fail transitions any in-flight Parsing state to Error on a fatal
// configuration or collection failure.
func (m *Machine) Fail() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateParsing {
		return m.invalidTransition("Fail")
	}
	m.state = StateError
	return nil
}

// UpdateCache is a no-op in Running: a cache-update request arriving
// while a build is in flight is ignored rather than allowed to
// interrupt it, and outside Running there is no cache to update yet.
func (m *Machine) UpdateCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Idempotent by construction: no state is mutated on either branch.
}

// Close releases the build lock and stops the signal relay. Valid from
// any state; it is the terminal operation on a Machine.
func (m *Machine) Close() error {
	m.mu.Lock()
	stop := m.stopSignals
	lock := m.lock
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
	if lock != nil {
		return lock.Release()
	}
	return nil
}

// Step is the tri-state result of polling an AsyncCommand.
type Step int

const (
	StepPending Step = iota
	StepYielded
	StepDone
)

// AsyncCommand is one long-running, cooperatively-stepped operation
// (a parse pass, a dependency resolution, a build) that RunCommands
// drives to completion without blocking its caller's event loop.
type AsyncCommand interface {
	Poll(ctx context.Context) (Step, any, error)
}

// RunCommands drives cmd one step at a time: the caller invokes this
// repeatedly (from a ticker, a select loop, whatever event loop the
// host uses) until it returns StepDone or an error.
func (m *Machine) RunCommands(ctx context.Context, cmd AsyncCommand) (Step, any, error) {
	return cmd.Poll(ctx)
}
