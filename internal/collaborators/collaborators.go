// Package collaborators defines the interfaces the core hands off to
// at its edges: the variable data store, the task execution queue, and
// the terminal UI. The core never implements these; it only calls
// them. A minimal no-op implementation of each is provided so
// `cmd/cooker` can wire a complete pipeline without pulling in a real
// expansion engine or scheduler.
package collaborators

import "github.com/standardbeagle/cooker/internal/taskdata"

// DataStore is the low-level variable data store and expansion engine:
// the core reads resolved recipe metadata out of RecipeInfo and never
// touches raw variable text or expansion itself.
type DataStore interface {
	// GetVar returns the expanded value of a variable for a given
	// recipe file, or ("", false) if unset.
	GetVar(file, name string) (string, bool)
}

// RunQueue is the task execution engine that spawns build steps; the
// cooker hands it the finished plan and goes no further.
type RunQueue interface {
	// Submit hands a completed task plan to the execution queue and
	// returns once scheduling has been accepted, not once the build
	// has finished.
	Submit(td *taskdata.TaskData) error
}

// UI is the terminal progress display; the core only fires events on
// its bus (internal/events) and never renders anything itself. This
// interface exists so a host can subscribe a concrete renderer without
// the core depending on one.
type UI interface {
	Render(line string)
}

// NullDataStore answers every lookup as unset; useful when a host
// wires the core without a real variable expansion engine behind it
// (e.g. exercising the planning pipeline against fixtures).
type NullDataStore struct{}

func (NullDataStore) GetVar(string, string) (string, bool) { return "", false }

// NullRunQueue accepts every submission without doing anything,
// standing in for the real task scheduler this core hands its plan to.
type NullRunQueue struct{}

func (NullRunQueue) Submit(*taskdata.TaskData) error { return nil }

// StdoutUI renders each line as-is; a minimal stand-in for a real
// terminal progress display.
type StdoutUI struct {
	Write func(string)
}

func (u StdoutUI) Render(line string) {
	if u.Write != nil {
		u.Write(line)
	}
}
