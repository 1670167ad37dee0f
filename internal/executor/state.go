package executor

import (
	"fmt"
	"time"
)

// State is a target's position in the build pipeline.
type State int32

const (
	Pending State = iota
	Generating
	Compiling
	Installing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Generating:
		return "generating"
	case Compiling:
		return "compiling"
	case Installing:
		return "installing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// CanTransition reports whether moving from s to next is legal. Phases only
// move forward one step at a time, and Failed is reachable from every
// non-terminal state.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == Failed {
		return true
	}
	return next == s+1
}

// Phase names a step of a target's build.
type Phase string

const (
	PhaseGenerate Phase = "generate"
	PhaseCompile  Phase = "compile"
	PhaseInstall  Phase = "install"
)

// PhaseTiming records how one phase of a target went.
type PhaseTiming struct {
	Phase Phase
	// Subproject is set for phases of a subdirectory build.
	Subproject string
	ExitCode   int
	Duration   time.Duration
}

func (p PhaseTiming) String() string {
	if p.Subproject != "" {
		return fmt.Sprintf("%s %s", p.Subproject, p.Phase)
	}
	return string(p.Phase)
}

// Event describes a state transition of one target.
type Event struct {
	Target string
	From   State
	To     State
	Err    error
	Time   time.Time
}

// Observer receives every state transition. Implementations must be safe for
// concurrent use.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnEvent calls f(ev).
func (f ObserverFunc) OnEvent(ev Event) { f(ev) }
