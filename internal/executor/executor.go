// Package executor drives build plans through the native build system.
//
// Every target moves through Pending, Generating, Compiling, Installing and
// Done, or ends in Failed. Its work is split into units scheduled on a
// dependency graph: generate(T) and one sub(T, s) per subdirectory must all
// succeed before build(T) compiles and installs. Targets are independent, so
// a failing target never stops its siblings.
package executor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/vk/xbuildgo/internal/ctxlog"
	"github.com/vk/xbuildgo/internal/process"
	"github.com/vk/xbuildgo/internal/toolchain"
)

// Executor runs build plans with bounded parallelism.
type Executor struct {
	Runner process.Runner
	// Jobs bounds the number of concurrently running units. Defaults to the
	// number of CPUs.
	Jobs int
	// Prober, if set, checks a toolchain's tools before its first command.
	Prober    *toolchain.Prober
	Observers []Observer
}

// TargetResult is the outcome of one target.
type TargetResult struct {
	Plan     *toolchain.BuildPlan
	State    State
	Err      error
	Phases   []PhaseTiming
	Duration time.Duration
}

// Name returns the target's directory name, e.g. "linux-x64".
func (r TargetResult) Name() string {
	return r.Plan.Target.DirName()
}

// Result aggregates every target of a run, in the order the plans were given.
type Result struct {
	Targets []TargetResult
}

// Succeeded returns the targets that reached Done.
func (r *Result) Succeeded() []TargetResult {
	return r.filter(Done)
}

// Failed returns the targets that ended in Failed.
func (r *Result) Failed() []TargetResult {
	return r.filter(Failed)
}

func (r *Result) filter(s State) []TargetResult {
	var out []TargetResult
	for _, t := range r.Targets {
		if t.State == s {
			out = append(out, t)
		}
	}
	return out
}

type unitKind int

const (
	generateUnit unitKind = iota
	subUnit
	buildUnit
)

type unit struct {
	kind unitKind
	run  *targetRun
	sub  *toolchain.Subproject
}

// targetRun is the mutable state of one target during a run.
type targetRun struct {
	name   string
	plan   *toolchain.BuildPlan
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	err      error
	phases   []PhaseTiming
	started  time.Time
	finished time.Time
}

func (r *targetRun) current() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *targetRun) record(p PhaseTiming) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, p)
}

// Run executes every plan and returns once all targets are terminal. The
// error is reserved for plans that cannot be scheduled together.
func (e *Executor) Run(ctx context.Context, plans []*toolchain.BuildPlan) (*Result, error) {
	logger := ctxlog.FromContext(ctx)

	g, err := unitGraph(plans)
	if err != nil {
		return nil, err
	}

	runs := make([]*targetRun, len(plans))
	units := make(map[string]unit, g.Len())
	for i, plan := range plans {
		name := plan.Target.DirName()
		runCtx, cancel := context.WithCancel(ctxlog.With(ctx, "target", name))
		defer cancel()
		run := &targetRun{name: name, plan: plan, ctx: runCtx, cancel: cancel}
		runs[i] = run

		units[generateID(name)] = unit{kind: generateUnit, run: run}
		units[buildID(name)] = unit{kind: buildUnit, run: run}
		for j := range plan.Subprojects {
			sub := &plan.Subprojects[j]
			units[subID(name, sub.Name)] = unit{kind: subUnit, run: run, sub: sub}
		}
	}

	jobs := e.Jobs
	if jobs < 1 {
		jobs = runtime.NumCPU()
	}
	logger.Info("Building targets.", "targets", len(plans), "units", g.Len(), "jobs", jobs)

	_, err = g.Run(ctx, jobs, func(ctx context.Context, id string) error {
		u := units[id]
		if err := e.runUnit(ctx, u); err != nil {
			e.fail(u.run, err)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &Result{Targets: make([]TargetResult, len(runs))}
	for i, run := range runs {
		if !run.current().Terminal() {
			e.fail(run, e.unfinished(ctx, run))
		}
		run.mu.Lock()
		tr := TargetResult{
			Plan:   run.plan,
			State:  run.state,
			Err:    run.err,
			Phases: append([]PhaseTiming(nil), run.phases...),
		}
		if !run.started.IsZero() {
			tr.Duration = run.finished.Sub(run.started)
		}
		run.mu.Unlock()
		result.Targets[i] = tr
	}
	logger.Info("Build finished.", "succeeded", len(result.Succeeded()), "failed", len(result.Failed()))
	return result, nil
}

// unfinished explains why a target is not terminal after the graph ran.
func (e *Executor) unfinished(ctx context.Context, run *targetRun) error {
	phase := Phase("")
	switch run.current() {
	case Generating:
		phase = PhaseGenerate
	case Compiling:
		phase = PhaseCompile
	case Installing:
		phase = PhaseInstall
	}
	if ctx.Err() != nil {
		return &CancelledError{Target: run.name, Phase: phase}
	}
	return fmt.Errorf("%s: stopped in state %s", run.name, run.current())
}

func (e *Executor) transition(run *targetRun, next State, cause error) bool {
	run.mu.Lock()
	from := run.state
	if !from.CanTransition(next) {
		run.mu.Unlock()
		return false
	}
	now := time.Now()
	run.state = next
	if from == Pending {
		run.started = now
	}
	if next.Terminal() {
		run.finished = now
		if run.started.IsZero() {
			run.started = now
		}
	}
	if next == Failed {
		run.err = cause
		// Stop the target's other units, e.g. a subdirectory build running
		// next to a failed generate.
		run.cancel()
	}
	run.mu.Unlock()

	logger := ctxlog.FromContext(run.ctx)
	switch next {
	case Done:
		logger.Info("Target built.", "duration", now.Sub(run.started))
	case Failed:
		logger.Error("Target failed.", "error", cause)
	default:
		logger.Debug("Target state changed.", "from", from, "to", next)
	}
	for _, o := range e.Observers {
		o.OnEvent(Event{Target: run.name, From: from, To: next, Err: cause, Time: now})
	}
	return true
}

// fail moves the target to Failed unless it is already terminal; the first
// failure of a target is the one that is kept.
func (e *Executor) fail(run *targetRun, err error) {
	e.transition(run, Failed, err)
}

func (e *Executor) runUnit(ctx context.Context, u unit) error {
	run := u.run
	if err := run.ctx.Err(); err != nil {
		if ctx.Err() != nil {
			return &CancelledError{Target: run.name}
		}
		return err
	}

	switch u.kind {
	case generateUnit:
		e.transition(run, Generating, nil)
		if err := e.prepare(run, run.plan.WorkDir, run.plan.Generate, ""); err != nil {
			return err
		}
		return e.runPhase(ctx, run, PhaseGenerate, "", run.plan.Generate)

	case subUnit:
		e.transition(run, Generating, nil)
		if err := e.prepare(run, u.sub.WorkDir, u.sub.Generate, u.sub.Name); err != nil {
			return err
		}
		if err := e.runPhase(ctx, run, PhaseGenerate, u.sub.Name, u.sub.Generate); err != nil {
			return err
		}
		return e.runPhase(ctx, run, PhaseCompile, u.sub.Name, u.sub.Compile)

	case buildUnit:
		steps := []struct {
			state State
			phase Phase
			inv   process.Invocation
		}{
			{Compiling, PhaseCompile, run.plan.Compile},
			{Installing, PhaseInstall, run.plan.Install},
		}
		for _, step := range steps {
			if !e.transition(run, step.state, nil) {
				return fmt.Errorf("%s: cannot enter %s from %s", run.name, step.state, run.current())
			}
			if err := e.runPhase(ctx, run, step.phase, "", step.inv); err != nil {
				return err
			}
		}
		e.transition(run, Done, nil)
		return nil
	}
	return fmt.Errorf("unknown unit kind %d", u.kind)
}

// prepare creates the unit's work directory and checks the toolchain's tools.
func (e *Executor) prepare(run *targetRun, dir string, inv process.Invocation, sub string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%s: failed to create work directory: %w", run.name, err)
	}
	if e.Prober == nil {
		return nil
	}
	if err := e.Prober.Check(run.plan.Toolchain.Tools); err != nil {
		return &ToolchainExecutionError{
			Target:     run.name,
			Phase:      PhaseGenerate,
			Subproject: sub,
			Command:    inv.String(),
			ExitCode:   -1,
			Err:        err,
		}
	}
	return nil
}

func (e *Executor) runPhase(ctx context.Context, run *targetRun, phase Phase, sub string, inv process.Invocation) error {
	res, err := e.Runner.Run(run.ctx, inv)
	run.record(PhaseTiming{Phase: phase, Subproject: sub, ExitCode: res.ExitCode, Duration: res.Duration})

	if err != nil {
		if ctx.Err() != nil {
			return &CancelledError{Target: run.name, Phase: phase}
		}
		if run.ctx.Err() != nil {
			// A sibling unit already failed this target.
			return err
		}
		return &ToolchainExecutionError{
			Target: run.name, Phase: phase, Subproject: sub, Command: inv.String(),
			ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr, Err: err,
		}
	}
	if !res.Success() {
		return &ToolchainExecutionError{
			Target: run.name, Phase: phase, Subproject: sub, Command: inv.String(),
			ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr,
		}
	}
	return nil
}
