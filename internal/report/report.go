// Package report aggregates the outcome of a build run into one entry per
// target and renders it for the terminal.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/vk/xbuildgo/internal/collector"
	"github.com/vk/xbuildgo/internal/executor"
	"github.com/vk/xbuildgo/internal/manifest"
	"github.com/vk/xbuildgo/internal/publish"
	"github.com/vk/xbuildgo/internal/resolve"
	"github.com/vk/xbuildgo/internal/toolchain"
)

// Kind classifies the reason a target failed.
type Kind string

const (
	KindOK                 Kind = "ok"
	KindValidation         Kind = "validation"
	KindConflict           Kind = "conflict"
	KindUnsupportedTarget  Kind = "unsupported_target"
	KindToolchainExecution Kind = "toolchain_execution"
	KindMissingArtifact    Kind = "missing_artifact"
	KindCancelled          Kind = "cancelled"
	KindPublish            Kind = "publish"
	KindError              Kind = "error"
)

// Classify returns the kind of err. Cancellation wins over the error that
// carried it.
func Classify(err error) Kind {
	var (
		validation  *manifest.ValidationError
		conflict    *resolve.ConflictError
		unsupported *toolchain.UnsupportedTargetError
		execErr     *executor.ToolchainExecutionError
		missing     *collector.MissingArtifactError
		publishErr  *publish.PublishError
	)
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, executor.ErrCancelled):
		return KindCancelled
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &conflict):
		return KindConflict
	case errors.As(err, &unsupported):
		return KindUnsupportedTarget
	case errors.As(err, &execErr):
		return KindToolchainExecution
	case errors.As(err, &missing):
		return KindMissingArtifact
	case errors.As(err, &publishErr):
		return KindPublish
	}
	return KindError
}

// Entry is the outcome of one target.
type Entry struct {
	Target string
	// State is the final executor state, or "skipped" for targets that were
	// never planned.
	State     string
	Errs      []error
	Artifacts []string
	Duration  time.Duration
}

// StateSkipped marks targets that never reached the executor.
const StateSkipped = "skipped"

// OK reports whether the target succeeded end to end.
func (e Entry) OK() bool {
	return len(e.Errs) == 0
}

// Kind classifies the first error of the entry.
func (e Entry) Kind() Kind {
	if e.OK() {
		return KindOK
	}
	return Classify(e.Errs[0])
}

// Report is the aggregate outcome of a run.
type Report struct {
	Project string
	Entries []Entry
	// Errors are failures that belong to no single target, such as a
	// failed copy entry.
	Errors []error
	index  map[string]int
}

// New returns an empty report.
func New(project string) *Report {
	return &Report{Project: project, index: make(map[string]int)}
}

// entry returns the entry of target, creating it with state if needed.
func (r *Report) entry(target, state string) *Entry {
	if i, ok := r.index[target]; ok {
		return &r.Entries[i]
	}
	r.index[target] = len(r.Entries)
	r.Entries = append(r.Entries, Entry{Target: target, State: state})
	return &r.Entries[len(r.Entries)-1]
}

// Skip records a target that failed before it could be built.
func (r *Report) Skip(target string, err error) {
	e := r.entry(target, StateSkipped)
	e.Errs = append(e.Errs, err)
}

// AddExecution records the executor outcome of every target.
func (r *Report) AddExecution(res *executor.Result) {
	for _, tr := range res.Targets {
		e := r.entry(tr.Name(), tr.State.String())
		e.State = tr.State.String()
		e.Duration = tr.Duration
		if tr.Err != nil {
			e.Errs = append(e.Errs, tr.Err)
		}
	}
}

// AddArtifacts records the collected libraries and collection failures.
func (r *Report) AddArtifacts(results []collector.TargetArtifacts) {
	for _, res := range results {
		e := r.entry(res.Name(), executor.Done.String())
		for _, a := range res.Artifacts {
			e.Artifacts = append(e.Artifacts, a.Path)
		}
		e.Errs = append(e.Errs, res.Errs...)
	}
}

// AddError attaches err to target, e.g. a failed upload.
func (r *Report) AddError(target string, err error) {
	e := r.entry(target, executor.Done.String())
	e.Errs = append(e.Errs, err)
}

// AddRunError records a failure of the run as a whole.
func (r *Report) AddRunError(err error) {
	r.Errors = append(r.Errors, err)
}

// Failed counts the entries that did not succeed.
func (r *Report) Failed() int {
	n := 0
	for _, e := range r.Entries {
		if !e.OK() {
			n++
		}
	}
	return n
}

// Succeeded counts the entries that succeeded.
func (r *Report) Succeeded() int {
	return len(r.Entries) - r.Failed()
}

// ExitCode is 0 when every target succeeded and 1 otherwise.
func (r *Report) ExitCode() int {
	if r.Failed() > 0 || len(r.Errors) > 0 {
		return 1
	}
	return 0
}

// outputLines bounds the toolchain output printed per failure.
const outputLines = 20

// Render writes a summary table followed by the details of every failure.
func (r *Report) Render(w io.Writer) error {
	fmt.Fprintf(w, "%s: %d of %d targets succeeded\n\n", r.Project, r.Succeeded(), len(r.Entries))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tSTATE\tRESULT\tDURATION\tDETAIL")
	for _, e := range r.Entries {
		detail := strings.Join(e.Artifacts, ", ")
		if !e.OK() {
			detail = e.Errs[0].Error()
		}
		duration := "-"
		if e.Duration > 0 {
			duration = e.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Target, e.State, e.Kind(), duration, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, e := range r.Entries {
		if e.OK() {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", e.Target)
		for _, err := range e.Errs {
			fmt.Fprintf(w, "  [%s] %v\n", Classify(err), err)
			var execErr *executor.ToolchainExecutionError
			if errors.As(err, &execErr) {
				if out := tail(execErr.Output(), outputLines); out != "" {
					fmt.Fprintf(w, "    $ %s\n", execErr.Command)
					for _, line := range strings.Split(out, "\n") {
						fmt.Fprintf(w, "    | %s\n", line)
					}
				}
			}
		}
	}
	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "\nrun errors:")
		for _, err := range r.Errors {
			fmt.Fprintf(w, "  [%s] %v\n", Classify(err), err)
		}
	}
	return nil
}

func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
