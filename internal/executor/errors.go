package executor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCancelled matches every *CancelledError through errors.Is.
var ErrCancelled = errors.New("build cancelled")

// CancelledError marks a target that was stopped by a user abort.
type CancelledError struct {
	Target string
	// Phase is empty when the target never started.
	Phase Phase
}

func (e *CancelledError) Error() string {
	if e.Phase == "" {
		return fmt.Sprintf("%s: cancelled before it started", e.Target)
	}
	return fmt.Sprintf("%s: cancelled during %s", e.Target, e.Phase)
}

// Is makes errors.Is(err, ErrCancelled) true.
func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

// ToolchainExecutionError is a toolchain command that failed to start or
// exited with a non-zero status. The captured output is kept for the report.
type ToolchainExecutionError struct {
	Target     string
	Phase      Phase
	Subproject string
	Command    string
	ExitCode   int
	Stdout     string
	Stderr     string
	Err        error
}

func (e *ToolchainExecutionError) Error() string {
	step := string(e.Phase)
	if e.Subproject != "" {
		step = e.Subproject + " " + step
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s failed: %v", e.Target, step, e.Err)
	}
	msg := fmt.Sprintf("%s: %s failed with exit code %d", e.Target, step, e.ExitCode)
	if tail := lastLines(e.Stderr, 1); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *ToolchainExecutionError) Unwrap() error {
	return e.Err
}

// Output returns the captured stdout followed by stderr.
func (e *ToolchainExecutionError) Output() string {
	var b strings.Builder
	b.WriteString(e.Stdout)
	if e.Stdout != "" && !strings.HasSuffix(e.Stdout, "\n") && e.Stderr != "" {
		b.WriteString("\n")
	}
	b.WriteString(e.Stderr)
	return b.String()
}

// lastLines returns up to n trailing non-empty lines of s.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n"), "\n")
	var out []string
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			out = append([]string{line}, out...)
		}
	}
	return strings.Join(out, "\n")
}
