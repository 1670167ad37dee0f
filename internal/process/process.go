// Package process runs external toolchain commands and captures their result.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/vk/xbuildgo/internal/ctxlog"
)

// Invocation is the contract between the planner and the native build system:
// an executable, its arguments and the directory it runs in.
type Invocation struct {
	// Name labels the invocation in logs, e.g. "linux-x64 compile".
	Name string
	Path string
	Args []string
	Dir  string
	// Env holds KEY=VALUE entries added to the parent environment.
	Env []string
}

// String renders the command line, quoting arguments that contain spaces.
func (i Invocation) String() string {
	parts := make([]string, 0, len(i.Args)+1)
	parts = append(parts, quote(i.Path))
	for _, a := range i.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"'") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// Result is the captured outcome of a finished invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the command exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes invocations. A non-zero exit is reported through
// Result.ExitCode; the error is reserved for commands that could not be
// started or were cancelled through ctx.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

// DefaultWaitDelay bounds how long a killed command may hold its pipes open.
const DefaultWaitDelay = 5 * time.Second

// ExecRunner runs invocations as child processes.
type ExecRunner struct {
	// Stream, when set, receives the live output of every command with each
	// line prefixed by the invocation name.
	Stream    io.Writer
	WaitDelay time.Duration
}

// Run starts the command and waits for it. Cancelling ctx kills the process.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	logger := ctxlog.FromContext(ctx)

	cmd := exec.CommandContext(ctx, inv.Path, inv.Args...)
	cmd.Dir = inv.Dir
	if len(inv.Env) > 0 {
		cmd.Env = append(os.Environ(), inv.Env...)
	}
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	var live *PrefixWriter
	if r.Stream != nil {
		live = NewPrefixWriter(inv.Name, r.Stream)
		cmd.Stdout = io.MultiWriter(&stdout, live)
		cmd.Stderr = io.MultiWriter(&stderr, live)
	}

	logger.Debug("Running command.", "command", inv.String(), "dir", inv.Dir)
	start := time.Now()
	err := cmd.Run()
	if live != nil {
		live.Flush()
	}
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("failed to start %s: %w", inv.Path, err)
	}
	logger.Debug("Command finished.", "command", inv.Path, "duration", res.Duration)
	return res, nil
}
