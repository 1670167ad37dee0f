package testutil

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vk/xbuildgo/internal/process"
)

// Handler decides the outcome of one fake invocation.
type Handler func(ctx context.Context, inv process.Invocation) (process.Result, error)

// FakeRunner records invocations instead of starting processes. Without a
// Handler every invocation succeeds.
type FakeRunner struct {
	Handler Handler

	mu    sync.Mutex
	calls []process.Invocation
}

// Run implements process.Runner.
func (f *FakeRunner) Run(ctx context.Context, inv process.Invocation) (process.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()

	if f.Handler == nil {
		return process.Result{}, nil
	}
	return f.Handler(ctx, inv)
}

// Calls returns every recorded invocation in call order.
func (f *FakeRunner) Calls() []process.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]process.Invocation(nil), f.calls...)
}

// Names returns the names of the recorded invocations in call order.
func (f *FakeRunner) Names() []string {
	calls := f.Calls()
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}

// Fail returns a handler that exits with code for invocations whose name is
// failName and delegates everything else to next (success when nil).
func Fail(failName string, code int, stderr string, next Handler) Handler {
	return func(ctx context.Context, inv process.Invocation) (process.Result, error) {
		if inv.Name == failName {
			return process.Result{ExitCode: code, Stderr: stderr}, nil
		}
		if next == nil {
			return process.Result{}, nil
		}
		return next(ctx, inv)
	}
}

// Block returns a handler that, for the named invocation, signals entered and
// waits for the context to be cancelled.
func Block(name string, entered chan<- string, next Handler) Handler {
	return func(ctx context.Context, inv process.Invocation) (process.Result, error) {
		if inv.Name == name {
			entered <- name
			<-ctx.Done()
			return process.Result{ExitCode: -1}, ctx.Err()
		}
		if next == nil {
			return process.Result{}, nil
		}
		return next(ctx, inv)
	}
}

// InstallLibraries returns a handler that simulates "cmake --install" by
// writing the given library files into <prefix>/lib. Other invocations
// succeed without side effects.
func InstallLibraries(files ...string) Handler {
	return func(_ context.Context, inv process.Invocation) (process.Result, error) {
		prefix := installPrefix(inv.Args)
		if prefix == "" {
			return process.Result{}, nil
		}
		libDir := filepath.Join(prefix, "lib")
		if err := os.MkdirAll(libDir, 0o755); err != nil {
			return process.Result{}, err
		}
		for _, name := range files {
			content := []byte("archive " + name + " for " + filepath.Base(filepath.Dir(prefix)))
			if err := os.WriteFile(filepath.Join(libDir, name), content, 0o644); err != nil {
				return process.Result{}, err
			}
		}
		return process.Result{Stdout: "-- Installing: " + strings.Join(files, ", ")}, nil
	}
}

func installPrefix(args []string) string {
	if len(args) == 0 || args[0] != "--install" {
		return ""
	}
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "--prefix" {
			return args[i+1]
		}
	}
	return ""
}
