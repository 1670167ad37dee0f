package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	mcli "github.com/jawher/mow.cli"
	"github.com/vk/xbuildgo/internal/app"
	"github.com/vk/xbuildgo/internal/manifest"
	"github.com/vk/xbuildgo/internal/report"
)

// Exit codes.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitUsage  = 2
)

// Version is reported by --version.
var Version = "dev"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Message: err.Error()}
}

// outcome maps the result of a command onto an exit error.
func outcome(rep *report.Report, err error) error {
	if err != nil {
		return usageError(err)
	}
	if rep.ExitCode() != ExitOK {
		return &ExitError{
			Code:    ExitFailed,
			Message: fmt.Sprintf("%d of %d targets failed", rep.Failed(), len(rep.Entries)),
		}
	}
	return nil
}

// Run parses args, without the program name, and executes the selected
// command. It returns nil or an *ExitError. Options are passed to every App
// the command creates.
func Run(ctx context.Context, args []string, outW io.Writer, opts ...app.Option) error {
	cliApp := mcli.App("xbuildgo", "Cross-platform native library build orchestration")
	cliApp.ErrorHandling = flag.ContinueOnError
	cliApp.Version("v version", "xbuildgo "+Version)

	logLevel := cliApp.String(mcli.StringOpt{
		Name:   "l log-level",
		Value:  "info",
		Desc:   "Logging level: debug, info, warn or error",
		EnvVar: "XBUILD_LOG_LEVEL",
	})
	logFormat := cliApp.String(mcli.StringOpt{
		Name:   "log-format",
		Value:  "text",
		Desc:   "Log output format: text or json",
		EnvVar: "XBUILD_LOG_FORMAT",
	})

	var result error
	newApp := func(cfg app.Config) (*app.App, bool) {
		cfg.LogLevel = *logLevel
		cfg.LogFormat = *logFormat
		config, err := app.NewConfig(cfg)
		if err != nil {
			result = usageError(err)
			return nil, false
		}
		return app.NewApp(outW, config, opts...), true
	}

	cliApp.Command("build", "Build every selected target and collect its libraries", func(cmd *mcli.Cmd) {
		cmd.Spec = "[OPTIONS] MANIFEST [OPTIONS]"
		sel := targetSelection(cmd)
		jobs := cmd.Int(mcli.IntOpt{Name: "j jobs", Value: 0, Desc: "Concurrent build units (0 = number of CPUs)", EnvVar: "XBUILD_JOBS"})
		config := cmd.String(mcli.StringOpt{Name: "config", Value: "Release", Desc: "Build configuration"})
		dryRun := cmd.Bool(mcli.BoolOpt{Name: "n dry-run", Desc: "Print the commands without running them"})
		publishFlag := cmd.Bool(mcli.BoolOpt{Name: "publish", Desc: "Upload collected libraries to S3 (XBUILD_S3_*)"})
		notifyURL := cmd.String(mcli.StringOpt{Name: "notify-url", Desc: "socket.io server that receives build events", EnvVar: "XBUILD_NOTIFY_URL"})

		cmd.Action = func() {
			a, ok := newApp(app.Config{
				ManifestPath: *sel.manifest,
				Platforms:    *sel.platforms,
				Archs:        *sel.archs,
				Jobs:         *jobs,
				BuildConfig:  *config,
				DryRun:       *dryRun,
				Publish:      *publishFlag,
				NotifyURL:    *notifyURL,
				S3:           app.S3ConfigFromEnv(os.Getenv),
			})
			if !ok {
				return
			}
			result = outcome(a.Build(ctx))
		}
	})

	cliApp.Command("plan", "Print the build commands of every selected target", func(cmd *mcli.Cmd) {
		cmd.Spec = "[OPTIONS] MANIFEST [OPTIONS]"
		sel := targetSelection(cmd)
		config := cmd.String(mcli.StringOpt{Name: "config", Value: "Release", Desc: "Build configuration"})

		cmd.Action = func() {
			a, ok := newApp(app.Config{
				ManifestPath: *sel.manifest,
				Platforms:    *sel.platforms,
				Archs:        *sel.archs,
				BuildConfig:  *config,
			})
			if !ok {
				return
			}
			result = outcome(a.Plan(ctx))
		}
	})

	cliApp.Command("validate", "Check a manifest and resolve every declared target", func(cmd *mcli.Cmd) {
		cmd.Spec = "MANIFEST"
		path := cmd.String(mcli.StringArg{Name: "MANIFEST", Desc: "Manifest file (.yaml, .json, .toml or .hcl)"})

		cmd.Action = func() {
			a, ok := newApp(app.Config{ManifestPath: *path})
			if !ok {
				return
			}
			result = outcome(a.Validate(ctx))
		}
	})

	cliApp.Command("convert", "Rewrite a manifest in another format", func(cmd *mcli.Cmd) {
		cmd.Spec = "[OPTIONS] MANIFEST [OPTIONS]"
		to := cmd.String(mcli.StringOpt{Name: "t to", Value: "yaml", Desc: "Output format: yaml, toml or hcl"})
		path := cmd.String(mcli.StringArg{Name: "MANIFEST", Desc: "Manifest file (.yaml, .json, .toml or .hcl)"})

		cmd.Action = func() {
			format, err := manifest.ParseFormat(*to)
			if err != nil {
				result = usageError(err)
				return
			}
			if err := app.Convert(*path, format, outW); err != nil {
				result = usageError(err)
			}
		}
	})

	if err := cliApp.Run(append([]string{"xbuildgo"}, args...)); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr
		}
		return usageError(err)
	}
	return result
}

type selection struct {
	manifest  *string
	platforms *[]string
	archs     *[]string
}

func targetSelection(cmd *mcli.Cmd) selection {
	return selection{
		platforms: cmd.Strings(mcli.StringsOpt{Name: "p platform", Desc: "Platform to build (repeatable, default: the host)"}),
		archs:     cmd.Strings(mcli.StringsOpt{Name: "a arch", Desc: "Architecture to build (repeatable, default: all declared)"}),
		manifest:  cmd.String(mcli.StringArg{Name: "MANIFEST", Desc: "Manifest file (.yaml, .json, .toml or .hcl)"}),
	}
}
