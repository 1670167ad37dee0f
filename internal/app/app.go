package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/vk/xbuildgo/internal/collector"
	"github.com/vk/xbuildgo/internal/ctxlog"
	"github.com/vk/xbuildgo/internal/executor"
	"github.com/vk/xbuildgo/internal/manifest"
	"github.com/vk/xbuildgo/internal/process"
	"github.com/vk/xbuildgo/internal/toolchain"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW      io.Writer
	logger    *slog.Logger
	config    *Config
	host      manifest.Platform
	registry  *toolchain.Registry
	runner    process.Runner
	prober    *toolchain.Prober
	publisher collector.Publisher
	observers []executor.Observer
}

// Option customizes an App, mostly to substitute fakes in tests.
type Option func(*App)

// WithRunner replaces the subprocess runner.
func WithRunner(r process.Runner) Option {
	return func(a *App) { a.runner = r }
}

// WithRegistry replaces the toolchain registry.
func WithRegistry(r *toolchain.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithHost overrides the detected host platform.
func WithHost(p manifest.Platform) Option {
	return func(a *App) { a.host = p }
}

// WithProber sets the tool prober. Without it tools are not checked up front.
func WithProber(p *toolchain.Prober) Option {
	return func(a *App) { a.prober = p }
}

// WithPublisher replaces the S3 publisher used by --publish.
func WithPublisher(p collector.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithObserver adds an observer of target state changes.
func WithObserver(o executor.Observer) Option {
	return func(a *App) { a.observers = append(a.observers, o) }
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger. Without options it
// runs real processes with the toolchains of the current host.
func NewApp(outW io.Writer, cfg *Config, opts ...Option) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	host, _ := manifest.HostPlatform(runtime.GOOS)
	a := &App{outW: outW, logger: logger, config: cfg, host: host}
	for _, opt := range opts {
		opt(a)
	}

	if a.registry == nil {
		a.registry = toolchain.DefaultRegistry(os.Getenv)
		logger.Debug("Toolchain registry created.", "entries", a.registry.Len())
	}
	if a.runner == nil {
		runner := &process.ExecRunner{}
		if cfg.LogLevel == "debug" {
			runner.Stream = outW
		}
		a.runner = runner
		if a.prober == nil {
			prober, err := toolchain.NewProber(toolchain.DefaultProbeCacheSize)
			if err != nil {
				logger.Debug("Tool probing disabled.", "error", err)
			} else {
				a.prober = prober
			}
		}
	}
	return a
}

func (a *App) context(ctx context.Context) (context.Context, error) {
	if a.host == "" {
		return nil, fmt.Errorf("unsupported host operating system %q", runtime.GOOS)
	}
	return ctxlog.WithLogger(ctx, a.logger.With("host", string(a.host))), nil
}
