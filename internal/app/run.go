package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/vk/xbuildgo/internal/collector"
	"github.com/vk/xbuildgo/internal/ctxlog"
	"github.com/vk/xbuildgo/internal/executor"
	"github.com/vk/xbuildgo/internal/manifest"
	"github.com/vk/xbuildgo/internal/notify"
	"github.com/vk/xbuildgo/internal/publish"
	"github.com/vk/xbuildgo/internal/report"
	"github.com/vk/xbuildgo/internal/resolve"
	"github.com/vk/xbuildgo/internal/toolchain"
)

// session is a loaded manifest together with everything derived from it.
type session struct {
	manifest *manifest.Manifest
	// baseDir is the manifest's directory, the root of all relative paths.
	baseDir string
	plans   []*toolchain.BuildPlan
	report  *report.Report
}

// load reads the manifest and plans every selected target. Targets that
// cannot be resolved or have no toolchain are recorded as skipped.
func (a *App) load(ctx context.Context) (*session, error) {
	logger := ctxlog.FromContext(ctx)

	m, err := manifest.Load(a.config.ManifestPath)
	if err != nil {
		return nil, err
	}
	manifestPath, err := filepath.Abs(a.config.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest path: %w", err)
	}
	s := &session{manifest: m, baseDir: filepath.Dir(manifestPath), report: report.New(m.Project)}
	logger.Debug("Manifest loaded.", "project", m.Project, "platforms", len(m.Platforms))

	targets, failures := resolve.ResolveAll(m, a.filter())
	skipFailures(s.report, failures)

	selector := &toolchain.Selector{
		Registry:  a.registry,
		Host:      a.host,
		SourceDir: s.baseDir,
		Config:    a.config.BuildConfig,
		Jobs:      a.config.Jobs,
	}
	for _, t := range targets {
		plan, err := selector.Select(t)
		if err != nil {
			logger.Warn("Target skipped.", "target", t.DirName(), "error", err)
			s.report.Skip(t.DirName(), err)
			continue
		}
		s.plans = append(s.plans, plan)
	}
	logger.Info("Targets planned.", "project", m.Project, "planned", len(s.plans), "skipped", s.report.Failed())
	return s, nil
}

// skipFailures reports every target an unresolvable (platform, variant)
// would have produced.
func skipFailures(rep *report.Report, failures []resolve.Failure) {
	for _, f := range failures {
		if len(f.Archs) == 0 {
			rep.Skip(string(f.Platform)+"-"+string(f.Variant), f.Err)
			continue
		}
		for _, arch := range f.Archs {
			rep.Skip(f.Target(arch).DirName(), f.Err)
		}
	}
}

// filter selects the configured platforms, or the host platform.
func (a *App) filter() resolve.Filter {
	var f resolve.Filter
	for _, p := range a.config.Platforms {
		if platform, ok := manifest.ParsePlatform(p); ok {
			f.Platforms = append(f.Platforms, platform)
		}
	}
	if len(f.Platforms) == 0 {
		f.Platforms = []manifest.Platform{a.host}
	}
	for _, s := range a.config.Archs {
		if arch, ok := manifest.ParseArch(s); ok {
			f.Archs = append(f.Archs, arch)
		}
	}
	return f
}

// Build runs the whole pipeline and renders the report. The error is
// reserved for failures that prevent any target from being attempted.
func (a *App) Build(ctx context.Context) (*report.Report, error) {
	if a.config.DryRun {
		return a.Plan(ctx)
	}
	ctx, err := a.context(ctx)
	if err != nil {
		return nil, err
	}
	logger := ctxlog.FromContext(ctx)

	s, err := a.load(ctx)
	if err != nil {
		return nil, err
	}

	observers := append([]executor.Observer(nil), a.observers...)
	if a.config.NotifyURL != "" {
		n, err := notify.Connect(ctx, notify.Config{URL: a.config.NotifyURL}, s.manifest.Project)
		if err != nil {
			logger.Warn("Build notifications disabled.", "error", err)
		} else {
			defer n.Close()
			observers = append(observers, n)
			defer func() {
				n.Finished(s.report.Succeeded(), s.report.Failed(), s.report.ExitCode())
			}()
		}
	}

	if len(s.plans) > 0 {
		exec := &executor.Executor{Runner: a.runner, Jobs: a.config.Jobs, Prober: a.prober, Observers: observers}
		result, err := exec.Run(ctx, s.plans)
		if err != nil {
			return nil, err
		}
		s.report.AddExecution(result)

		if ctx.Err() != nil {
			logger.Warn("Build cancelled, skipping artifact collection.")
		} else {
			a.collect(ctx, s, result)
		}
	} else {
		logger.Warn("No targets to build.")
	}

	if err := s.report.Render(a.outW); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	return s.report, nil
}

// collect gathers the libraries of finished targets, applies the copy map
// and publishes when requested.
func (a *App) collect(ctx context.Context, s *session, result *executor.Result) {
	logger := ctxlog.FromContext(ctx)
	common := s.manifest.Common

	var done []*toolchain.BuildPlan
	for _, tr := range result.Succeeded() {
		done = append(done, tr.Plan)
	}
	if len(done) == 0 {
		return
	}

	outDir := common.BuildOutDir
	if outDir == "" {
		outDir = common.BuildDir
	}
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(s.baseDir, outDir)
	}

	var collected []collector.TargetArtifacts
	if len(common.Libraries) > 0 {
		collected = collector.Collect(ctx, done, common.Libraries, outDir, a.config.Jobs)
		s.report.AddArtifacts(collected)
	}

	if len(common.Copy) > 0 {
		written, err := collector.CopyFiles(s.baseDir, common.Copy, outDir)
		if err != nil {
			s.report.AddRunError(err)
		}
		logger.Info("Copied files.", "count", len(written), "out", outDir)
	}

	if !a.config.Publish || len(collected) == 0 {
		return
	}
	pub := a.publisher
	if pub == nil {
		s3, err := publish.NewS3Publisher(a.config.S3, s.manifest.Project)
		if err != nil {
			s.report.AddRunError(fmt.Errorf("publishing disabled: %w", err))
			return
		}
		pub = s3
	}
	for _, err := range collector.Publish(ctx, pub, collected, a.config.Jobs) {
		var pe *publish.PublishError
		if errors.As(err, &pe) {
			s.report.AddError(pe.Target, err)
			continue
		}
		s.report.AddRunError(err)
	}
}

// Plan prints the commands every selected target would run.
func (a *App) Plan(ctx context.Context) (*report.Report, error) {
	ctx, err := a.context(ctx)
	if err != nil {
		return nil, err
	}
	s, err := a.load(ctx)
	if err != nil {
		return nil, err
	}

	for _, plan := range s.plans {
		printPlan(a.outW, plan)
	}
	units, err := executor.Schedule(s.plans)
	if err != nil {
		return nil, err
	}
	printSchedule(a.outW, units)
	if s.report.Failed() > 0 {
		if err := s.report.Render(a.outW); err != nil {
			return nil, fmt.Errorf("failed to write report: %w", err)
		}
	}
	return s.report, nil
}

func printPlan(w io.Writer, plan *toolchain.BuildPlan) {
	fmt.Fprintf(w, "%s (%s, %s)\n", plan.Target.DirName(), plan.Toolchain.ID, plan.Toolchain.Generator)
	fmt.Fprintf(w, "  work dir: %s\n", plan.WorkDir)
	for _, inv := range plan.Invocations() {
		env := ""
		if len(inv.Env) > 0 {
			env = strings.Join(inv.Env, " ") + " "
		}
		fmt.Fprintf(w, "  $ %s%s\n", env, inv)
	}
	fmt.Fprintln(w)
}

func printSchedule(w io.Writer, units []executor.ScheduledUnit) {
	if len(units) == 0 {
		return
	}
	fmt.Fprintln(w, "schedule:")
	for i, u := range units {
		if len(u.After) == 0 {
			fmt.Fprintf(w, "  %2d. %s\n", i+1, u.ID)
			continue
		}
		fmt.Fprintf(w, "  %2d. %s (after %s)\n", i+1, u.ID, strings.Join(u.After, ", "))
	}
	fmt.Fprintln(w)
}

// Validate loads the manifest and resolves every declared target on every
// platform, independent of the host.
func (a *App) Validate(ctx context.Context) (*report.Report, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	m, err := manifest.Load(a.config.ManifestPath)
	if err != nil {
		return nil, err
	}
	rep := report.New(m.Project)
	targets, failures := resolve.ResolveAll(m, resolve.Filter{})
	skipFailures(rep, failures)
	ctxlog.FromContext(ctx).Debug("Manifest resolved.", "targets", len(targets), "failures", len(failures))

	if rep.Failed() > 0 {
		if err := rep.Render(a.outW); err != nil {
			return nil, err
		}
		return rep, nil
	}
	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.DirName()
	}
	fmt.Fprintf(a.outW, "%s: manifest is valid, %d targets: %s\n", m.Project, len(targets), strings.Join(names, ", "))
	return rep, nil
}

// Convert re-encodes the manifest in another format.
func Convert(path string, to manifest.Format, w io.Writer) error {
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	data, err := manifest.Encode(m, to)
	if err != nil {
		return fmt.Errorf("failed to encode manifest as %s: %w", to, err)
	}
	_, err = w.Write(data)
	return err
}
