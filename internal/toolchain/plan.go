package toolchain

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vk/xbuildgo/internal/manifest"
	"github.com/vk/xbuildgo/internal/process"
	"github.com/vk/xbuildgo/internal/resolve"
)

const (
	// DefaultConfig is the build configuration used when none is given.
	DefaultConfig = "Release"
	// SubprojectDir holds subdirectory builds inside a target's work dir.
	SubprojectDir = "_sub"
	// InstallDir is the install prefix inside a target's work dir.
	InstallDir = "install"
)

// BuildPlan is the concrete recipe for building one target.
type BuildPlan struct {
	Target    resolve.Target
	Toolchain Toolchain
	SourceDir string
	// WorkDir is <source>/<buildDir>/<dirName>, private to this target.
	WorkDir    string
	InstallDir string

	Generate    process.Invocation
	Compile     process.Invocation
	Install     process.Invocation
	Subprojects []Subproject
}

// Subproject is a subdirectory that must be generated and compiled before the
// parent target compiles.
type Subproject struct {
	Name     string
	WorkDir  string
	Generate process.Invocation
	Compile  process.Invocation
}

// Invocations lists every command of the plan in execution order.
func (p *BuildPlan) Invocations() []process.Invocation {
	invs := make([]process.Invocation, 0, 3+2*len(p.Subprojects))
	for _, sub := range p.Subprojects {
		invs = append(invs, sub.Generate, sub.Compile)
	}
	return append(invs, p.Generate, p.Compile, p.Install)
}

// Selector turns resolved targets into build plans.
type Selector struct {
	Registry  *Registry
	Host      manifest.Platform
	SourceDir string
	// Config is the build configuration, DefaultConfig when empty.
	Config string
	// Jobs is passed to the build tool as --parallel when positive.
	Jobs int
	// CMake is the build system executable, "cmake" when empty.
	CMake string
}

// Select returns the plan for t, or an *UnsupportedTargetError when the
// registry has no toolchain for it on this host.
func (s *Selector) Select(t resolve.Target) (*BuildPlan, error) {
	unsupported := &UnsupportedTargetError{Host: s.Host, Platform: t.Platform, Variant: t.Variant, Arch: t.Arch}
	// A host section only applies on that host. Sections named after a
	// mobile OS apply wherever that OS can be targeted.
	if t.Platform != s.Host && t.Platform != manifest.PlatformAndroid && t.Platform != manifest.PlatformIOS {
		return nil, unsupported
	}
	tc, ok := s.Registry.Lookup(Key{Host: s.Host, Target: t.Variant, Arch: t.Arch})
	if !ok {
		return nil, unsupported
	}

	sourceDir, err := filepath.Abs(s.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source directory: %w", err)
	}
	buildDir := t.BuildDir
	if !filepath.IsAbs(buildDir) {
		buildDir = filepath.Join(sourceDir, buildDir)
	}
	workDir := filepath.Join(buildDir, t.DirName())
	plan := &BuildPlan{
		Target:     t,
		Toolchain:  tc,
		SourceDir:  sourceDir,
		WorkDir:    workDir,
		InstallDir: filepath.Join(workDir, InstallDir),
	}

	name := t.DirName()
	plan.Generate = s.invocation(name+" generate", workDir, tc,
		s.generateArgs(t, tc, sourceDir, workDir, plan.InstallDir))
	plan.Compile = s.invocation(name+" compile", workDir, tc, s.compileArgs(workDir, t.BuildFlags))
	plan.Install = s.invocation(name+" install", workDir, tc, s.installArgs(workDir, plan.InstallDir))

	for _, dir := range t.Subdirectories {
		subSource := filepath.Join(sourceDir, filepath.FromSlash(dir))
		subWork := filepath.Join(workDir, SubprojectDir, filepath.FromSlash(dir))
		label := fmt.Sprintf("%s %s", name, dir)
		plan.Subprojects = append(plan.Subprojects, Subproject{
			Name:     dir,
			WorkDir:  subWork,
			Generate: s.invocation(label+" generate", subWork, tc, s.generateArgs(t, tc, subSource, subWork, "")),
			Compile:  s.invocation(label+" compile", subWork, tc, s.compileArgs(subWork, nil)),
		})
	}
	return plan, nil
}

func (s *Selector) config() string {
	if s.Config == "" {
		return DefaultConfig
	}
	return s.Config
}

func (s *Selector) invocation(name, dir string, tc Toolchain, args []string) process.Invocation {
	path := s.CMake
	if path == "" {
		path = "cmake"
	}
	return process.Invocation{Name: name, Path: path, Args: args, Dir: dir, Env: tc.envList()}
}

func (s *Selector) generateArgs(t resolve.Target, tc Toolchain, source, work, prefix string) []string {
	args := []string{"-S", source, "-B", work, "-G", tc.Generator}
	if tc.Platform != "" {
		args = append(args, "-A", tc.Platform)
	}
	args = append(args, "-DCMAKE_BUILD_TYPE="+s.config())
	if prefix != "" {
		args = append(args, "-DCMAKE_INSTALL_PREFIX="+prefix)
	}
	for _, v := range tc.CacheEntries {
		args = append(args, RenderVariable(v))
	}
	for _, v := range t.Variables {
		args = append(args, RenderVariable(v))
	}
	for _, o := range t.Options {
		args = append(args, RenderOption(o))
	}
	if flags := CompilerFlags(tc.CFlags, t.Defines); flags != "" {
		args = append(args, "-DCMAKE_C_FLAGS="+flags, "-DCMAKE_CXX_FLAGS="+flags)
	}
	return args
}

func (s *Selector) compileArgs(work string, buildFlags []string) []string {
	args := []string{"--build", work}
	if s.Jobs > 0 {
		args = append(args, "--parallel", strconv.Itoa(s.Jobs))
	}
	args = append(args, "--config", s.config())
	if len(buildFlags) > 0 {
		args = append(args, "--")
		args = append(args, buildFlags...)
	}
	return args
}

func (s *Selector) installArgs(work, prefix string) []string {
	return []string{"--install", work, "--config", s.config(), "--prefix", prefix}
}

// RenderVariable renders an untyped cache entry.
func RenderVariable(v manifest.Variable) string {
	return fmt.Sprintf("-D%s=%s", v.Name, v.Value)
}

// RenderOption renders a typed cache entry: booleans become BOOL ON/OFF,
// everything else a STRING.
func RenderOption(o manifest.Option) string {
	if o.Value.IsBool() {
		state := "OFF"
		if o.Value.Bool() {
			state = "ON"
		}
		return fmt.Sprintf("-D%s:BOOL=%s", o.Name, state)
	}
	return fmt.Sprintf("-D%s:STRING=%s", o.Name, o.Value.String())
}

// CompilerFlags joins toolchain flags and preprocessor defines into one
// flags string.
func CompilerFlags(cflags, defines []string) string {
	parts := make([]string, 0, len(cflags)+len(defines))
	parts = append(parts, cflags...)
	for _, d := range defines {
		parts = append(parts, "-D"+d)
	}
	return strings.Join(parts, " ")
}
