package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/xbuildgo/internal/collector"
	"github.com/vk/xbuildgo/internal/executor"
	"github.com/vk/xbuildgo/internal/manifest"
	"github.com/vk/xbuildgo/internal/publish"
	"github.com/vk/xbuildgo/internal/report"
	"github.com/vk/xbuildgo/internal/testutil"
)

// setupApp writes the manifest into a fresh directory and returns an app
// that builds it as a linux host with fake toolchains.
func setupApp(t *testing.T, manifestSrc string, cfg Config, opts ...Option) (*App, *testutil.SafeBuffer, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "pcre2.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestSrc), 0o644))

	cfg.ManifestPath = path
	cfg.LogLevel = "debug"
	config, err := NewConfig(cfg)
	require.NoError(t, err)

	out := &testutil.SafeBuffer{}
	opts = append([]Option{
		WithHost(manifest.PlatformLinux),
		WithRegistry(testutil.FakeRegistry()),
	}, opts...)
	a := NewApp(out, config, opts...)

	t.Cleanup(func() {
		if os.Getenv("XBUILD_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), out.String())
		}
	})
	return a, out, dir
}

func TestBuild_EndToEnd(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	runner := &testutil.FakeRunner{Handler: testutil.InstallLibraries("libpcre2-8.a", "libpcre2-16.a")}
	a, out, dir := setupApp(t, testutil.PCRE2Manifest, Config{Jobs: 2}, WithRunner(runner))

	// --- Act ---
	rep, err := a.Build(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, 0, rep.ExitCode(), out.String())
	require.Len(t, rep.Entries, 1)
	assert.Equal(t, "linux-x64", rep.Entries[0].Target)
	assert.Len(t, rep.Entries[0].Artifacts, 2)

	assert.FileExists(t, filepath.Join(dir, "libs", "linux-x64", "libpcre2-8.a"))
	assert.FileExists(t, filepath.Join(dir, "libs", "linux-x64", "libpcre2-16.a"))
	assert.Contains(t, runner.Names(), "linux-x64 pcre2 compile")
	assert.Contains(t, out.String(), "pcre2: 1 of 1 targets succeeded")

	gen := runner.Calls()
	var generate []string
	for _, c := range gen {
		if c.Name == "linux-x64 generate" {
			generate = c.Args
		}
	}
	assert.Contains(t, generate, "-DPCRE2_BUILD_PCRE2_16:BOOL=ON")
	assert.Contains(t, generate, "-DCMAKE_BUILD_TYPE=Release")
}

func TestBuild_MissingArtifact(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	runner := &testutil.FakeRunner{Handler: testutil.InstallLibraries("libpcre2-8.a")}
	a, out, dir := setupApp(t, testutil.PCRE2Manifest, Config{}, WithRunner(runner))

	// --- Act ---
	rep, err := a.Build(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ExitCode())
	assert.Equal(t, report.KindMissingArtifact, rep.Entries[0].Kind())
	assert.FileExists(t, filepath.Join(dir, "libs", "linux-x64", "libpcre2-8.a"))
	assert.Contains(t, out.String(), "pcre2-16")
}

func TestBuild_ToolchainFailure(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	runner := &testutil.FakeRunner{Handler: testutil.Fail("linux-x64 compile", 2, "ld: cannot find -lpcre2", nil)}
	a, out, dir := setupApp(t, testutil.PCRE2Manifest, Config{}, WithRunner(runner))

	// --- Act ---
	rep, err := a.Build(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ExitCode())
	assert.Equal(t, report.KindToolchainExecution, rep.Entries[0].Kind())
	assert.Contains(t, out.String(), "| ld: cannot find -lpcre2")
	assert.NoDirExists(t, filepath.Join(dir, "libs"))
}

func TestBuild_UnsupportedPlatform(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	runner := &testutil.FakeRunner{Handler: testutil.InstallLibraries("libpcre2-8.a", "libpcre2-16.a")}
	a, _, _ := setupApp(t, testutil.PCRE2Manifest, Config{Platforms: []string{"linux", "windows"}}, WithRunner(runner))

	// --- Act ---
	rep, err := a.Build(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, rep.Entries, 2)
	assert.Equal(t, "windows-x64", rep.Entries[0].Target)
	assert.Equal(t, report.KindUnsupportedTarget, rep.Entries[0].Kind())
	assert.True(t, rep.Entries[1].OK())
	assert.Equal(t, 1, rep.ExitCode())
}

func TestBuild_DryRun(t *testing.T) {
	t.Parallel()

	runner := &testutil.FakeRunner{}
	a, out, _ := setupApp(t, testutil.PCRE2Manifest, Config{DryRun: true}, WithRunner(runner))

	rep, err := a.Build(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, rep.ExitCode())
	assert.Empty(t, runner.Calls())
	assert.Contains(t, out.String(), "linux-x64 (fake, Ninja)")
	assert.Contains(t, out.String(), "$ cmake -S")
	assert.Contains(t, out.String(), "--install")
	assert.Contains(t, out.String(), "build:linux-x64 (after generate:linux-x64, sub:linux-x64:pcre2)")
}

func TestBuild_CancelledLeavesOutputUntouched(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	src := `
project: pcre2
common:
  archs: [x64, arm64]
  libraries:
    pcre2-8-static: {name: pcre2-8}
  buildOutDir: libs
platforms:
  linux: {}
`
	entered := make(chan string, 1)
	x64Done := make(chan struct{})
	var once sync.Once
	observer := executor.ObserverFunc(func(ev executor.Event) {
		if ev.Target == "linux-x64" && ev.To == executor.Done {
			once.Do(func() { close(x64Done) })
		}
	})
	runner := &testutil.FakeRunner{
		Handler: testutil.Block("linux-arm64 compile", entered, testutil.InstallLibraries("libpcre2-8.a")),
	}
	a, _, dir := setupApp(t, src, Config{Jobs: 2}, WithRunner(runner), WithObserver(observer))

	previous := "archive from an earlier build"
	testutil.WriteFiles(t, dir, map[string]string{"libs/linux-x64/libpcre2-8.a": previous})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-entered
		<-x64Done
		cancel()
	}()

	// --- Act ---
	rep, err := a.Build(ctx)

	// --- Assert ---
	require.NoError(t, err)
	require.Len(t, rep.Entries, 2)
	assert.Equal(t, "linux-x64", rep.Entries[0].Target)
	assert.Equal(t, executor.Done.String(), rep.Entries[0].State)
	assert.Empty(t, rep.Entries[0].Artifacts, "collection must be skipped after cancellation")
	assert.Equal(t, report.KindCancelled, rep.Entries[1].Kind())
	assert.Equal(t, 1, rep.ExitCode())

	assert.FileExists(t, filepath.Join(dir, "build", "linux-x64", "install", "lib", "libpcre2-8.a"))
	got, err := os.ReadFile(filepath.Join(dir, "libs", "linux-x64", "libpcre2-8.a"))
	require.NoError(t, err)
	assert.Equal(t, previous, string(got))
	assert.NoFileExists(t, filepath.Join(dir, "libs", "linux-arm64", "libpcre2-8.a"))
}

func TestBuild_CopyMap(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	src := `
project: pcre2
common:
  archs: [x64]
  copy:
    pcre2/src/pcre2.h: include/pcre2.h
  libraries:
    pcre2-8-static: {name: pcre2-8}
  buildOutDir: libs
platforms:
  linux: {}
`
	runner := &testutil.FakeRunner{Handler: testutil.InstallLibraries("libpcre2-8.a")}
	a, _, dir := setupApp(t, src, Config{}, WithRunner(runner))
	testutil.WriteFiles(t, dir, map[string]string{"pcre2/src/pcre2.h": "#define PCRE2_MAJOR 10"})

	// --- Act ---
	rep, err := a.Build(context.Background())

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, 0, rep.ExitCode())
	data, err := os.ReadFile(filepath.Join(dir, "libs", "include", "pcre2.h"))
	require.NoError(t, err)
	assert.Equal(t, "#define PCRE2_MAJOR 10", string(data))
}

type recordingPublisher struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, target string, a collector.Artifact) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, target+"/"+a.Name)
	if p.err != nil {
		return &publish.PublishError{Target: target, Key: a.Name, Err: p.err}
	}
	return nil
}

func TestBuild_Publish(t *testing.T) {
	t.Parallel()

	t.Run("uploads every artifact", func(t *testing.T) {
		t.Parallel()
		pub := &recordingPublisher{}
		runner := &testutil.FakeRunner{Handler: testutil.InstallLibraries("libpcre2-8.a", "libpcre2-16.a")}
		a, _, _ := setupApp(t, testutil.PCRE2Manifest, Config{Publish: true}, WithRunner(runner), WithPublisher(pub))

		rep, err := a.Build(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 0, rep.ExitCode())
		assert.ElementsMatch(t, []string{"linux-x64/pcre2-8", "linux-x64/pcre2-16"}, pub.names)
	})

	t.Run("upload failures fail the target", func(t *testing.T) {
		t.Parallel()
		pub := &recordingPublisher{err: errors.New("access denied")}
		runner := &testutil.FakeRunner{Handler: testutil.InstallLibraries("libpcre2-8.a", "libpcre2-16.a")}
		a, _, _ := setupApp(t, testutil.PCRE2Manifest, Config{Publish: true}, WithRunner(runner), WithPublisher(pub))

		rep, err := a.Build(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, rep.ExitCode())
		assert.Equal(t, report.KindPublish, rep.Entries[0].Kind())
	})

	t.Run("missing credentials are reported", func(t *testing.T) {
		t.Parallel()
		runner := &testutil.FakeRunner{Handler: testutil.InstallLibraries("libpcre2-8.a", "libpcre2-16.a")}
		a, out, _ := setupApp(t, testutil.PCRE2Manifest, Config{Publish: true}, WithRunner(runner))

		rep, err := a.Build(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, rep.ExitCode())
		assert.Contains(t, out.String(), "publishing disabled: s3 endpoint is required")
	})
}

func TestBuild_InvalidManifest(t *testing.T) {
	t.Parallel()

	a, _, _ := setupApp(t, "project: pcre2\n", Config{}, WithRunner(&testutil.FakeRunner{}))

	_, err := a.Build(context.Background())

	var verr *manifest.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	t.Run("valid manifest lists targets of every platform", func(t *testing.T) {
		t.Parallel()
		a, out, _ := setupApp(t, testutil.PCRE2Manifest, Config{})

		rep, err := a.Validate(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 0, rep.ExitCode())
		assert.Contains(t, out.String(), "pcre2: manifest is valid, 3 targets: linux-x64, macos-x64, windows-x64")
	})

	t.Run("conflicting options are reported", func(t *testing.T) {
		t.Parallel()
		src := `
project: pcre2
common:
  archs: [x64]
  options:
    - [PCRE2_BUILD_PCRE2_16, true]
    - [PCRE2_BUILD_PCRE2_16, false]
platforms:
  linux: {}
`
		a, out, _ := setupApp(t, src, Config{})

		rep, err := a.Validate(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, rep.ExitCode())
		assert.Equal(t, report.KindConflict, rep.Entries[0].Kind())
		assert.Contains(t, out.String(), "PCRE2_BUILD_PCRE2_16")
	})
}

func TestConvert(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "pcre2.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testutil.PCRE2Manifest), 0o644))

	var buf bytes.Buffer
	require.NoError(t, Convert(path, manifest.FormatTOML, &buf))

	converted, err := manifest.Parse(buf.Bytes(), manifest.FormatTOML)
	require.NoError(t, err)
	original, err := manifest.Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(original, converted); diff != "" {
		t.Errorf("converted manifest mismatch (-want +got):\n%s", diff)
	}
}

func TestNewConfig(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "defaults", cfg: Config{ManifestPath: "build.yaml"}},
		{name: "no manifest", cfg: Config{}, wantErr: "manifest path is required"},
		{name: "bad platform", cfg: Config{ManifestPath: "m.yaml", Platforms: []string{"beos"}}, wantErr: `invalid platform "beos"`},
		{name: "bad arch", cfg: Config{ManifestPath: "m.yaml", Archs: []string{"mips"}}, wantErr: `invalid architecture "mips"`},
		{name: "bad jobs", cfg: Config{ManifestPath: "m.yaml", Jobs: -1}, wantErr: "invalid jobs"},
		{name: "bad format", cfg: Config{ManifestPath: "m.yaml", LogFormat: "xml"}, wantErr: "invalid log-format"},
		{name: "bad level", cfg: Config{ManifestPath: "m.yaml", LogLevel: "trace"}, wantErr: "invalid log-level"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := NewConfig(tc.cfg)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "text", cfg.LogFormat)
			assert.Equal(t, "info", cfg.LogLevel)
		})
	}
}

func TestS3ConfigFromEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"XBUILD_S3_ENDPOINT":   "minio:9000",
		"XBUILD_S3_BUCKET":     "libs",
		"XBUILD_S3_ACCESS_KEY": "ak",
		"XBUILD_S3_SECRET_KEY": "sk",
		"XBUILD_S3_USE_SSL":    "false",
	}
	cfg := S3ConfigFromEnv(func(k string) string { return env[k] })

	assert.Equal(t, publish.S3Config{
		Endpoint: "minio:9000", Bucket: "libs", AccessKey: "ak", SecretKey: "sk", UseSSL: false,
	}, cfg)
}

func TestNewApp_ToolProbing(t *testing.T) {
	t.Parallel()

	cfg, err := NewConfig(Config{ManifestPath: "pcre2.yaml", LogLevel: "debug"})
	require.NoError(t, err)

	t.Run("real processes are probed", func(t *testing.T) {
		t.Parallel()
		a := NewApp(&testutil.SafeBuffer{}, cfg, WithHost(manifest.PlatformLinux))
		assert.NotNil(t, a.prober)
	})

	t.Run("injected runner is not probed", func(t *testing.T) {
		t.Parallel()
		a := NewApp(&testutil.SafeBuffer{}, cfg, WithRunner(&testutil.FakeRunner{}))
		assert.Nil(t, a.prober)
	})
}
