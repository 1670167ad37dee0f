package toolchain

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/xbuildgo/internal/manifest"
	"github.com/vk/xbuildgo/internal/resolve"
)

func linuxTarget() resolve.Target {
	return resolve.Target{
		Platform:  manifest.PlatformLinux,
		Variant:   manifest.VariantLinux,
		Arch:      manifest.ArchX64,
		Variables: []manifest.Variable{{Name: "PCRE2_SUPPORT_JIT", Value: "OFF"}},
		Options: []manifest.Option{
			{Name: "PCRE2_BUILD_PCRE2_16", Value: manifest.BoolValue(true)},
			{Name: "PCRE2_BUILD_PCRE2_32", Value: manifest.BoolValue(false)},
			{Name: "PCRE2_NEWLINE", Value: manifest.StringValue("LF")},
		},
		Defines:        []string{"PCRE2_STATIC"},
		BuildFlags:     []string{"-j1", "VERBOSE=1"},
		Subdirectories: []string{"pcre2"},
		BuildDir:       "build",
	}
}

func fakeRegistry() *Registry {
	r := NewRegistry()
	r.Register(Key{manifest.PlatformLinux, manifest.VariantLinux, manifest.ArchX64}, Toolchain{
		ID:        "fake",
		Generator: "Ninja",
		CFlags:    []string{"-fPIC"},
		Env:       map[string]string{"CC": "fakecc"},
		LibPrefix: "lib",
		LibSuffix: ".a",
	})
	return r
}

func TestSelector_Select(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	src := t.TempDir()
	s := &Selector{Registry: fakeRegistry(), Host: manifest.PlatformLinux, SourceDir: src, Jobs: 4}

	// --- Act ---
	plan, err := s.Select(linuxTarget())

	// --- Assert ---
	require.NoError(t, err)
	work := filepath.Join(src, "build", "linux-x64")
	install := filepath.Join(work, "install")
	assert.Equal(t, work, plan.WorkDir)
	assert.Equal(t, install, plan.InstallDir)

	assert.Equal(t, "cmake", plan.Generate.Path)
	assert.Equal(t, work, plan.Generate.Dir)
	assert.Equal(t, []string{"CC=fakecc"}, plan.Generate.Env)
	assert.Equal(t, []string{
		"-S", src, "-B", work, "-G", "Ninja",
		"-DCMAKE_BUILD_TYPE=Release",
		"-DCMAKE_INSTALL_PREFIX=" + install,
		"-DPCRE2_SUPPORT_JIT=OFF",
		"-DPCRE2_BUILD_PCRE2_16:BOOL=ON",
		"-DPCRE2_BUILD_PCRE2_32:BOOL=OFF",
		"-DPCRE2_NEWLINE:STRING=LF",
		"-DCMAKE_C_FLAGS=-fPIC -DPCRE2_STATIC",
		"-DCMAKE_CXX_FLAGS=-fPIC -DPCRE2_STATIC",
	}, plan.Generate.Args)

	assert.Equal(t, []string{
		"--build", work, "--parallel", "4", "--config", "Release", "--", "-j1", "VERBOSE=1",
	}, plan.Compile.Args)
	assert.Equal(t, []string{"--install", work, "--config", "Release", "--prefix", install}, plan.Install.Args)

	require.Len(t, plan.Subprojects, 1)
	sub := plan.Subprojects[0]
	subWork := filepath.Join(work, "_sub", "pcre2")
	assert.Equal(t, "pcre2", sub.Name)
	assert.Equal(t, subWork, sub.WorkDir)
	assert.Equal(t, []string{"-S", filepath.Join(src, "pcre2"), "-B", subWork}, sub.Generate.Args[:4])
	assert.NotContains(t, sub.Generate.Args, "-DCMAKE_INSTALL_PREFIX="+install)
	assert.Equal(t, []string{"--build", subWork, "--parallel", "4", "--config", "Release"}, sub.Compile.Args)

	assert.Len(t, plan.Invocations(), 5)
	assert.Equal(t, "libpcre2-8.a", plan.Toolchain.LibraryFile("pcre2-8"))
}

func TestSelector_Unsupported(t *testing.T) {
	t.Parallel()

	s := &Selector{Registry: fakeRegistry(), Host: manifest.PlatformLinux, SourceDir: t.TempDir()}

	cases := map[string]resolve.Target{
		"unknown arch":       {Platform: manifest.PlatformLinux, Variant: manifest.VariantLinux, Arch: manifest.ArchARM64},
		"other host section": {Platform: manifest.PlatformWindows, Variant: manifest.VariantWindows, Arch: manifest.ArchX64},
		"unregistered os":    {Platform: manifest.PlatformLinux, Variant: manifest.VariantAndroid, Arch: manifest.ArchX64},
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := s.Select(target)

			var unsupported *UnsupportedTargetError
			require.ErrorAs(t, err, &unsupported)
			assert.Equal(t, manifest.PlatformLinux, unsupported.Host)
			assert.Equal(t, target.Arch, unsupported.Arch)
		})
	}
}

func TestSelector_DisjointWorkDirs(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry(func(key string) string {
		if key == "ANDROID_NDK_HOME" {
			return "/opt/ndk"
		}
		return ""
	})
	s := &Selector{Registry: r, Host: manifest.PlatformLinux, SourceDir: t.TempDir()}

	seen := make(map[string]string)
	for _, v := range []manifest.Variant{manifest.VariantLinux, manifest.VariantAndroid} {
		for _, a := range []manifest.Arch{manifest.ArchX64, manifest.ArchX86, manifest.ArchARM64} {
			target := resolve.Target{Platform: manifest.PlatformLinux, Variant: v, Arch: a, BuildDir: "build"}
			plan, err := s.Select(target)
			require.NoError(t, err, target.DirName())
			if other, dup := seen[plan.WorkDir]; dup {
				t.Fatalf("%s and %s share %s", other, target.DirName(), plan.WorkDir)
			}
			seen[plan.WorkDir] = target.DirName()
		}
	}
	assert.Len(t, seen, 6)
}

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	t.Run("without ndk", func(t *testing.T) {
		t.Parallel()
		r := DefaultRegistry(func(string) string { return "" })

		tc, ok := r.Lookup(Key{manifest.PlatformWindows, manifest.VariantWindows, manifest.ArchX64})
		require.True(t, ok)
		assert.Equal(t, "msvc", tc.ID)
		assert.Equal(t, "x64", tc.Platform)
		assert.Equal(t, "pcre2-8.lib", tc.LibraryFile("pcre2-8"))

		tc, ok = r.Lookup(Key{manifest.PlatformMacOS, manifest.VariantIOS, manifest.ArchARM64})
		require.True(t, ok)
		assert.Equal(t, "Xcode", tc.Generator)

		for _, k := range r.Keys() {
			assert.NotEqual(t, manifest.VariantAndroid, k.Target, k.String())
		}
	})

	t.Run("with ndk", func(t *testing.T) {
		t.Parallel()
		env := map[string]string{"ANDROID_NDK_ROOT": "/opt/ndk", "ANDROID_PLATFORM": "android-24"}
		r := DefaultRegistry(func(k string) string { return env[k] })

		tc, ok := r.Lookup(Key{manifest.PlatformWindows, manifest.VariantAndroid, manifest.ArchARMv7a})
		require.True(t, ok)
		assert.Equal(t, "Ninja", tc.Generator)
		assert.Contains(t, tc.CacheEntries, manifest.Variable{Name: "ANDROID_ABI", Value: "armeabi-v7a"})
		assert.Contains(t, tc.CacheEntries, manifest.Variable{Name: "ANDROID_PLATFORM", Value: "android-24"})
		assert.Contains(t, tc.CacheEntries, manifest.Variable{
			Name:  "CMAKE_TOOLCHAIN_FILE",
			Value: filepath.Join("/opt/ndk", "build", "cmake", "android.toolchain.cmake"),
		})
	})
}

func TestProber(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	p, err := NewProber(0)
	require.NoError(t, err)
	calls := make(map[string]int)
	p.LookPath = func(name string) (string, error) {
		calls[name]++
		if name == "cmake" || name == "gmake" {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	}

	// --- Act ---
	err = p.Check([]ToolRequirement{
		{Name: "cmake"},
		{Name: "make", Alternatives: []string{"gmake"}},
		{Name: "ninja", Optional: true},
		{Name: "gcc", Purpose: "C compiler"},
	})
	again := p.Check([]ToolRequirement{{Name: "cmake"}, {Name: "gcc"}})

	// --- Assert ---
	var missing *MissingToolError
	require.ErrorAs(t, err, &missing)
	require.Len(t, missing.Missing, 1)
	assert.Equal(t, "gcc", missing.Missing[0].Name)
	assert.EqualError(t, err, "required tools not found in PATH: gcc (C compiler)")
	assert.Error(t, again)

	assert.Equal(t, 1, calls["cmake"], "lookups are cached")
	assert.Equal(t, 1, calls["gcc"], "failed lookups are cached too")
	assert.Zero(t, calls["ninja"], "optional tools are not probed")
}

func TestRender(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "-DA:BOOL=ON", RenderOption(manifest.Option{Name: "A", Value: manifest.BoolValue(true)}))
	assert.Equal(t, "-DB:STRING=true", RenderOption(manifest.Option{Name: "B", Value: manifest.StringValue("true")}))
	assert.Equal(t, "-DC=1", RenderVariable(manifest.Variable{Name: "C", Value: "1"}))
	assert.Equal(t, "", CompilerFlags(nil, nil))
}
