package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/xbuildgo/internal/manifest"
	"github.com/vk/xbuildgo/internal/resolve"
	"github.com/vk/xbuildgo/internal/toolchain"
)

// PCRE2Manifest is the PCRE2 build manifest used across tests.
const PCRE2Manifest = `
project: pcre2
common:
  archs: [x64]
  options:
    - [PCRE2_BUILD_PCRE2_16, true]
    - [PCRE2_BUILD_PCRE2_32, true]
  subdirectories: [pcre2]
  libraries:
    pcre2-8-static: {name: pcre2-8}
    pcre2-16-static: {name: pcre2-16}
  buildDir: build
  buildOutDir: libs
platforms:
  windows:
    windows: {}
  linux:
    linux: {}
  macos:
    macos: {}
`

// ParseManifest parses a YAML manifest and fails the test on error.
func ParseManifest(t *testing.T, src string) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(src), manifest.FormatYAML)
	require.NoError(t, err)
	return m
}

// FakeToolchain is a unix-style toolchain that needs no tools.
func FakeToolchain() toolchain.Toolchain {
	return toolchain.Toolchain{ID: "fake", Generator: "Ninja", LibPrefix: "lib", LibSuffix: ".a"}
}

// FakeRegistry registers FakeToolchain for every desktop host building its
// own OS on x64 and arm64.
func FakeRegistry() *toolchain.Registry {
	r := toolchain.NewRegistry()
	hosts := map[manifest.Platform]manifest.Variant{
		manifest.PlatformWindows: manifest.VariantWindows,
		manifest.PlatformLinux:   manifest.VariantLinux,
		manifest.PlatformMacOS:   manifest.VariantMacOS,
	}
	for host, variant := range hosts {
		for _, arch := range []manifest.Arch{manifest.ArchX64, manifest.ArchARM64} {
			r.Register(toolchain.Key{Host: host, Target: variant, Arch: arch}, FakeToolchain())
		}
	}
	return r
}

// Plan builds the plan of a target as if running on its own platform.
func Plan(t *testing.T, sourceDir string, target resolve.Target) *toolchain.BuildPlan {
	t.Helper()
	s := &toolchain.Selector{Registry: FakeRegistry(), Host: target.Platform, SourceDir: sourceDir}
	plan, err := s.Select(target)
	require.NoError(t, err)
	return plan
}

// Target returns a bare target for a desktop platform building its own OS.
func Target(platform manifest.Platform, arch manifest.Arch, subdirs ...string) resolve.Target {
	return resolve.Target{
		Platform:       platform,
		Variant:        platform.DefaultVariant(),
		Arch:           arch,
		Subdirectories: subdirs,
		BuildDir:       manifest.DefaultBuildDir,
	}
}
