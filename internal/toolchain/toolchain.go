// Package toolchain maps resolved targets onto concrete native toolchains and
// renders the build system invocations for them.
//
// The mapping is an explicit Registry keyed by (host, target OS, arch). There
// is no fallback: a combination missing from the registry is unsupported.
package toolchain

import (
	"fmt"
	"sort"

	"github.com/vk/xbuildgo/internal/manifest"
)

// Key identifies a registry entry.
type Key struct {
	Host   manifest.Platform
	Target manifest.Variant
	Arch   manifest.Arch
}

func (k Key) String() string {
	return fmt.Sprintf("%s->%s/%s", k.Host, k.Target, k.Arch)
}

// Toolchain describes how to drive the build system for one key.
type Toolchain struct {
	// ID names the compiler family, e.g. "msvc" or "gcc".
	ID        string
	Generator string
	// Platform is passed as the generator platform (-A), if set.
	Platform string
	// CacheEntries are extra -D entries such as a toolchain file.
	CacheEntries []manifest.Variable
	// CFlags are prepended to CMAKE_C_FLAGS and CMAKE_CXX_FLAGS.
	CFlags []string
	Env    map[string]string
	// MultiConfig generators select the configuration at build time.
	MultiConfig bool
	LibPrefix   string
	LibSuffix   string
	Tools       []ToolRequirement
}

// LibraryFile returns the file name of the static library called name.
func (tc Toolchain) LibraryFile(name string) string {
	return tc.LibPrefix + name + tc.LibSuffix
}

func (tc Toolchain) envList() []string {
	if len(tc.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tc.Env))
	for k := range tc.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, len(keys))
	for i, k := range keys {
		env[i] = k + "=" + tc.Env[k]
	}
	return env
}

// UnsupportedTargetError is returned when no toolchain is registered for a
// target on the current host.
type UnsupportedTargetError struct {
	Host     manifest.Platform
	Platform manifest.Platform
	Variant  manifest.Variant
	Arch     manifest.Arch
}

func (e *UnsupportedTargetError) Error() string {
	return fmt.Sprintf("no toolchain for %s/%s on a %s host", e.Variant, e.Arch, e.Host)
}

// Registry is a lookup table of toolchains.
type Registry struct {
	entries map[Key]Toolchain
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Key]Toolchain)}
}

// Register adds or replaces the toolchain for k.
func (r *Registry) Register(k Key, tc Toolchain) {
	r.entries[k] = tc
}

// Lookup returns the toolchain registered for k.
func (r *Registry) Lookup(k Key) (Toolchain, bool) {
	tc, ok := r.entries[k]
	return tc, ok
}

// Keys returns every registered key in a stable order.
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.entries)
}
