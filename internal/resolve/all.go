package resolve

import (
	"github.com/vk/xbuildgo/internal/manifest"
)

// Filter narrows ResolveAll to a subset of platforms and architectures. Empty
// fields select everything.
type Filter struct {
	Platforms []manifest.Platform
	Archs     []manifest.Arch
}

func (f Filter) platform(p manifest.Platform) bool {
	return len(f.Platforms) == 0 || contains(f.Platforms, p)
}

func (f Filter) arch(a manifest.Arch) bool {
	return len(f.Archs) == 0 || contains(f.Archs, a)
}

// Failure is a (platform, variant) that could not be resolved. Archs lists
// the targets it would have produced so each can be reported.
type Failure struct {
	Platform manifest.Platform
	Variant  manifest.Variant
	Archs    []manifest.Arch
	Err      error
}

// Target returns a placeholder target for arch, used for reporting.
func (f Failure) Target(arch manifest.Arch) Target {
	return Target{Platform: f.Platform, Variant: f.Variant, Arch: arch}
}

// ResolveAll resolves every selected (platform, variant) of m in a stable
// order. A failing pair does not prevent the others from resolving.
func ResolveAll(m *manifest.Manifest, f Filter) ([]Target, []Failure) {
	var (
		targets  []Target
		failures []Failure
	)
	for _, p := range m.PlatformNames() {
		if !f.platform(p) {
			continue
		}
		for _, v := range activeVariants(m, p) {
			resolved, err := Resolve(m, p, v)
			if err != nil {
				failures = append(failures, Failure{
					Platform: p,
					Variant:  v,
					Archs:    filterArchs(f, declaredArchs(m, p, v)),
					Err:      err,
				})
				continue
			}
			for _, t := range resolved {
				if f.arch(t.Arch) {
					targets = append(targets, t)
				}
			}
		}
	}
	return targets, failures
}

func activeVariants(m *manifest.Manifest, p manifest.Platform) []manifest.Variant {
	overlay, _ := m.Overlay(p)
	if len(overlay) == 0 {
		return []manifest.Variant{p.DefaultVariant()}
	}
	return overlay.Variants()
}

func declaredArchs(m *manifest.Manifest, p manifest.Platform, v manifest.Variant) []manifest.Arch {
	overlay, _ := m.Overlay(p)
	if cfg, ok := overlay[v]; ok && len(cfg.Archs) > 0 {
		return cfg.Archs
	}
	return m.Common.Archs
}

func filterArchs(f Filter, archs []manifest.Arch) []manifest.Arch {
	var out []manifest.Arch
	for _, a := range archs {
		if f.arch(a) {
			out = append(out, a)
		}
	}
	return out
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
