// Package resolve merges common manifest settings with platform and variant
// overlays, producing one Target per architecture.
package resolve

import (
	"fmt"

	"github.com/vk/xbuildgo/internal/manifest"
)

// Target is one fully merged (platform, variant, arch) build configuration.
// Targets are created per run and never shared between runs.
type Target struct {
	Platform manifest.Platform
	Variant  manifest.Variant
	Arch     manifest.Arch

	Variables      []manifest.Variable
	Options        []manifest.Option
	Defines        []string
	BuildFlags     []string
	Subdirectories []string
	BuildDir       string
	BuildOutDir    string
}

// DirName is the per-target directory name used under the build and output
// directories. It is distinct for every distinct target.
func (t Target) DirName() string {
	if string(t.Variant) == string(t.Platform) {
		return fmt.Sprintf("%s-%s", t.Platform, t.Arch)
	}
	return fmt.Sprintf("%s-%s-%s", t.Platform, t.Variant, t.Arch)
}

func (t Target) String() string {
	return t.DirName()
}

// Option returns the resolved option called name.
func (t Target) Option(name string) (manifest.OptionValue, bool) {
	for _, o := range t.Options {
		if o.Name == name {
			return o.Value, true
		}
	}
	return manifest.OptionValue{}, false
}

// ConflictError reports an option name declared twice within one list.
type ConflictError struct {
	Platform manifest.Platform
	Variant  manifest.Variant
	// Scope is "common" or the variant the duplicate list belongs to.
	Scope string
	Name  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting option %q declared more than once in %s (target %s/%s)",
		e.Name, e.Scope, e.Platform, e.Variant)
}

// Resolve returns one Target per effective architecture of the given
// platform and variant, in declared order.
//
// A platform overlay without variant keys activates the platform's own
// variant with the common settings unmodified.
func Resolve(m *manifest.Manifest, platform manifest.Platform, variant manifest.Variant) ([]Target, error) {
	overlay, ok := m.Overlay(platform)
	if !ok {
		return nil, fmt.Errorf("platform %q is not declared in the manifest", platform)
	}

	var cfg manifest.VariantConfig
	if len(overlay) == 0 {
		if variant != platform.DefaultVariant() {
			return nil, fmt.Errorf("variant %q is not declared for platform %q", variant, platform)
		}
	} else {
		cfg, ok = overlay[variant]
		if !ok {
			return nil, fmt.Errorf("variant %q is not declared for platform %q", variant, platform)
		}
	}

	common := m.Common
	if err := checkDuplicates(common.Options, platform, variant, "common"); err != nil {
		return nil, err
	}
	if err := checkDuplicates(cfg.Options, platform, variant, string(variant)); err != nil {
		return nil, err
	}

	// Variant archs are a complete ABI set and replace the common ones.
	archs := common.Archs
	if len(cfg.Archs) > 0 {
		archs = cfg.Archs
	}
	options := mergeOptions(common.Options, cfg.Options)
	defines := mergeDefines(common.Defines, cfg.Defines)

	targets := make([]Target, 0, len(archs))
	for _, arch := range archs {
		targets = append(targets, Target{
			Platform:       platform,
			Variant:        variant,
			Arch:           arch,
			Variables:      clone(common.Variables),
			Options:        clone(options),
			Defines:        clone(defines),
			BuildFlags:     clone(common.BuildFlags),
			Subdirectories: clone(common.Subdirectories),
			BuildDir:       common.BuildDir,
			BuildOutDir:    common.BuildOutDir,
		})
	}
	return targets, nil
}

func checkDuplicates(opts []manifest.Option, p manifest.Platform, v manifest.Variant, scope string) error {
	seen := make(map[string]bool, len(opts))
	for _, o := range opts {
		if seen[o.Name] {
			return &ConflictError{Platform: p, Variant: v, Scope: scope, Name: o.Name}
		}
		seen[o.Name] = true
	}
	return nil
}

// mergeOptions keeps the common order, replaces values the overlay redefines
// and appends new overlay names in overlay order.
func mergeOptions(common, overlay []manifest.Option) []manifest.Option {
	if len(overlay) == 0 {
		return common
	}
	override := make(map[string]manifest.OptionValue, len(overlay))
	for _, o := range overlay {
		override[o.Name] = o.Value
	}
	merged := make([]manifest.Option, 0, len(common)+len(overlay))
	present := make(map[string]bool, len(common))
	for _, o := range common {
		if v, ok := override[o.Name]; ok {
			o.Value = v
		}
		present[o.Name] = true
		merged = append(merged, o)
	}
	for _, o := range overlay {
		if !present[o.Name] {
			merged = append(merged, o)
		}
	}
	return merged
}

func mergeDefines(common, overlay []string) []string {
	if len(overlay) == 0 {
		return common
	}
	seen := make(map[string]bool, len(common)+len(overlay))
	merged := make([]string, 0, len(common)+len(overlay))
	for _, list := range [][]string{common, overlay} {
		for _, d := range list {
			if !seen[d] {
				seen[d] = true
				merged = append(merged, d)
			}
		}
	}
	return merged
}

func clone[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return append([]T(nil), s...)
}
