package manifest

import (
	"fmt"
	"sort"
	"strconv"
)

// Manifest is the typed, validated representation of a build manifest. It is
// treated as immutable once returned by Load or Parse.
type Manifest struct {
	Project   string
	Common    CommonConfig
	Platforms map[Platform]PlatformOverlay
}

// CommonConfig holds the settings shared by every platform and variant.
type CommonConfig struct {
	Archs          []Arch
	Variables      []Variable
	Copy           map[string]string
	Defines        []string
	Options        []Option
	Subdirectories []string
	Libraries      map[string]LibraryMeta
	BuildDir       string
	BuildOutDir    string
	BuildFlags     []string
}

// PlatformOverlay maps the OS variants buildable from a platform to their
// overrides. An empty overlay activates the platform's own variant.
type PlatformOverlay map[Variant]VariantConfig

// VariantConfig overrides common settings for one variant. A nil field means
// the common value is inherited.
type VariantConfig struct {
	Archs   []Arch
	Options []Option
	Defines []string
}

// IsZero reports whether the variant overrides nothing.
func (v VariantConfig) IsZero() bool {
	return len(v.Archs) == 0 && len(v.Options) == 0 && len(v.Defines) == 0
}

// LibraryMeta describes one library target the build is expected to produce.
type LibraryMeta struct {
	// Name is the external artifact name the library is published under.
	Name string
}

// Variable is an untyped generator cache variable.
type Variable struct {
	Name  string
	Value string
}

// Option is a typed generator cache entry whose value is a bool or a string.
type Option struct {
	Name  string
	Value OptionValue
}

// OptionValue is either a boolean or a string.
type OptionValue struct {
	isBool bool
	b      bool
	s      string
}

// BoolValue returns a boolean option value.
func BoolValue(b bool) OptionValue { return OptionValue{isBool: true, b: b} }

// StringValue returns a string option value.
func StringValue(s string) OptionValue { return OptionValue{s: s} }

// IsBool reports whether the value is a boolean.
func (v OptionValue) IsBool() bool { return v.isBool }

// Bool returns the boolean value; false for string values.
func (v OptionValue) Bool() bool { return v.isBool && v.b }

// String renders the value the way it appears in a manifest.
func (v OptionValue) String() string {
	if v.isBool {
		return strconv.FormatBool(v.b)
	}
	return v.s
}

// Native returns the value as a bool or a string.
func (v OptionValue) Native() any {
	if v.isBool {
		return v.b
	}
	return v.s
}

// Equal reports whether both values have the same type and content.
func (v OptionValue) Equal(o OptionValue) bool {
	return v.isBool == o.isBool && v.b == o.b && v.s == o.s
}

func (o Option) String() string {
	return fmt.Sprintf("%s=%s", o.Name, o.Value)
}

// PlatformNames returns the declared platforms in a stable order.
func (m *Manifest) PlatformNames() []Platform {
	names := make([]Platform, 0, len(m.Platforms))
	for p := range m.Platforms {
		names = append(names, p)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Overlay returns the overlay declared for p.
func (m *Manifest) Overlay(p Platform) (PlatformOverlay, bool) {
	o, ok := m.Platforms[p]
	return o, ok
}

// Variants returns the variants of an overlay in a stable order.
func (o PlatformOverlay) Variants() []Variant {
	names := make([]Variant, 0, len(o))
	for v := range o {
		names = append(names, v)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// LibraryKeys returns the library target identifiers in a stable order.
func (c CommonConfig) LibraryKeys() []string {
	keys := make([]string, 0, len(c.Libraries))
	for k := range c.Libraries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LibraryNames returns the external artifact names, ordered by library key.
func (m *Manifest) LibraryNames() []string {
	keys := m.Common.LibraryKeys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = m.Common.Libraries[k].Name
	}
	return names
}
