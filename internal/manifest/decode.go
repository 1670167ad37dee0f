package manifest

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultBuildDir is used when a manifest does not set common.buildDir.
const DefaultBuildDir = "build"

var (
	topLevelKeys = keySet("project", "common", "platforms")
	commonKeys   = keySet("project", "archs", "variables", "copy", "defines", "options",
		"subdirectories", "libraries", "buildDir", "buildOutDir", "buildFlags")
	variantKeys = keySet("archs", "options", "defines")
	libraryKeys = keySet("name")
)

func keySet(keys ...string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// decoder turns a generic tree (maps, slices and scalars as produced by the
// YAML, TOML and HCL front ends) into a Manifest, collecting every issue.
type decoder struct {
	issues []error
}

func (d *decoder) fail(path, format string, args ...any) {
	d.issues = append(d.issues, &FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (d *decoder) unknown(path, key string) {
	d.issues = append(d.issues, &UnknownKeyError{Path: path, Key: key})
}

func join(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func index(parent string, i int) string {
	return parent + "[" + strconv.Itoa(i) + "]"
}

// object normalizes a mapping node. A nil node is an empty mapping.
func (d *decoder) object(p string, v any) (map[string]any, bool) {
	switch m := v.(type) {
	case nil:
		return map[string]any{}, true
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	d.fail(p, "expected a mapping, got %s", describe(v))
	return nil, false
}

func (d *decoder) list(p string, v any) ([]any, bool) {
	switch l := v.(type) {
	case nil:
		return nil, true
	case []any:
		return l, true
	case []map[string]any:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out, true
	}
	d.fail(p, "expected a list, got %s", describe(v))
	return nil, false
}

func (d *decoder) str(p string, v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		d.fail(p, "expected a string, got %s", describe(v))
	}
	return s, ok
}

func (d *decoder) strings(p string, v any) []string {
	items, ok := d.list(p, v)
	if !ok || len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		if s, ok := d.str(index(p, i), item); ok {
			out = append(out, s)
		}
	}
	return out
}

// checkKeys reports every key of m that is not in allowed, in sorted order.
func (d *decoder) checkKeys(p string, m map[string]any, allowed map[string]bool) {
	var unknown []string
	for k := range m {
		if !allowed[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		d.unknown(p, k)
	}
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case int, int64, uint64, float64:
		return "a number"
	case []any:
		return "a list"
	case map[string]any, map[any]any:
		return "a mapping"
	}
	return fmt.Sprintf("%T", v)
}

// scalarString formats a variable value. Whole numbers render without a
// fractional part so that 1 and 1.0 both become "1".
func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10), true
		}
		return strconv.FormatFloat(x, 'g', -1, 64), true
	}
	return "", false
}

func decodeTree(tree any) (*Manifest, []error) {
	d := &decoder{}
	root, ok := d.object("", tree)
	if !ok {
		return nil, d.issues
	}
	d.checkKeys("", root, topLevelKeys)

	m := &Manifest{}
	if v, ok := root["project"]; ok {
		if s, ok := d.str("project", v); ok {
			m.Project = strings.TrimSpace(s)
		}
	}

	if v, ok := root["common"]; ok {
		m.Common = d.common(m, v)
	} else {
		d.fail("common", "is required")
	}
	if m.Project == "" {
		d.fail("project", "is required")
	}

	if v, ok := root["platforms"]; ok {
		m.Platforms = d.platforms(v, m.Common)
	} else {
		d.fail("platforms", "is required")
	}
	return m, d.issues
}

func (d *decoder) common(m *Manifest, v any) CommonConfig {
	const p = "common"
	var c CommonConfig
	obj, ok := d.object(p, v)
	if !ok {
		return c
	}
	d.checkKeys(p, obj, commonKeys)

	if raw, ok := obj["project"]; ok {
		if s, ok := d.str(join(p, "project"), raw); ok {
			s = strings.TrimSpace(s)
			switch {
			case m.Project == "":
				m.Project = s
			case s != "" && s != m.Project:
				d.fail(join(p, "project"), "conflicts with top-level project %q", m.Project)
			}
		}
	}

	c.Archs = d.archs(join(p, "archs"), obj["archs"])
	c.Variables = d.variables(join(p, "variables"), obj["variables"])
	c.Copy = d.copyMap(join(p, "copy"), obj["copy"])
	c.Defines = d.strings(join(p, "defines"), obj["defines"])
	c.Options = d.options(join(p, "options"), obj["options"])
	c.Subdirectories = d.subdirectories(join(p, "subdirectories"), obj["subdirectories"])
	c.Libraries = d.libraries(join(p, "libraries"), obj["libraries"])
	c.BuildFlags = d.strings(join(p, "buildFlags"), obj["buildFlags"])

	c.BuildDir = DefaultBuildDir
	if raw, ok := obj["buildDir"]; ok {
		if s, ok := d.str(join(p, "buildDir"), raw); ok {
			if s == "" {
				d.fail(join(p, "buildDir"), "must not be empty")
			} else {
				c.BuildDir = s
			}
		}
	}
	if raw, ok := obj["buildOutDir"]; ok {
		if s, ok := d.str(join(p, "buildOutDir"), raw); ok {
			c.BuildOutDir = s
		}
	}
	if len(c.Libraries) > 0 && c.BuildOutDir == "" {
		d.fail(join(p, "buildOutDir"), "is required when libraries are declared")
	}
	return c
}

func (d *decoder) archs(p string, v any) []Arch {
	items, ok := d.list(p, v)
	if !ok || len(items) == 0 {
		return nil
	}
	seen := make(map[Arch]bool, len(items))
	out := make([]Arch, 0, len(items))
	for i, item := range items {
		s, ok := d.str(index(p, i), item)
		if !ok {
			continue
		}
		a, known := ParseArch(s)
		switch {
		case !known:
			d.fail(index(p, i), "unknown architecture %q", s)
		case seen[a]:
			d.fail(index(p, i), "duplicate architecture %q", s)
		default:
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// pair validates a two element [name, value] list.
func (d *decoder) pair(p string, v any) (string, any, bool) {
	items, ok := d.list(p, v)
	if !ok {
		return "", nil, false
	}
	if len(items) != 2 {
		d.fail(p, "expected a [name, value] pair, got %d elements", len(items))
		return "", nil, false
	}
	name, ok := d.str(index(p, 0), items[0])
	if !ok {
		return "", nil, false
	}
	if name == "" {
		d.fail(index(p, 0), "name must not be empty")
		return "", nil, false
	}
	return name, items[1], true
}

func (d *decoder) variables(p string, v any) []Variable {
	items, ok := d.list(p, v)
	if !ok || len(items) == 0 {
		return nil
	}
	out := make([]Variable, 0, len(items))
	for i, item := range items {
		name, raw, ok := d.pair(index(p, i), item)
		if !ok {
			continue
		}
		s, ok := scalarString(raw)
		if !ok {
			d.fail(index(p, i), "value of %s must be a string, boolean or number, got %s", name, describe(raw))
			continue
		}
		out = append(out, Variable{Name: name, Value: s})
	}
	return out
}

func (d *decoder) options(p string, v any) []Option {
	items, ok := d.list(p, v)
	if !ok || len(items) == 0 {
		return nil
	}
	out := make([]Option, 0, len(items))
	for i, item := range items {
		name, raw, ok := d.pair(index(p, i), item)
		if !ok {
			continue
		}
		switch x := raw.(type) {
		case bool:
			out = append(out, Option{Name: name, Value: BoolValue(x)})
		case string:
			out = append(out, Option{Name: name, Value: StringValue(x)})
		default:
			d.fail(index(p, i), "value of %s must be a boolean or a string, got %s", name, describe(raw))
		}
	}
	return out
}

func (d *decoder) copyMap(p string, v any) map[string]string {
	obj, ok := d.object(p, v)
	if !ok || len(obj) == 0 {
		return nil
	}
	out := make(map[string]string, len(obj))
	for _, src := range sortedStringKeys(obj) {
		if dst, ok := d.str(join(p, src), obj[src]); ok {
			out[src] = dst
		}
	}
	return out
}

// subdirectories must stay inside the source tree. Entries are stored in
// cleaned form so that spellings of one directory collapse to one entry.
func (d *decoder) subdirectories(p string, v any) []string {
	items, ok := d.list(p, v)
	if !ok || len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	var out []string
	for i, item := range items {
		ip := index(p, i)
		dir, ok := d.str(ip, item)
		if !ok {
			continue
		}
		clean := filepath.ToSlash(filepath.Clean(dir))
		switch {
		case dir == "" || clean == ".":
			d.fail(ip, "must name a directory")
		case filepath.IsAbs(dir) || strings.HasPrefix(clean, "/") || filepath.VolumeName(dir) != "":
			d.fail(ip, "must be relative to the source directory, got %q", dir)
		case clean == ".." || strings.HasPrefix(clean, "../"):
			d.fail(ip, "must stay inside the source directory, got %q", dir)
		case seen[clean]:
			d.fail(ip, "duplicate subdirectory %q", dir)
		default:
			seen[clean] = true
			out = append(out, clean)
		}
	}
	return out
}

func (d *decoder) libraries(p string, v any) map[string]LibraryMeta {
	obj, ok := d.object(p, v)
	if !ok || len(obj) == 0 {
		return nil
	}
	out := make(map[string]LibraryMeta, len(obj))
	owners := make(map[string]string, len(obj))
	for _, key := range sortedStringKeys(obj) {
		lp := join(p, key)
		meta, ok := d.object(lp, obj[key])
		if !ok {
			continue
		}
		d.checkKeys(lp, meta, libraryKeys)
		raw, ok := meta["name"]
		if !ok {
			d.fail(join(lp, "name"), "is required")
			continue
		}
		name, ok := d.str(join(lp, "name"), raw)
		if !ok {
			continue
		}
		if name == "" {
			d.fail(join(lp, "name"), "must not be empty")
			continue
		}
		if owner, dup := owners[name]; dup {
			d.fail(join(lp, "name"), "duplicate library name %q, already used by %s", name, owner)
			continue
		}
		owners[name] = key
		out[key] = LibraryMeta{Name: name}
	}
	return out
}

func (d *decoder) platforms(v any, common CommonConfig) map[Platform]PlatformOverlay {
	const p = "platforms"
	obj, ok := d.object(p, v)
	if !ok {
		return nil
	}
	if len(obj) == 0 {
		d.fail(p, "must declare at least one platform")
		return nil
	}
	out := make(map[Platform]PlatformOverlay, len(obj))
	for _, key := range sortedStringKeys(obj) {
		pp := join(p, key)
		platform, known := ParsePlatform(key)
		if !known {
			d.fail(pp, "unknown platform %q", key)
			continue
		}
		if _, dup := out[platform]; dup {
			d.fail(pp, "platform %q is declared more than once", platform)
			continue
		}
		overlay := d.overlay(pp, platform, obj[key], common)
		if overlay != nil {
			out[platform] = overlay
		}
	}
	return out
}

func (d *decoder) overlay(p string, platform Platform, v any, common CommonConfig) PlatformOverlay {
	obj, ok := d.object(p, v)
	if !ok {
		return nil
	}
	overlay := make(PlatformOverlay, len(obj))
	if len(obj) == 0 && len(common.Archs) == 0 {
		d.fail(p, "no architectures: common.archs is empty")
	}
	for _, key := range sortedStringKeys(obj) {
		vp := join(p, key)
		variant, known := ParseVariant(key)
		if !known {
			d.fail(vp, "unknown variant %q", key)
			continue
		}
		if !platform.AllowsVariant(variant) {
			d.fail(vp, "variant %q cannot be built from platform %q", variant, platform)
			continue
		}
		cfg, ok := d.variant(vp, obj[key])
		if !ok {
			continue
		}
		if len(cfg.Archs) == 0 && len(common.Archs) == 0 {
			d.fail(join(vp, "archs"), "no architectures: neither the variant nor common.archs declares any")
		}
		overlay[variant] = cfg
	}
	return overlay
}

func (d *decoder) variant(p string, v any) (VariantConfig, bool) {
	var cfg VariantConfig
	obj, ok := d.object(p, v)
	if !ok {
		return cfg, false
	}
	d.checkKeys(p, obj, variantKeys)
	cfg.Archs = d.archs(join(p, "archs"), obj["archs"])
	cfg.Options = d.options(join(p, "options"), obj["options"])
	cfg.Defines = d.strings(join(p, "defines"), obj["defines"])
	return cfg, true
}
