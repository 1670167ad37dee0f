package manifest

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/pelletier/go-toml/v2"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// The wire structs fix the key order of encoded manifests.
type wireManifest struct {
	Project   string                            `yaml:"project" toml:"project"`
	Common    wireCommon                        `yaml:"common" toml:"common"`
	Platforms map[string]map[string]wireVariant `yaml:"platforms" toml:"platforms"`
}

type wireCommon struct {
	Archs          []string               `yaml:"archs,omitempty" toml:"archs,omitempty"`
	Variables      [][]any                `yaml:"variables,omitempty" toml:"variables,omitempty"`
	Copy           map[string]string      `yaml:"copy,omitempty" toml:"copy,omitempty"`
	Defines        []string               `yaml:"defines,omitempty" toml:"defines,omitempty"`
	Options        [][]any                `yaml:"options,omitempty" toml:"options,omitempty"`
	Subdirectories []string               `yaml:"subdirectories,omitempty" toml:"subdirectories,omitempty"`
	Libraries      map[string]wireLibrary `yaml:"libraries,omitempty" toml:"libraries,omitempty"`
	BuildDir       string                 `yaml:"buildDir" toml:"buildDir"`
	BuildOutDir    string                 `yaml:"buildOutDir,omitempty" toml:"buildOutDir,omitempty"`
	BuildFlags     []string               `yaml:"buildFlags,omitempty" toml:"buildFlags,omitempty"`
}

type wireVariant struct {
	Archs   []string `yaml:"archs,omitempty" toml:"archs,omitempty"`
	Options [][]any  `yaml:"options,omitempty" toml:"options,omitempty"`
	Defines []string `yaml:"defines,omitempty" toml:"defines,omitempty"`
}

type wireLibrary struct {
	Name string `yaml:"name" toml:"name"`
}

// Encode serializes m in the given format. The output parses back into a
// manifest equal to m.
func Encode(m *Manifest, format Format) ([]byte, error) {
	w := toWire(m)
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(w); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		return buf.Bytes(), nil
	case FormatTOML:
		var buf bytes.Buffer
		enc := toml.NewEncoder(&buf)
		enc.SetIndentTables(true)
		if err := enc.Encode(w); err != nil {
			return nil, fmt.Errorf("failed to encode toml: %w", err)
		}
		return buf.Bytes(), nil
	case FormatHCL:
		return encodeHCL(w), nil
	}
	return nil, fmt.Errorf("unsupported manifest format %q", format)
}

func toWire(m *Manifest) wireManifest {
	c := m.Common
	w := wireManifest{
		Project: m.Project,
		Common: wireCommon{
			Archs:          archStrings(c.Archs),
			Copy:           c.Copy,
			Defines:        c.Defines,
			Options:        optionPairs(c.Options),
			Subdirectories: c.Subdirectories,
			BuildDir:       c.BuildDir,
			BuildOutDir:    c.BuildOutDir,
			BuildFlags:     c.BuildFlags,
		},
		Platforms: make(map[string]map[string]wireVariant, len(m.Platforms)),
	}
	for _, v := range c.Variables {
		w.Common.Variables = append(w.Common.Variables, []any{v.Name, v.Value})
	}
	if len(c.Libraries) > 0 {
		w.Common.Libraries = make(map[string]wireLibrary, len(c.Libraries))
		for k, lib := range c.Libraries {
			w.Common.Libraries[k] = wireLibrary{Name: lib.Name}
		}
	}
	for p, overlay := range m.Platforms {
		variants := make(map[string]wireVariant, len(overlay))
		for v, cfg := range overlay {
			variants[string(v)] = wireVariant{
				Archs:   archStrings(cfg.Archs),
				Options: optionPairs(cfg.Options),
				Defines: cfg.Defines,
			}
		}
		w.Platforms[string(p)] = variants
	}
	return w
}

func archStrings(archs []Arch) []string {
	if len(archs) == 0 {
		return nil
	}
	out := make([]string, len(archs))
	for i, a := range archs {
		out[i] = string(a)
	}
	return out
}

func optionPairs(opts []Option) [][]any {
	if len(opts) == 0 {
		return nil
	}
	out := make([][]any, len(opts))
	for i, o := range opts {
		out[i] = []any{o.Name, o.Value.Native()}
	}
	return out
}

func pairsToAny(pairs [][]any) []any {
	out := make([]any, len(pairs))
	for i, p := range pairs {
		out[i] = p
	}
	return out
}

func encodeHCL(w wireManifest) []byte {
	f := hclwrite.NewEmptyFile()
	root := f.Body()
	root.SetAttributeValue("project", cty.StringVal(w.Project))
	root.AppendNewline()

	common := root.AppendNewBlock("common", nil).Body()
	c := w.Common
	setList(common, "archs", c.Archs)
	if len(c.Variables) > 0 {
		common.SetAttributeValue("variables", nativeToCty(pairsToAny(c.Variables)))
	}
	if len(c.Copy) > 0 {
		common.SetAttributeValue("copy", nativeToCty(c.Copy))
	}
	setList(common, "defines", c.Defines)
	if len(c.Options) > 0 {
		common.SetAttributeValue("options", nativeToCty(pairsToAny(c.Options)))
	}
	setList(common, "subdirectories", c.Subdirectories)
	if len(c.Libraries) > 0 {
		libs := make(map[string]any, len(c.Libraries))
		for k, lib := range c.Libraries {
			libs[k] = map[string]any{"name": lib.Name}
		}
		common.SetAttributeValue("libraries", nativeToCty(libs))
	}
	common.SetAttributeValue("buildDir", cty.StringVal(c.BuildDir))
	if c.BuildOutDir != "" {
		common.SetAttributeValue("buildOutDir", cty.StringVal(c.BuildOutDir))
	}
	setList(common, "buildFlags", c.BuildFlags)
	root.AppendNewline()

	platforms := root.AppendNewBlock("platforms", nil).Body()
	for _, p := range sortedStringKeys(w.Platforms) {
		pb := platforms.AppendNewBlock(p, nil).Body()
		for _, v := range sortedStringKeys(w.Platforms[p]) {
			cfg := w.Platforms[p][v]
			vb := pb.AppendNewBlock(v, nil).Body()
			setList(vb, "archs", cfg.Archs)
			if len(cfg.Options) > 0 {
				vb.SetAttributeValue("options", nativeToCty(pairsToAny(cfg.Options)))
			}
			setList(vb, "defines", cfg.Defines)
		}
	}
	return f.Bytes()
}

func setList(body *hclwrite.Body, name string, values []string) {
	if len(values) == 0 {
		return
	}
	body.SetAttributeValue(name, nativeToCty(values))
}

func sortedStringKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
