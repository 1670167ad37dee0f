package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is a manifest wire format.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatHCL  Format = "hcl"
)

// Formats lists every supported format.
var Formats = []Format{FormatYAML, FormatTOML, FormatHCL}

// ParseFormat resolves a format name as given on the command line.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yaml", "yml", "json":
		return FormatYAML, nil
	case "toml":
		return FormatTOML, nil
	case "hcl":
		return FormatHCL, nil
	}
	return "", fmt.Errorf("unsupported manifest format %q (want yaml, toml or hcl)", s)
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".hcl":
		return FormatHCL, nil
	}
	return "", fmt.Errorf("cannot infer manifest format from %q: use a .yaml, .yml, .json, .toml or .hcl extension", path)
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := parse(data, format, path)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Source = path
		}
		return nil, err
	}
	return m, nil
}

// Parse decodes and validates a manifest held in memory. Syntax errors and
// schema violations are both reported as a *ValidationError.
func Parse(data []byte, format Format) (*Manifest, error) {
	return parse(data, format, "manifest."+string(format))
}

func parse(data []byte, format Format, filename string) (*Manifest, error) {
	tree, err := decodeRaw(data, format, filename)
	if err != nil {
		return nil, &ValidationError{Issues: []error{&FieldError{Message: err.Error()}}}
	}
	m, issues := decodeTree(tree)
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return m, nil
}

// decodeRaw turns the document into a generic tree of maps, slices and scalars.
func decodeRaw(data []byte, format Format, filename string) (any, error) {
	switch format {
	case FormatYAML:
		var tree any
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&tree); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, fmt.Errorf("yaml syntax error: %w", err)
		}
		return tree, nil
	case FormatTOML:
		var tree map[string]any
		if err := toml.Unmarshal(data, &tree); err != nil {
			var derr *toml.DecodeError
			if errors.As(err, &derr) {
				row, col := derr.Position()
				return nil, fmt.Errorf("toml syntax error at %d:%d: %s", row, col, derr.Error())
			}
			return nil, fmt.Errorf("toml syntax error: %w", err)
		}
		return tree, nil
	case FormatHCL:
		return decodeHCL(data, filename)
	}
	return nil, fmt.Errorf("unsupported manifest format %q", format)
}
