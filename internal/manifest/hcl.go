package manifest

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// decodeHCL parses an HCL manifest into the generic tree. Unlabeled blocks
// and object attributes are interchangeable, so both of these are accepted:
//
//	platforms { linux { linux {} } }
//	platforms = { linux = { linux = {} } }
func decodeHCL(data []byte, filename string) (any, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("hcl syntax error: %w", diags)
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("hcl: unexpected body type %T", file.Body)
	}
	return bodyToTree(body)
}

func bodyToTree(body *hclsyntax.Body) (map[string]any, error) {
	tree := make(map[string]any, len(body.Attributes)+len(body.Blocks))
	for name, attr := range body.Attributes {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("hcl: attribute %q: %w", name, diags)
		}
		native, err := ctyToNative(val)
		if err != nil {
			return nil, fmt.Errorf("hcl: attribute %q: %w", name, err)
		}
		tree[name] = native
	}
	for _, block := range body.Blocks {
		if len(block.Labels) > 0 {
			return nil, fmt.Errorf("hcl: %s: block %q must not have labels", block.DefRange(), block.Type)
		}
		if _, dup := tree[block.Type]; dup {
			return nil, fmt.Errorf("hcl: %s: %q is defined more than once", block.DefRange(), block.Type)
		}
		nested, err := bodyToTree(block.Body)
		if err != nil {
			return nil, err
		}
		tree[block.Type] = nested
	}
	return tree, nil
}

// ctyToNative converts a cty.Value into plain Go maps, slices and scalars.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("could not convert number: %w", err)
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		slice := make([]any, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, err
			}
			slice = append(slice, native)
		}
		return slice, nil

	case ty.IsObjectType() || ty.IsMapType():
		m := make(map[string]any, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			key, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, fmt.Errorf("in key %q: %w", key.AsString(), err)
			}
			m[key.AsString()] = native
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
}

// nativeToCty converts the encoder's plain values back into cty values.
// Lists always become tuples so mixed [name, value] pairs are representable.
func nativeToCty(v any) cty.Value {
	switch x := v.(type) {
	case string:
		return cty.StringVal(x)
	case bool:
		return cty.BoolVal(x)
	case []string:
		vals := make([]cty.Value, len(x))
		for i, s := range x {
			vals[i] = cty.StringVal(s)
		}
		return cty.TupleVal(vals)
	case []any:
		vals := make([]cty.Value, len(x))
		for i, e := range x {
			vals[i] = nativeToCty(e)
		}
		return cty.TupleVal(vals)
	case map[string]string:
		vals := make(map[string]cty.Value, len(x))
		for k, s := range x {
			vals[k] = cty.StringVal(s)
		}
		return cty.ObjectVal(vals)
	case map[string]any:
		vals := make(map[string]cty.Value, len(x))
		for k, e := range x {
			vals[k] = nativeToCty(e)
		}
		return cty.ObjectVal(vals)
	}
	panic(fmt.Sprintf("manifest: cannot encode %T as hcl", v))
}
