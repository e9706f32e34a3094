package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// ctyToGo converts an evaluated cty value into plain Go values: strings,
// bools, float64 numbers, []any and map[string]any. Controller parameters
// travel through the runtime as map[string]any, so the conversion is
// lossy on purpose: every number becomes a float64, matching what a JSON
// round trip of the topology document produces.
func ctyToGo(val cty.Value) (any, error) {
	if val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Bool:
		return val.True(), nil
	case ty == cty.Number:
		f, _ := val.AsBigFloat().Float64()
		return f, nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		out := make([]any, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			converted, err := ctyToGo(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			key, elem := it.Element()
			converted, err := ctyToGo(elem)
			if err != nil {
				return nil, err
			}
			out[key.AsString()] = converted
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported configuration value type %s", ty.FriendlyName())
}

// evalAttributes evaluates an HCL expression expected to produce an
// object and returns it as a Go map. A nil or omitted expression yields
// a nil map.
func evalAttributes(expr hcl.Expression, name string) (map[string]any, error) {
	if expr == nil {
		return nil, nil
	}
	// Optional attributes decode to zero-width placeholder expressions;
	// only a range with physical size marks a user-provided value.
	if rng := expr.Range(); rng.End.Byte <= rng.Start.Byte {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("evaluating %s: %w", name, diags)
	}
	converted, err := ctyToGo(val)
	if err != nil {
		return nil, fmt.Errorf("converting %s: %w", name, err)
	}
	if converted == nil {
		return nil, nil
	}
	m, ok := converted.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object, got %T", name, converted)
	}
	return m, nil
}
