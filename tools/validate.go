package tools

import (
	"fmt"
	"math"
)

// ValidateArgs checks that every required parameter is present and that
// each declared parameter has the declared top-level JSON type. Array
// elements are not checked; handlers decide how to treat bad elements.
// Undeclared arguments are ignored.
func ValidateArgs(meta Metadata, args map[string]any) error {
	for _, p := range meta.Parameters {
		v, ok := args[p.Name]
		if !ok || v == nil {
			if p.Required {
				return fmt.Errorf("%w: missing required parameter %q", ErrInvalidArguments, p.Name)
			}
			continue
		}
		if !matchesType(p.Type, v) {
			return fmt.Errorf("%w: parameter %q must be %s, got %T", ErrInvalidArguments, p.Name, p.Type, v)
		}
	}
	return nil
}

func matchesType(typ string, v any) bool {
	switch typ {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeInteger:
		f, ok := v.(float64)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return false
	}
}
