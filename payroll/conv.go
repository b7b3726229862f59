package payroll

import (
	"reflect"

	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// toFloat coerces a CEL evaluation result to float64. CEL arithmetic
// yields int, uint or double depending on the literals involved; the
// engine works in doubles throughout.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}

// asStringMap converts a CEL map result to a native map[string]any.
// Returns false for any non-map value.
func asStringMap(v ref.Val) (map[string]any, bool) {
	if _, ok := v.(traits.Mapper); !ok {
		return nil, false
	}
	native, err := v.ConvertToNative(reflect.TypeOf(map[string]any{}))
	if err != nil {
		return nil, false
	}
	m, ok := native.(map[string]any)
	return m, ok
}
