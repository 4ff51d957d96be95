package scrolltable

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// DefaultIDField is the record field used as identity when none is configured.
const DefaultIDField = "id"

// Record is a single application-defined item. The engine only reads the
// identity field and whatever fields a Criteria names.
type Record map[string]any

// Criteria maps field names to the values a record must (loosely) match.
type Criteria map[string]any

// Matches reports whether every criterion is loosely equal to the record's field.
func (c Criteria) Matches(r Record) bool {
	for field, want := range c {
		if !LooseEqual(want, r[field]) {
			return false
		}
	}

	return true
}

// sameRecord reports whether a and b are the same map, not merely equal ones.
func sameRecord(a, b Record) bool {
	if a == nil || b == nil {
		return false
	}

	return reflect.ValueOf(a).UnsafePointer() == reflect.ValueOf(b).UnsafePointer()
}

// LooseEqual compares two values the way a loose == does for scalars.
// Values of the same comparable type compare with ==. When either side is a
// number or a bool, both sides are converted to numbers: bools become 1 or
// 0, strings are trimmed and the empty string is 0. So an id of "42"
// matches 42, 42.0 and " 42 ", and "1" matches true. Everything else is
// unequal.
//
// Mixed string/number ids are a common source of surprises; callers that
// need strict comparison should use Remove with the record itself.
func LooseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta == tb {
		return ta.Comparable() && a == b
	}

	if !isScalar(a) && !isScalar(b) {
		return false
	}

	fa, okA := toNumber(a)
	fb, okB := toNumber(b)

	return okA && okB && fa == fb
}

// isScalar reports whether v is a number or a bool.
func isScalar(v any) bool {
	if _, ok := v.(bool); ok {
		return true
	}

	return isNumeric(v)
}

func toNumber(v any) (float64, bool) {
	switch vt := v.(type) {
	case bool:
		if vt {
			return 1, true
		}
		return 0, true
	case string:
		trimmed := strings.TrimSpace(vt)
		if trimmed == "" {
			return 0, true
		}
		f, err := cast.ToFloat64E(trimmed)
		return f, err == nil
	default:
		if !isNumeric(v) {
			return 0, false
		}
		f, err := cast.ToFloat64E(v)
		return f, err == nil
	}
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	default:
		return false
	}
}

// filterRecords returns a fresh slice with the records matching criteria, in order.
func filterRecords(records []Record, criteria Criteria) []Record {
	return lo.Filter(records, func(r Record, _ int) bool {
		return criteria.Matches(r)
	})
}

// toRecords converts a decoded result field into records. JSON arrays decode
// to []any of map[string]any; anything that is not an object is skipped.
func toRecords(v any) []Record {
	switch vt := v.(type) {
	case nil:
		return nil
	case []Record:
		return vt
	case []map[string]any:
		return lo.Map(vt, func(m map[string]any, _ int) Record { return Record(m) })
	case []any:
		return lo.FilterMap(vt, func(item any, _ int) (Record, bool) {
			switch it := item.(type) {
			case Record:
				return it, true
			case map[string]any:
				return Record(it), true
			default:
				return nil, false
			}
		})
	default:
		return nil
	}
}
