package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Predicate is a backend-neutral query condition over serialized documents.
// Values carried by a predicate are already in primitive form.
type Predicate interface {
	predicate()
}

// Equals matches documents where every Fields[i] equals Values[i].
type Equals struct {
	Fields []string
	Values []any
}

// Between matches documents where Field lies in [Lower, Upper]. A nil bound is open.
type Between struct {
	Field string
	Lower any
	Upper any
}

// GeoBox matches documents whose geo point Field lies inside the rectangle.
type GeoBox struct {
	Field  string
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

func (Equals) predicate()  {}
func (Between) predicate() {}
func (GeoBox) predicate()  {}

// ValidatePredicate checks the predicate is well formed.
func ValidatePredicate(pred Predicate) error {
	switch p := pred.(type) {
	case Equals:
		if len(p.Fields) == 0 {
			return fmt.Errorf("equality predicate needs at least one field")
		}
		if len(p.Fields) != len(p.Values) {
			return fmt.Errorf("equality predicate has %d fields but %d values", len(p.Fields), len(p.Values))
		}
	case Between:
		if p.Field == "" {
			return fmt.Errorf("range predicate needs a field")
		}
	case GeoBox:
		if p.Field == "" {
			return fmt.Errorf("geo box predicate needs a field")
		}
		if p.MinLat > p.MaxLat || p.MinLon > p.MaxLon {
			return fmt.Errorf("geo box predicate has inverted corners")
		}
	case nil:
		return fmt.Errorf("nil predicate")
	default:
		return fmt.Errorf("unsupported predicate %T", pred)
	}
	return nil
}

// Match evaluates pred against doc. Backends without native query support use
// it to filter scanned records.
func Match(pred Predicate, doc map[string]any) bool {
	switch p := pred.(type) {
	case Equals:
		for i, f := range p.Fields {
			if !matchesValue(doc[f], p.Values[i]) {
				return false
			}
		}
		return true
	case Between:
		v, ok := doc[p.Field]
		if !ok || v == nil {
			return false
		}
		if p.Lower != nil {
			c, ok := Compare(v, p.Lower)
			if !ok || c < 0 {
				return false
			}
		}
		if p.Upper != nil {
			c, ok := Compare(v, p.Upper)
			if !ok || c > 0 {
				return false
			}
		}
		return true
	case GeoBox:
		lat, lon, ok := LatLon(doc[p.Field])
		if !ok {
			return false
		}
		return lat >= p.MinLat && lat <= p.MaxLat && lon >= p.MinLon && lon <= p.MaxLon
	}
	return false
}

// matchesValue is term equality; an array field matches if any element does.
func matchesValue(stored, want any) bool {
	if items, ok := stored.([]any); ok {
		if _, wantList := want.([]any); !wantList {
			for _, item := range items {
				if EqualPrimitive(item, want) {
					return true
				}
			}
			return false
		}
	}
	return EqualPrimitive(stored, want)
}

// EqualPrimitive compares two primitive values, treating all numbers by value.
func EqualPrimitive(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := Compare(a, b); ok {
		return c == 0
	}
	switch av := a.(type) {
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !EqualPrimitive(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !EqualPrimitive(v, bv[k]) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two primitives of compatible type: numbers against numbers,
// strings against strings. The second result is false when they are not comparable.
func Compare(a, b any) (int, bool) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	ai, aInt := AsInt64(a)
	bi, bInt := AsInt64(b)
	if aInt && bInt {
		switch {
		case ai < bi:
			return -1, true
		case ai > bi:
			return 1, true
		}
		return 0, true
	}
	af, ok := AsFloat64(a)
	if !ok {
		return 0, false
	}
	bf, ok := AsFloat64(b)
	if !ok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	}
	return 0, true
}

// AsInt64 converts any Go integer type or an integral json.Number to int64.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), int64(n) >= 0
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), int64(n) >= 0
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// AsFloat64 converts any Go numeric type or json.Number to float64.
func AsFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := AsInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// LatLon reads a serialized geo point map.
func LatLon(v any) (float64, float64, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, 0, false
	}
	lat, ok := AsFloat64(m["lat"])
	if !ok {
		return 0, 0, false
	}
	lon, ok := AsFloat64(m["lon"])
	if !ok {
		return 0, 0, false
	}
	return lat, lon, true
}

// NormalizeNumbers rewrites decoder-specific numeric types in a decoded
// document to int64 or float64, recursively.
func NormalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			t[k] = NormalizeNumbers(inner)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[fmt.Sprint(k)] = NormalizeNumbers(inner)
		}
		return out
	case []any:
		for i, inner := range t {
			t[i] = NormalizeNumbers(inner)
		}
		return t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case float32:
		return float64(t)
	case float64, bool, string, nil:
		return t
	}
	if i, ok := AsInt64(v); ok {
		return i
	}
	return v
}
