package schema

import (
	"fmt"
	"math"
	"reflect"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

// codec is the per-kind behaviour table.
type codec struct {
	validate    func(f *Field, v any) error
	serialize   func(f *Field, v any) (any, error)
	deserialize func(f *Field, v any) (any, error)
}

var codecs = map[Kind]codec{
	KindString:   {validateString, serializeString, deserializeString},
	KindUUID:     {validateUUID, serializeUUID, deserializeUUID},
	KindInteger:  {validateInteger, serializeInteger, deserializeInteger},
	KindFloat:    {validateFloat, serializeFloat, deserializeFloat},
	KindBoolean:  {validateBoolean, serializeBoolean, deserializeBoolean},
	KindList:     {validateList, serializeList, deserializeList},
	KindSet:      {validateSet, serializeSet, deserializeSet},
	KindDict:     {validateDict, serializeDict, deserializeDict},
	KindDateTime: {validateDateTime, serializeDateTime, deserializeDateTime},
	KindGeoPoint: {validateGeoPoint, serializeGeoPoint, deserializeGeoPoint},
}

func mismatch(f *Field, want string, v any) error {
	return core.NewValidationError(core.TypeMismatch, f.name, "expected %s, got %T", want, v)
}

func primitiveEqual(a, b any) bool {
	return core.EqualPrimitive(a, b)
}

// String

func validateString(f *Field, v any) error {
	s, ok := v.(string)
	if !ok {
		return mismatch(f, "string", v)
	}
	if f.hasMaxLen {
		if n := utf8.RuneCountInString(s); n > f.maxLen {
			return core.NewValidationError(core.TooLong, f.name, "length %d exceeds %d", n, f.maxLen)
		}
	}
	return nil
}

func serializeString(_ *Field, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func deserializeString(_ *Field, v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}
	return nil, fmt.Errorf("cannot read %T as string", v)
}

// UUID

func toUUID(v any) (uuid.UUID, error) {
	switch id := v.(type) {
	case uuid.UUID:
		return id, nil
	case *uuid.UUID:
		if id == nil {
			return uuid.Nil, fmt.Errorf("nil uuid pointer")
		}
		return *id, nil
	case string:
		return uuid.Parse(id)
	case []byte:
		if len(id) == 16 {
			return uuid.FromBytes(id)
		}
		return uuid.ParseBytes(id)
	}
	return uuid.Nil, fmt.Errorf("cannot read %T as uuid", v)
}

// validateUUID only takes uuid values. Text is parsed on the way in by
// Deserialize and KeyText, never by validation.
func validateUUID(f *Field, v any) error {
	switch id := v.(type) {
	case uuid.UUID:
		return nil
	case *uuid.UUID:
		if id != nil {
			return nil
		}
	}
	return mismatch(f, "uuid.UUID", v)
}

func serializeUUID(_ *Field, v any) (any, error) {
	id, err := toUUID(v)
	if err != nil {
		return nil, err
	}
	return id.String(), nil
}

func deserializeUUID(_ *Field, v any) (any, error) {
	return toUUID(v)
}

// Integer

func validateInteger(f *Field, v any) error {
	if _, isFloat := v.(float64); isFloat {
		return mismatch(f, "integer", v)
	}
	n, ok := core.AsInt64(v)
	if !ok {
		if u, isUint := v.(uint64); isUint {
			return core.NewValidationError(core.OutOfRange, f.name, "%d overflows int64", u)
		}
		return mismatch(f, "integer", v)
	}
	if f.intMin != nil && n < *f.intMin {
		return core.NewValidationError(core.OutOfRange, f.name, "%d is below minimum %d", n, *f.intMin)
	}
	if f.intMax != nil && n > *f.intMax {
		return core.NewValidationError(core.OutOfRange, f.name, "%d is above maximum %d", n, *f.intMax)
	}
	return nil
}

func serializeInteger(_ *Field, v any) (any, error) {
	n, ok := core.AsInt64(v)
	if !ok {
		return nil, fmt.Errorf("expected integer, got %T", v)
	}
	return n, nil
}

func deserializeInteger(_ *Field, v any) (any, error) {
	if n, ok := core.AsInt64(v); ok {
		return n, nil
	}
	if fl, ok := core.AsFloat64(v); ok && fl == math.Trunc(fl) && math.Abs(fl) < 1<<63 {
		return int64(fl), nil
	}
	return nil, fmt.Errorf("cannot read %T as integer", v)
}

// Float

func validateFloat(f *Field, v any) error {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case float32:
		n = float64(x)
	default:
		return mismatch(f, "float", v)
	}
	if f.floatMin != nil && n < *f.floatMin {
		return core.NewValidationError(core.OutOfRange, f.name, "%g is below minimum %g", n, *f.floatMin)
	}
	if f.floatMax != nil && n > *f.floatMax {
		return core.NewValidationError(core.OutOfRange, f.name, "%g is above maximum %g", n, *f.floatMax)
	}
	return nil
}

func serializeFloat(_ *Field, v any) (any, error) {
	n, ok := core.AsFloat64(v)
	if !ok {
		return nil, fmt.Errorf("expected float, got %T", v)
	}
	return n, nil
}

func deserializeFloat(f *Field, v any) (any, error) {
	return serializeFloat(f, v)
}

// Boolean

func validateBoolean(f *Field, v any) error {
	if _, ok := v.(bool); !ok {
		return mismatch(f, "boolean", v)
	}
	return nil
}

func serializeBoolean(_ *Field, v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("expected boolean, got %T", v)
	}
	return b, nil
}

func deserializeBoolean(f *Field, v any) (any, error) {
	return serializeBoolean(f, v)
}

// List

func validateList(f *Field, v any) error {
	if _, ok := asSlice(v); !ok {
		return core.NewValidationError(core.InvalidShape, f.name, "expected a list, got %T", v)
	}
	return nil
}

func serializeList(_ *Field, v any) (any, error) {
	items, ok := asSlice(v)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	return plain(items), nil
}

func deserializeList(_ *Field, v any) (any, error) {
	items, ok := asSlice(v)
	if !ok {
		return nil, fmt.Errorf("cannot read %T as list", v)
	}
	return plain(items), nil
}

// Set

func validateSet(f *Field, v any) error {
	items, ok := setItems(v)
	if !ok {
		return core.NewValidationError(core.InvalidShape, f.name, "expected a set, got %T", v)
	}
	for _, item := range items {
		if !isSetElement(item) {
			return core.NewValidationError(core.InvalidShape, f.name, "set element %v (%T) is not a scalar", item, item)
		}
	}
	return nil
}

func serializeSet(_ *Field, v any) (any, error) {
	items, ok := setItems(v)
	if !ok {
		return nil, fmt.Errorf("expected a set, got %T", v)
	}
	return NewSet(items...).Items(), nil
}

func deserializeSet(_ *Field, v any) (any, error) {
	items, ok := setItems(v)
	if !ok {
		return nil, fmt.Errorf("cannot read %T as set", v)
	}
	return NewSet(items...), nil
}

func setItems(v any) ([]any, bool) {
	if s, ok := v.(Set); ok {
		return s.Items(), true
	}
	return asSlice(v)
}

// Dict

func validateDict(f *Field, v any) error {
	if _, ok := asMap(v); !ok {
		return core.NewValidationError(core.InvalidShape, f.name, "expected a string-keyed map, got %T", v)
	}
	return nil
}

func serializeDict(_ *Field, v any) (any, error) {
	m, ok := asMap(v)
	if !ok {
		return nil, fmt.Errorf("expected a string-keyed map, got %T", v)
	}
	return plain(m), nil
}

func deserializeDict(f *Field, v any) (any, error) {
	return serializeDict(f, v)
}

// DateTime

func validateDateTime(f *Field, v any) error {
	t, ok := v.(time.Time)
	if !ok {
		return mismatch(f, "time.Time", v)
	}
	if y := t.UTC().Year(); y < 1000 || y > 9999 {
		return core.NewValidationError(core.OutOfRange, f.name, "year %d outside 1000-9999", y)
	}
	return nil
}

func serializeDateTime(_ *Field, v any) (any, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("expected time.Time, got %T", v)
	}
	return FormatDateTime(t), nil
}

func deserializeDateTime(_ *Field, v any) (any, error) {
	return ParseDateTime(v)
}

// GeoPoint

func validateGeoPoint(f *Field, v any) error {
	p, err := ToGeoPoint(v)
	if err != nil {
		return core.NewValidationError(core.InvalidShape, f.name, "%v", err)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return core.NewValidationError(core.OutOfRange, f.name, "latitude %g outside [-90, 90]", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return core.NewValidationError(core.OutOfRange, f.name, "longitude %g outside [-180, 180]", p.Lon)
	}
	return nil
}

func serializeGeoPoint(_ *Field, v any) (any, error) {
	p, err := ToGeoPoint(v)
	if err != nil {
		return nil, err
	}
	return p.Map(), nil
}

func deserializeGeoPoint(_ *Field, v any) (any, error) {
	return ToGeoPoint(v)
}

// asSlice accepts []any or any other slice or array type except strings and bytes.
func asSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// asMap accepts map[string]any, map[any]any with string keys, or any map keyed by string.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, inner := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = inner
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// plain deep-copies containers into []any / map[string]any with numbers
// normalized to int64 and float64.
func plain(v any) any {
	switch t := v.(type) {
	case nil, string, bool:
		return t
	case Set:
		return plain(t.Items())
	case GeoPoint:
		return t.Map()
	case time.Time:
		return FormatDateTime(t)
	case uuid.UUID:
		return t.String()
	}
	if n, ok := core.AsInt64(v); ok {
		return n
	}
	if n, ok := core.AsFloat64(v); ok {
		return n
	}
	if m, ok := asMap(v); ok {
		out := make(map[string]any, len(m))
		for k, inner := range m {
			out[k] = plain(inner)
		}
		return out
	}
	if items, ok := asSlice(v); ok {
		out := make([]any, len(items))
		for i, inner := range items {
			out[i] = plain(inner)
		}
		return out
	}
	return v
}
