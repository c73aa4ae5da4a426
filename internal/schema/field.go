package schema

import (
	"fmt"
	"slices"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

// Kind is the closed set of field types.
type Kind int

const (
	KindString Kind = iota
	KindUUID
	KindInteger
	KindFloat
	KindBoolean
	KindList
	KindSet
	KindDict
	KindDateTime
	KindGeoPoint
)

var kindNames = [...]string{
	KindString:   "string",
	KindUUID:     "uuid",
	KindInteger:  "integer",
	KindFloat:    "float",
	KindBoolean:  "boolean",
	KindList:     "list",
	KindSet:      "set",
	KindDict:     "dict",
	KindDateTime: "datetime",
	KindGeoPoint: "geo_point",
}

// String returns the kind name.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Field describes one typed attribute of an entity. Fields are built with the
// constructors below and frozen once passed to New.
type Field struct {
	name       string
	kind       Kind
	primaryKey bool
	nullable   bool
	storeNull  bool
	indexed    bool
	persisted  bool

	allowed    []any
	hasAllowed bool

	maxLen    int
	hasMaxLen bool
	intMin    *int64
	intMax    *int64
	floatMin  *float64
	floatMax  *float64
}

func newField(name string, kind Kind) *Field {
	return &Field{name: name, kind: kind, persisted: true}
}

// String declares a textual field.
func String(name string) *Field { return newField(name, KindString) }

// UUID declares a 128-bit identifier field.
func UUID(name string) *Field { return newField(name, KindUUID) }

// Int declares an integer field.
func Int(name string) *Field { return newField(name, KindInteger) }

// Float declares a floating point field.
func Float(name string) *Field { return newField(name, KindFloat) }

// Bool declares a boolean field.
func Bool(name string) *Field { return newField(name, KindBoolean) }

// List declares an ordered sequence field.
func List(name string) *Field { return newField(name, KindList) }

// SetOf declares an unordered collection field.
func SetOf(name string) *Field { return newField(name, KindSet) }

// Dict declares a string-keyed mapping field.
func Dict(name string) *Field { return newField(name, KindDict) }

// DateTime declares a timestamp field stored as YYYYMMDDHHMMSSmmm.
func DateTime(name string) *Field { return newField(name, KindDateTime) }

// Geo declares a latitude/longitude field.
func Geo(name string) *Field { return newField(name, KindGeoPoint) }

// PrimaryKey marks the field as the record identifier.
func (f *Field) PrimaryKey() *Field {
	f.primaryKey = true
	return f
}

// Nullable allows the field to hold nil.
func (f *Field) Nullable() *Field {
	f.nullable = true
	return f
}

// StoreNull writes nil values explicitly instead of omitting them.
func (f *Field) StoreNull() *Field {
	f.storeNull = true
	return f
}

// Indexed asks backends to index the field.
func (f *Field) Indexed() *Field {
	f.indexed = true
	return f
}

// NotPersisted keeps the field out of serialized documents.
func (f *Field) NotPersisted() *Field {
	f.persisted = false
	return f
}

// Options restricts values to the given set.
func (f *Field) Options(values ...any) *Field {
	f.allowed = slices.Clone(values)
	f.hasAllowed = true
	return f
}

// MaxLen bounds the rune length of a String field.
func (f *Field) MaxLen(n int) *Field {
	f.maxLen = n
	f.hasMaxLen = true
	return f
}

// Min sets the inclusive lower bound of an Int or Float field.
func (f *Field) Min(v float64) *Field {
	if f.kind == KindInteger {
		i := int64(v)
		f.intMin = &i
		return f
	}
	f.floatMin = &v
	return f
}

// Max sets the inclusive upper bound of an Int or Float field.
func (f *Field) Max(v float64) *Field {
	if f.kind == KindInteger {
		i := int64(v)
		f.intMax = &i
		return f
	}
	f.floatMax = &v
	return f
}

// Name returns the field name.
func (f *Field) Name() string { return f.name }

// Kind returns the field kind.
func (f *Field) Kind() Kind { return f.kind }

// IsPrimaryKey reports whether the field identifies the record.
func (f *Field) IsPrimaryKey() bool { return f.primaryKey }

// IsNullable reports whether nil is a valid value.
func (f *Field) IsNullable() bool { return f.nullable }

// StoresNull reports whether nil values are written explicitly.
func (f *Field) StoresNull() bool { return f.storeNull }

// IsIndexed reports whether the field is indexed.
func (f *Field) IsIndexed() bool { return f.indexed }

// IsPersisted reports whether the field is serialized.
func (f *Field) IsPersisted() bool { return f.persisted }

// AllowedValues returns the permitted values, or nil when unrestricted.
func (f *Field) AllowedValues() []any { return slices.Clone(f.allowed) }

// check enforces definition-time invariants.
func (f *Field) check(schemaName string) error {
	fail := func(format string, args ...any) error {
		return core.NewSchemaError(schemaName, f.name, format, args...)
	}
	if f.name == "" {
		return fail("field name is empty")
	}
	if _, ok := codecs[f.kind]; !ok {
		return fail("unknown field kind %s", f.kind)
	}
	if f.primaryKey && f.nullable {
		return fail("primary key cannot be nullable")
	}
	if f.primaryKey && !f.persisted {
		return fail("primary key must be persisted")
	}
	if f.storeNull && !f.nullable {
		return fail("storing nulls requires a nullable field")
	}
	if f.hasAllowed && len(f.allowed) == 0 {
		return fail("allowed values must not be empty")
	}
	if f.hasMaxLen {
		if f.kind != KindString {
			return fail("max length only applies to string fields")
		}
		if f.maxLen <= 0 {
			return fail("max length must be positive")
		}
	}
	if f.intMin != nil && f.intMax != nil && *f.intMin > *f.intMax {
		return fail("min %d is greater than max %d", *f.intMin, *f.intMax)
	}
	if f.floatMin != nil && f.floatMax != nil && *f.floatMin > *f.floatMax {
		return fail("min %g is greater than max %g", *f.floatMin, *f.floatMax)
	}
	if (f.intMin != nil || f.intMax != nil || f.floatMin != nil || f.floatMax != nil) &&
		f.kind != KindInteger && f.kind != KindFloat {
		return fail("bounds only apply to numeric fields")
	}
	for _, v := range f.allowed {
		if err := f.validateValue(v); err != nil {
			return fail("allowed value %v is invalid: %v", v, err)
		}
	}
	return nil
}

// Validate checks v against the field's kind and constraints.
func (f *Field) Validate(v any) error {
	if v == nil {
		if f.primaryKey || !f.nullable {
			return core.NewValidationError(core.NullNotAllowed, f.name, "value is required")
		}
		return nil
	}
	if err := f.validateValue(v); err != nil {
		return err
	}
	if f.hasAllowed && !f.isAllowed(v) {
		return core.NewValidationError(core.NotInAllowedValues, f.name, "%v is not one of %v", v, f.allowed)
	}
	return nil
}

func (f *Field) validateValue(v any) error {
	return codecs[f.kind].validate(f, v)
}

func (f *Field) isAllowed(v any) bool {
	got, err := f.Serialize(v)
	if err != nil {
		return false
	}
	for _, a := range f.allowed {
		want, err := f.Serialize(a)
		if err == nil && primitiveEqual(got, want) {
			return true
		}
	}
	return false
}

// Serialize converts a domain value to its primitive storage form.
func (f *Field) Serialize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := codecs[f.kind].serialize(f, v)
	if err != nil {
		return nil, core.NewValidationError(core.TypeMismatch, f.name, "%v", err)
	}
	return out, nil
}

// Deserialize converts a primitive storage value back to its domain form.
func (f *Field) Deserialize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := codecs[f.kind].deserialize(f, v)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", f.name, err)
	}
	return out, nil
}

func (f *Field) clone() *Field {
	c := *f
	c.allowed = slices.Clone(f.allowed)
	return &c
}
