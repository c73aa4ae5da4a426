package schema

import (
	"fmt"
	"maps"
	"strconv"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

// Schema is an ordered, immutable set of fields bound to a table name, with
// exactly one primary key.
type Schema struct {
	table  string
	fields []*Field
	byName map[string]*Field
	pk     *Field
}

// New builds a schema and enforces every definition-time invariant. Fields are
// copied, so later builder calls on the arguments have no effect.
func New(table string, fields ...*Field) (*Schema, error) {
	if table == "" {
		return nil, core.NewSchemaError(table, "", "table name is not defined")
	}
	s := &Schema{
		table:  table,
		byName: make(map[string]*Field, len(fields)),
	}
	for _, f := range fields {
		if f == nil {
			return nil, core.NewSchemaError(table, "", "nil field")
		}
		if err := f.check(table); err != nil {
			return nil, err
		}
		if _, dup := s.byName[f.name]; dup {
			return nil, core.NewSchemaError(table, f.name, "duplicate field name")
		}
		c := f.clone()
		if c.primaryKey {
			if s.pk != nil {
				return nil, core.NewSchemaError(table, f.name, "second primary key, %q already declared", s.pk.name)
			}
			s.pk = c
		}
		s.fields = append(s.fields, c)
		s.byName[c.name] = c
	}
	if s.pk == nil {
		return nil, core.NewSchemaError(table, "", "no primary key field")
	}
	return s, nil
}

// MustNew is New for package-level schema variables. It panics on error.
func MustNew(table string, fields ...*Field) *Schema {
	s, err := New(table, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Table returns the table name.
func (s *Schema) Table() string { return s.table }

// PrimaryKey returns the primary key field.
func (s *Schema) PrimaryKey() *Field { return s.pk }

// Field looks up a field by name.
func (s *Schema) Field(name string) (*Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Fields returns the fields in declaration order.
func (s *Schema) Fields() []*Field {
	out := make([]*Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// NewEntity returns an empty entity bound to s.
func (s *Schema) NewEntity() *Entity {
	return &Entity{schema: s, values: make(map[string]any), extra: make(map[string]any)}
}

// Entity builds an entity from name/value pairs. Unknown names are kept as
// pass-through extras.
func (s *Schema) Entity(values map[string]any) *Entity {
	e := s.NewEntity()
	for k, v := range values {
		e.Set(k, v)
	}
	return e
}

// Validate checks every field of e. Missing values are treated as nil.
func (s *Schema) Validate(e *Entity) error {
	if e == nil {
		return core.NewSchemaError(s.table, "", "nil entity")
	}
	for _, f := range s.fields {
		if err := f.Validate(e.values[f.name]); err != nil {
			return err
		}
	}
	return nil
}

// Serialize converts e to its stored document. Nil values are omitted unless
// the field stores nulls, non-persisted fields are skipped, and extras are
// re-emitted verbatim.
func (s *Schema) Serialize(e *Entity) (map[string]any, error) {
	doc := make(map[string]any, len(s.fields)+len(e.extra))
	maps.Copy(doc, e.extra)
	for _, f := range s.fields {
		if !f.persisted {
			continue
		}
		v := e.values[f.name]
		if v == nil {
			if f.storeNull {
				doc[f.name] = nil
			}
			continue
		}
		out, err := f.Serialize(v)
		if err != nil {
			return nil, err
		}
		doc[f.name] = out
	}
	return doc, nil
}

// Deserialize rebuilds an entity from a stored document.
func (s *Schema) Deserialize(doc map[string]any) (*Entity, error) {
	e := s.NewEntity()
	for k, v := range doc {
		f, ok := s.byName[k]
		if !ok {
			e.extra[k] = v
			continue
		}
		out, err := f.Deserialize(v)
		if err != nil {
			return nil, fmt.Errorf("deserialize %s: %w", s.table, err)
		}
		e.values[k] = out
	}
	return e, nil
}

// SerializeValue converts a query operand with the named field's serializer.
// Scalar operands of List and Set fields are element lookups and are only
// normalized. Operands for unknown fields are returned unchanged.
func (s *Schema) SerializeValue(name string, v any) (any, error) {
	f, ok := s.byName[name]
	if !ok || v == nil {
		return v, nil
	}
	if f.kind == KindList || f.kind == KindSet {
		if _, isList := setItems(v); !isList {
			return plain(v), nil
		}
	}
	return f.Serialize(v)
}

// KeyText renders a primary key value in its text form.
func (s *Schema) KeyText(pk any) (string, error) {
	if pk == nil {
		return "", core.NewSchemaError(s.table, s.pk.name, "primary key value is missing")
	}
	v, err := s.pk.Serialize(pk)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", core.NewSchemaError(s.table, s.pk.name, "primary key value is empty")
		}
		return t, nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	}
	return fmt.Sprint(v), nil
}

// Mapping returns the storage declaration for every persisted field.
func (s *Schema) Mapping() (core.Mapping, error) {
	m := core.Mapping{Table: s.table, PrimaryKey: s.pk.name}
	for _, f := range s.fields {
		if !f.persisted {
			continue
		}
		st, err := StorageTypeOf(f.kind)
		if err != nil {
			return core.Mapping{}, core.NewSchemaError(s.table, f.name, "%v", err)
		}
		m.Fields = append(m.Fields, core.FieldMapping{
			Name:    f.name,
			Type:    st,
			Indexed: f.indexed || f.primaryKey,
			Dynamic: st == core.StorageObject,
		})
	}
	return m, nil
}

// NewID returns a random identifier suitable for a UUID primary key.
func NewID() uuid.UUID {
	return uuid.New()
}
