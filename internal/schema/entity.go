package schema

import (
	"maps"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

// Meta is the backend metadata the DAO attaches after a successful write or read.
type Meta struct {
	Key           *core.Key
	Generation    int64
	HasGeneration bool
}

// Entity is a mutable record bound to a Schema.
type Entity struct {
	schema *Schema
	values map[string]any
	extra  map[string]any
	meta   Meta
}

// Schema returns the bound schema.
func (e *Entity) Schema() *Schema { return e.schema }

// Get returns the value of a declared field, or a pass-through extra.
func (e *Entity) Get(name string) any {
	if v, ok := e.values[name]; ok {
		return v
	}
	return e.extra[name]
}

// Set assigns a value. Names the schema does not declare are stored as extras.
func (e *Entity) Set(name string, v any) *Entity {
	if _, ok := e.schema.byName[name]; ok {
		e.values[name] = v
		return e
	}
	e.extra[name] = v
	return e
}

// Values returns a copy of the declared field values.
func (e *Entity) Values() map[string]any {
	return maps.Clone(e.values)
}

// Extra returns a copy of the pass-through values.
func (e *Entity) Extra() map[string]any {
	return maps.Clone(e.extra)
}

// Clone returns a copy of e that shares no maps with it.
func (e *Entity) Clone() *Entity {
	c := *e
	c.values = maps.Clone(e.values)
	c.extra = maps.Clone(e.extra)
	return &c
}

// PK returns the primary key value.
func (e *Entity) PK() any {
	return e.values[e.schema.pk.name]
}

// Meta returns the attached backend metadata.
func (e *Entity) Meta() Meta { return e.meta }

// Generation returns the generation token and whether one is attached.
func (e *Entity) Generation() (int64, bool) {
	return e.meta.Generation, e.meta.HasGeneration
}

// SetGeneration attaches a generation token, e.g. one read earlier by the caller.
func (e *Entity) SetGeneration(gen int64) *Entity {
	e.meta.Generation = gen
	e.meta.HasGeneration = true
	return e
}

// Attach records the composite key and generation returned by a backend.
func (e *Entity) Attach(key core.Key, gen int64) {
	e.meta.Key = &key
	e.meta.Generation = gen
	e.meta.HasGeneration = true
}
