// Package dao maps entities onto a storage backend: it validates and
// serializes through a schema, resolves record keys, applies write modes and
// generation preconditions, and classifies backend failures as ignorable or fatal.
package dao

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/schema"
)

// DAO performs CRUD and query operations for one schema on one backend.
// It is immutable after New and safe for concurrent use.
type DAO struct {
	backend core.Backend
	schema  *schema.Schema
	table   string
	logger  *slog.Logger
	ignore  classification

	// scanRate is the GetAll throttle used when a call sets none.
	scanRate float64
}

// New creates a DAO for s on backend.
func New(backend core.Backend, s *schema.Schema, opts ...Option) (*DAO, error) {
	if backend == nil {
		return nil, fmt.Errorf("dao: backend is required")
	}
	if s == nil {
		return nil, fmt.Errorf("dao: schema is required")
	}
	d := &DAO{
		backend: backend,
		schema:  s,
		table:   s.Table(),
		logger:  slog.Default(),
		ignore:  defaultClassification(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(
		slog.String("component", "dao"),
		slog.String("backend", backend.Type()),
		slog.String("table", d.table),
	)
	return d, nil
}

// Schema returns the bound schema.
func (d *DAO) Schema() *schema.Schema { return d.schema }

// Table returns the bound table name.
func (d *DAO) Table() string { return d.table }

// Save validates and writes e. It returns e with its key and generation
// attached, or (nil, nil) when the backend error is ignorable for writes.
func (d *DAO) Save(ctx context.Context, e *schema.Entity, opts ...WriteOption) (*schema.Entity, error) {
	return d.write(ctx, "save", e, buildWriteOptions(opts))
}

// Create is Save in create-only mode. An existing record is reported as an
// error matching core.ErrRecordExists.
func (d *DAO) Create(ctx context.Context, e *schema.Entity, opts ...WriteOption) (*schema.Entity, error) {
	o := buildWriteOptions(opts)
	o.Mode = core.WriteModeCreate
	return d.write(ctx, "create", e, o)
}

// SaveIfUpToDate writes e only if the stored generation still equals the one
// attached to e. A generation conflict is logged and yields (nil, nil). An
// entity without a generation token is written unconditionally.
func (d *DAO) SaveIfUpToDate(ctx context.Context, e *schema.Entity, opts ...WriteOption) (*schema.Entity, error) {
	o := buildWriteOptions(opts)
	if e != nil {
		if gen, ok := e.Generation(); ok {
			o.ExpectedGeneration = &gen
		}
	}
	return d.write(ctx, "save_if_up_to_date", e, o, core.KindGenerationConflict)
}

func (d *DAO) write(ctx context.Context, op string, e *schema.Entity, o WriteOptions, extra ...core.ErrorKind) (*schema.Entity, error) {
	if e == nil {
		return nil, core.NewSchemaError(d.schema.Table(), "", "nil entity")
	}
	if e.Schema() != d.schema {
		return nil, core.NewSchemaError(d.schema.Table(), "", "entity is bound to schema %q", e.Schema().Table())
	}

	id, pk, err := d.resolveWriteID(e, o.ID)
	if err != nil {
		return nil, err
	}
	target := e
	if pk != nil {
		target = e.Clone().Set(d.schema.PrimaryKey().Name(), pk)
	}
	if err := d.schema.Validate(target); err != nil {
		return nil, err
	}
	doc, err := d.schema.Serialize(target)
	if err != nil {
		return nil, err
	}

	d.logger.DebugContext(ctx, "writing record",
		slog.String("operation", op),
		slog.String("id", id),
		slog.String("mode", o.Mode.String()),
	)
	rec, err := d.backend.Put(ctx, d.table, id, doc, core.PutOptions{
		Mode:               o.Mode,
		ExpectedGeneration: o.ExpectedGeneration,
	})
	if err != nil {
		if d.classify(ctx, CategoryWrite, op, d.table, err, extra...) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s %s/%s: %w", op, d.table, id, err)
	}
	if pk != nil {
		e.Set(d.schema.PrimaryKey().Name(), pk)
	}
	e.Attach(rec.Key, rec.Generation)
	return e, nil
}

// resolveWriteID picks the record id. When an explicit id is given and the
// entity has no primary key value, it also returns the key value parsed from
// that id; the caller sets it once the write has succeeded.
func (d *DAO) resolveWriteID(e *schema.Entity, explicit string) (string, any, error) {
	pk := d.schema.PrimaryKey()
	if explicit == "" {
		id, err := d.schema.KeyText(e.PK())
		return id, nil, err
	}
	if e.PK() != nil {
		return explicit, nil, nil
	}
	v, err := pk.Deserialize(explicit)
	if err != nil {
		return "", nil, core.NewSchemaError(d.schema.Table(), pk.Name(), "id %q does not fit the primary key: %v", explicit, err)
	}
	return explicit, v, nil
}

// Delete removes the record behind e, preferring the composite key attached
// by an earlier read or write. It returns false when nothing was removed and
// the failure is ignorable.
func (d *DAO) Delete(ctx context.Context, e *schema.Entity) (bool, error) {
	if e == nil {
		return false, core.NewSchemaError(d.schema.Table(), "", "nil entity")
	}
	if key := e.Meta().Key; key != nil {
		return d.DeleteByKey(ctx, *key)
	}
	return d.DeleteByPrimaryKey(ctx, e.PK())
}

// DeleteByPrimaryKey removes the record with primary key pk.
func (d *DAO) DeleteByPrimaryKey(ctx context.Context, pk any) (bool, error) {
	id, err := d.schema.KeyText(pk)
	if err != nil {
		return false, err
	}
	return d.DeleteByKey(ctx, d.backend.KeyFor(d.table, id))
}

// DeleteByKey removes the record addressed by a backend-native key.
func (d *DAO) DeleteByKey(ctx context.Context, key core.Key) (bool, error) {
	if err := d.backend.Delete(ctx, key); err != nil {
		if d.classify(ctx, CategoryDelete, "delete", key.Table, err) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	return true, nil
}

// Exists reports whether a record with primary key pk is present.
func (d *DAO) Exists(ctx context.Context, pk any) (bool, error) {
	id, err := d.schema.KeyText(pk)
	if err != nil {
		return false, err
	}
	ok, err := d.backend.Exists(ctx, d.table, id)
	if err != nil {
		if d.classify(ctx, CategoryRead, "exists", d.table, err) {
			return false, nil
		}
		return false, fmt.Errorf("exists %s/%s: %w", d.table, id, err)
	}
	return ok, nil
}

// GetByPrimaryKey reads one entity. A miss yields (nil, nil).
func (d *DAO) GetByPrimaryKey(ctx context.Context, pk any, opts ...ReadOption) (*schema.Entity, error) {
	o := buildReadOptions(opts)
	table := d.tableFor(o)
	id, err := d.schema.KeyText(pk)
	if err != nil {
		return nil, err
	}
	rec, err := d.backend.Get(ctx, table, id, o.Fields)
	if err != nil {
		if d.classify(ctx, CategoryRead, "get", table, err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	return d.entityFrom(rec)
}

// GetByPrimaryKeys reads several entities in one round trip. The result maps
// each input index to its entity, or to nil on a miss.
func (d *DAO) GetByPrimaryKeys(ctx context.Context, pks []any, opts ...ReadOption) (map[int]*schema.Entity, error) {
	o := buildReadOptions(opts)
	table := d.tableFor(o)
	out := make(map[int]*schema.Entity, len(pks))
	if len(pks) == 0 {
		return out, nil
	}
	ids := make([]string, len(pks))
	for i, pk := range pks {
		id, err := d.schema.KeyText(pk)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	recs, err := d.backend.GetMany(ctx, table, ids, o.Fields)
	if err != nil {
		if d.classify(ctx, CategoryRead, "get_many", table, err) {
			for i := range pks {
				out[i] = nil
			}
			return out, nil
		}
		return nil, fmt.Errorf("get many %s: %w", table, err)
	}
	for i := range pks {
		var rec *core.Record
		if i < len(recs) {
			rec = recs[i]
		}
		if rec == nil {
			out[i] = nil
			continue
		}
		e, err := d.entityFrom(rec)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// CreateStore creates the backing store. It is idempotent.
func (d *DAO) CreateStore(ctx context.Context) error {
	if err := d.backend.CreateStore(ctx); err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	return nil
}

// CreateTable creates the table and installs the storage mapping derived from
// the schema. It is idempotent. A field kind without a storage type is a
// schema error and is never ignored.
func (d *DAO) CreateTable(ctx context.Context) error {
	mapping, err := d.schema.Mapping()
	if err != nil {
		return err
	}
	mapping.Table = d.table
	d.logger.InfoContext(ctx, "installing table mapping", slog.Int("fields", len(mapping.Fields)))
	if err := d.backend.CreateTable(ctx, d.table, mapping); err != nil {
		return fmt.Errorf("create table %s: %w", d.table, err)
	}
	return nil
}

func (d *DAO) tableFor(o ReadOptions) string {
	if o.Table != "" {
		return o.Table
	}
	return d.table
}

func (d *DAO) entityFrom(rec *core.Record) (*schema.Entity, error) {
	e, err := d.schema.Deserialize(rec.Doc)
	if err != nil {
		return nil, err
	}
	e.Attach(rec.Key, rec.Generation)
	return e, nil
}
