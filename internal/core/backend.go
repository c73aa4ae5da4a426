package core

import (
	"context"
	"fmt"
)

// Key is the backend-native composite address of a record.
type Key struct {
	Namespace string
	Table     string
	ID        string
}

// String renders the key as {namespace}:{table}:{id}.
func (k Key) String() string {
	if k.Namespace == "" {
		return fmt.Sprintf("%s:%s", k.Table, k.ID)
	}
	return fmt.Sprintf("%s:%s:%s", k.Namespace, k.Table, k.ID)
}

// Record is a stored document together with its backend metadata.
type Record struct {
	Key        Key
	Generation int64
	Doc        map[string]any
}

// WriteMode constrains whether a write may create or replace a record.
type WriteMode int

const (
	// WriteModeUpsert creates the record or replaces an existing one.
	WriteModeUpsert WriteMode = iota

	// WriteModeCreate fails with KindRecordExists if the record exists.
	WriteModeCreate

	// WriteModeUpdate fails with KindRecordNotFound if the record is missing.
	WriteModeUpdate
)

// String returns the mode name.
func (m WriteMode) String() string {
	switch m {
	case WriteModeCreate:
		return "create"
	case WriteModeUpdate:
		return "update"
	default:
		return "upsert"
	}
}

// PutOptions carries the per-write policy handed to a backend.
type PutOptions struct {
	Mode WriteMode

	// ExpectedGeneration, when non-nil, makes the write conditional on the
	// stored generation being equal. A missing record never matches.
	ExpectedGeneration *int64
}

// Cursor is a single-pass stream of records. Close must release any
// backend-side resources and is safe to call more than once.
type Cursor interface {
	Next(ctx context.Context) bool
	Record() *Record
	Err() error
	Close() error
}

// Backend is the capability set every storage engine adapter provides.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Type returns the registered adapter type, e.g. "sqlite" or "redis".
	Type() string

	// Put writes doc under table/id and returns the stored key and new generation.
	Put(ctx context.Context, table, id string, doc map[string]any, opts PutOptions) (*Record, error)

	// Get reads one record. A miss is a KindRecordNotFound error.
	// A non-empty fields list restricts the returned document.
	Get(ctx context.Context, table, id string, fields []string) (*Record, error)

	// GetMany reads several records; the result is index-aligned with ids and
	// holds nil for every miss.
	GetMany(ctx context.Context, table string, ids []string, fields []string) ([]*Record, error)

	// Delete removes one record. A miss is a KindRecordNotFound error.
	Delete(ctx context.Context, key Key) error

	// Exists reports whether a record is present.
	Exists(ctx context.Context, table, id string) (bool, error)

	// Scan streams every record of table.
	Scan(ctx context.Context, table string, fields []string) (Cursor, error)

	// Query streams the records of table that satisfy pred.
	Query(ctx context.Context, table string, pred Predicate, fields []string) (Cursor, error)

	// KeyFor returns the composite key the adapter uses for table/id.
	KeyFor(table, id string) Key

	// CreateStore creates the backing store if absent.
	CreateStore(ctx context.Context) error

	// CreateTable creates table if absent and installs mapping.
	CreateTable(ctx context.Context, table string, mapping Mapping) error

	// Close releases the connection.
	Close() error
}

// Project returns a copy of doc restricted to fields. An empty field list
// returns doc unchanged.
func Project(doc map[string]any, fields []string) map[string]any {
	if len(fields) == 0 || doc == nil {
		return doc
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

// SliceCursor is a Cursor over records already in memory.
type SliceCursor struct {
	records []*Record
	pos     int
	cur     *Record
}

// NewSliceCursor wraps records in a Cursor.
func NewSliceCursor(records []*Record) *SliceCursor {
	return &SliceCursor{records: records}
}

// Next advances the cursor.
func (c *SliceCursor) Next(ctx context.Context) bool {
	if c.pos >= len(c.records) || ctx.Err() != nil {
		c.cur = nil
		return false
	}
	c.cur = c.records[c.pos]
	c.pos++
	return true
}

// Record returns the current record.
func (c *SliceCursor) Record() *Record { return c.cur }

// Err always returns nil.
func (c *SliceCursor) Err() error { return nil }

// Close drops the remaining records.
func (c *SliceCursor) Close() error {
	c.records = nil
	return nil
}
