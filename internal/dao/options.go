package dao

import (
	"log/slog"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

// WriteOptions are the recognized options of Save, Create and SaveIfUpToDate.
type WriteOptions struct {
	// Mode selects upsert, create-only or update-only semantics.
	Mode core.WriteMode

	// ID overrides the key derived from the primary key field.
	ID string

	// ExpectedGeneration makes the write conditional on the stored generation.
	ExpectedGeneration *int64
}

// WriteOption mutates WriteOptions.
type WriteOption func(*WriteOptions)

// WithID writes under id instead of the primary key text form.
func WithID(id string) WriteOption {
	return func(o *WriteOptions) { o.ID = id }
}

// WithMode sets the write mode.
func WithMode(m core.WriteMode) WriteOption {
	return func(o *WriteOptions) { o.Mode = m }
}

// WithExpectedGeneration makes the write conditional on gen.
func WithExpectedGeneration(gen int64) WriteOption {
	return func(o *WriteOptions) { o.ExpectedGeneration = &gen }
}

// ReadOptions are the recognized options of reads, scans and searches.
type ReadOptions struct {
	// Fields restricts the returned documents. Empty means all fields.
	Fields []string

	// Table overrides the DAO's table for this call.
	Table string

	// ScanRate caps the number of records per second a sequence yields.
	// Zero means unthrottled.
	ScanRate float64
}

// ReadOption mutates ReadOptions.
type ReadOption func(*ReadOptions)

// Fields restricts the projection.
func Fields(names ...string) ReadOption {
	return func(o *ReadOptions) { o.Fields = append(o.Fields, names...) }
}

// Table reads from name instead of the schema's table.
func Table(name string) ReadOption {
	return func(o *ReadOptions) { o.Table = name }
}

// ScanRate throttles a sequence to perSecond records.
func ScanRate(perSecond float64) ReadOption {
	return func(o *ReadOptions) { o.ScanRate = perSecond }
}

// Option configures a DAO at construction.
type Option func(*DAO)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *DAO) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTable binds the DAO to a table other than the schema's.
func WithTable(name string) Option {
	return func(d *DAO) {
		if name != "" {
			d.table = name
		}
	}
}

// WithScanRate sets the default GetAll throttle in records per second.
func WithScanRate(perSecond float64) Option {
	return func(d *DAO) {
		if perSecond > 0 {
			d.scanRate = perSecond
		}
	}
}

// WithIgnore adds kinds to the ignorable set of category.
func WithIgnore(category Category, kinds ...core.ErrorKind) Option {
	return func(d *DAO) {
		for _, k := range kinds {
			d.ignore.add(category, k)
		}
	}
}

// WithPropagate removes kinds from the ignorable set of category.
func WithPropagate(category Category, kinds ...core.ErrorKind) Option {
	return func(d *DAO) {
		for _, k := range kinds {
			d.ignore.remove(category, k)
		}
	}
}

func buildWriteOptions(opts []WriteOption) WriteOptions {
	var o WriteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func buildReadOptions(opts []ReadOption) ReadOptions {
	var o ReadOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
