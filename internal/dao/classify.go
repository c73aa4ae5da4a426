package dao

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

// Category groups DAO operations for error classification.
type Category string

const (
	CategoryQuery  Category = "query"
	CategoryRead   Category = "read"
	CategoryWrite  Category = "write"
	CategoryDelete Category = "delete"
)

// classification maps a category to the backend error kinds that are logged
// and turned into an absence result instead of being returned.
type classification map[Category]map[core.ErrorKind]struct{}

func defaultClassification() classification {
	return classification{
		CategoryQuery:  {},
		CategoryRead:   {core.KindRecordNotFound: {}},
		CategoryWrite:  {},
		CategoryDelete: {core.KindRecordNotFound: {}},
	}
}

func (c classification) add(cat Category, kind core.ErrorKind) {
	if c[cat] == nil {
		c[cat] = make(map[core.ErrorKind]struct{})
	}
	c[cat][kind] = struct{}{}
}

func (c classification) remove(cat Category, kind core.ErrorKind) {
	delete(c[cat], kind)
}

func (c classification) ignores(cat Category, kind core.ErrorKind) bool {
	_, ok := c[cat][kind]
	return ok
}

// classify reports whether err is ignorable for cat, logging it if so.
// Only backend errors are ever ignorable; validation and schema errors always
// propagate. extra widens the ignorable set for a single call.
func (d *DAO) classify(ctx context.Context, cat Category, op, table string, err error, extra ...core.ErrorKind) bool {
	var be *core.BackendError
	if !errors.As(err, &be) {
		return false
	}
	ignored := d.ignore.ignores(cat, be.Kind)
	for _, k := range extra {
		if k == be.Kind {
			ignored = true
		}
	}
	if !ignored {
		return false
	}
	d.logger.LogAttrs(ctx, slog.LevelWarn, "ignored backend error",
		slog.String("operation", op),
		slog.String("table", table),
		slog.String("kind", be.Kind.String()),
		slog.String("code", be.Code),
		slog.String("error", err.Error()),
	)
	return true
}
