package dao

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/schema"
)

// GetAll streams every entity of the table. The backend cursor is released
// when the caller stops iterating.
func (d *DAO) GetAll(ctx context.Context, opts ...ReadOption) iter.Seq2[*schema.Entity, error] {
	o := buildReadOptions(opts)
	if o.ScanRate == 0 {
		o.ScanRate = d.scanRate
	}
	table := d.tableFor(o)
	return d.stream(ctx, "get_all", table, o, func() (core.Cursor, error) {
		return d.backend.Scan(ctx, table, o.Fields)
	})
}

// SearchByFieldValue streams the entities where every fields[i] equals values[i].
func (d *DAO) SearchByFieldValue(ctx context.Context, fields []string, values []any, opts ...ReadOption) iter.Seq2[*schema.Entity, error] {
	if len(fields) != len(values) {
		return failed(fmt.Errorf("search: %d fields but %d values", len(fields), len(values)))
	}
	converted := make([]any, len(values))
	for i, v := range values {
		cv, err := d.schema.SerializeValue(fields[i], v)
		if err != nil {
			return failed(err)
		}
		converted[i] = cv
	}
	return d.query(ctx, "search_by_field_value", core.Equals{Fields: fields, Values: converted}, opts)
}

// SearchByFieldRange streams the entities where field lies in [lower, upper].
// A nil bound is open.
func (d *DAO) SearchByFieldRange(ctx context.Context, field string, lower, upper any, opts ...ReadOption) iter.Seq2[*schema.Entity, error] {
	lo, err := d.schema.SerializeValue(field, lower)
	if err != nil {
		return failed(err)
	}
	hi, err := d.schema.SerializeValue(field, upper)
	if err != nil {
		return failed(err)
	}
	return d.query(ctx, "search_by_field_range", core.Between{Field: field, Lower: lo, Upper: hi}, opts)
}

// SearchInBoundingBox streams the entities whose geo point field lies inside
// the rectangle spanned by its top-left and bottom-right corners.
func (d *DAO) SearchInBoundingBox(ctx context.Context, field string, topLeft, bottomRight any, opts ...ReadOption) iter.Seq2[*schema.Entity, error] {
	f, ok := d.schema.Field(field)
	if !ok || f.Kind() != schema.KindGeoPoint {
		return failed(core.NewSchemaError(d.schema.Table(), field, "bounding box search needs a geo point field"))
	}
	tl, err := schema.ToGeoPoint(topLeft)
	if err != nil {
		return failed(fmt.Errorf("top left corner: %w", err))
	}
	br, err := schema.ToGeoPoint(bottomRight)
	if err != nil {
		return failed(fmt.Errorf("bottom right corner: %w", err))
	}
	return d.query(ctx, "search_in_bounding_box", core.GeoBox{
		Field:  field,
		MinLat: br.Lat,
		MaxLat: tl.Lat,
		MinLon: tl.Lon,
		MaxLon: br.Lon,
	}, opts)
}

func (d *DAO) query(ctx context.Context, op string, pred core.Predicate, opts []ReadOption) iter.Seq2[*schema.Entity, error] {
	if err := core.ValidatePredicate(pred); err != nil {
		return failed(fmt.Errorf("%s: %w", op, err))
	}
	o := buildReadOptions(opts)
	table := d.tableFor(o)
	return d.stream(ctx, op, table, o, func() (core.Cursor, error) {
		return d.backend.Query(ctx, table, pred, o.Fields)
	})
}

// stream opens a cursor on first iteration and converts records to entities.
func (d *DAO) stream(ctx context.Context, op, table string, o ReadOptions, open func() (core.Cursor, error)) iter.Seq2[*schema.Entity, error] {
	return func(yield func(*schema.Entity, error) bool) {
		cur, err := open()
		if err != nil {
			if !d.classify(ctx, CategoryQuery, op, table, err) {
				yield(nil, fmt.Errorf("%s %s: %w", op, table, err))
			}
			return
		}
		defer func() {
			if err := cur.Close(); err != nil {
				d.logger.WarnContext(ctx, "closing cursor", slog.String("operation", op), slog.Any("error", err))
			}
		}()

		var limiter *rate.Limiter
		if o.ScanRate > 0 {
			limiter = rate.NewLimiter(rate.Limit(o.ScanRate), 1)
		}
		for cur.Next(ctx) {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					yield(nil, err)
					return
				}
			}
			e, err := d.entityFrom(cur.Record())
			if !yield(e, err) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			if !d.classify(ctx, CategoryQuery, op, table, err) {
				yield(nil, fmt.Errorf("%s %s: %w", op, table, err))
			}
		}
	}
}

func failed(err error) iter.Seq2[*schema.Entity, error] {
	return func(yield func(*schema.Entity, error) bool) {
		yield(nil, err)
	}
}
