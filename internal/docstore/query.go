package docstore

import (
	"context"

	"github.com/Masterminds/squirrel"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

// pageSize is the number of rows a cursor reads per round trip.
const pageSize = 200

// Scan implements core.Backend.
func (s *Store) Scan(ctx context.Context, table string, fields []string) (core.Cursor, error) {
	return s.Query(ctx, table, nil, fields)
}

// Query implements core.Backend. Conditions on scalar mapped fields are
// pushed into the WHERE clause; every row is still checked with core.Match so
// the result does not depend on the dialect's JSON comparison rules.
func (s *Store) Query(ctx context.Context, table string, pred core.Predicate, fields []string) (core.Cursor, error) {
	if err := s.checkOpen("query"); err != nil {
		return nil, err
	}
	q, err := s.quoteTable("query", table)
	if err != nil {
		return nil, err
	}

	var where squirrel.And
	if pred != nil {
		mapping, err := s.Mapping(ctx, table)
		if err != nil {
			if kind, _ := core.KindOf(err); kind != core.KindStoreNotFound {
				return nil, err
			}
		}
		where = s.pushdown(pred, mapping)
	}

	return &rowCursor{
		store:  s,
		table:  table,
		quoted: q,
		where:  where,
		pred:   pred,
		fields: fields,
	}, nil
}

func (s *Store) pushdown(pred core.Predicate, mapping core.Mapping) squirrel.And {
	var and squirrel.And
	switch p := pred.(type) {
	case core.Equals:
		for i, f := range p.Fields {
			if !s.scalarField(mapping, f) || !sqlValue(p.Values[i]) {
				continue
			}
			and = append(and, squirrel.Expr(s.dialect.Extract("$."+f)+" = ?", p.Values[i]))
		}
	case core.Between:
		if !s.scalarField(mapping, p.Field) {
			break
		}
		expr := s.dialect.Extract("$." + p.Field)
		if p.Lower != nil && sqlValue(p.Lower) {
			and = append(and, squirrel.Expr(expr+" >= ?", p.Lower))
		}
		if p.Upper != nil && sqlValue(p.Upper) {
			and = append(and, squirrel.Expr(expr+" <= ?", p.Upper))
		}
	case core.GeoBox:
		f, ok := mapping.Field(p.Field)
		if !ok || f.Type != core.StorageGeoPoint || !identPattern.MatchString(p.Field) {
			break
		}
		and = append(and,
			squirrel.Expr(s.dialect.Extract("$."+p.Field+".lat")+" BETWEEN ? AND ?", p.MinLat, p.MaxLat),
			squirrel.Expr(s.dialect.Extract("$."+p.Field+".lon")+" BETWEEN ? AND ?", p.MinLon, p.MaxLon),
		)
	}
	return and
}

func (s *Store) scalarField(mapping core.Mapping, name string) bool {
	if !identPattern.MatchString(name) {
		return false
	}
	f, ok := mapping.Field(name)
	if !ok {
		return false
	}
	switch f.Type {
	case core.StorageKeyword, core.StorageInteger, core.StorageFloat, core.StorageDate:
		return true
	}
	return false
}

func sqlValue(v any) bool {
	switch v.(type) {
	case string, int64, float64:
		return true
	}
	_, ok := core.AsInt64(v)
	return ok
}

// rowCursor pages through a table in id order. Each page is a separate
// statement so no connection is held between calls to Next.
type rowCursor struct {
	store  *Store
	table  string
	quoted string
	where  squirrel.And
	pred   core.Predicate
	fields []string

	after  string
	done   bool
	closed bool
	buf    []*core.Record
	cur    *core.Record
	err    error
}

func (c *rowCursor) Next(ctx context.Context) bool {
	for len(c.buf) == 0 {
		if c.closed || c.done || c.err != nil {
			c.cur = nil
			return false
		}
		if err := c.fetch(ctx); err != nil {
			c.err = err
			c.cur = nil
			return false
		}
	}
	c.cur = c.buf[0]
	c.buf = c.buf[1:]
	return true
}

func (c *rowCursor) fetch(ctx context.Context) error {
	b := c.store.sq.Select("id", "gen", "doc").From(c.quoted).OrderBy("id").Limit(pageSize)
	if len(c.where) > 0 {
		b = b.Where(c.where)
	}
	if c.after != "" {
		b = b.Where(squirrel.Gt{"id": c.after})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return c.store.fail("scan", err)
	}
	rows, err := c.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return c.store.fail("scan", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
		rec, err := c.store.scanRecord(c.table, rows)
		if err != nil {
			return err
		}
		c.after = rec.Key.ID
		if c.pred != nil && !core.Match(c.pred, rec.Doc) {
			continue
		}
		rec.Doc = core.Project(rec.Doc, c.fields)
		c.buf = append(c.buf, rec)
	}
	if err := rows.Err(); err != nil {
		return c.store.fail("scan", err)
	}
	if n < pageSize {
		c.done = true
	}
	return nil
}

func (c *rowCursor) Record() *core.Record { return c.cur }

func (c *rowCursor) Err() error { return c.err }

func (c *rowCursor) Close() error {
	c.closed = true
	c.buf = nil
	return nil
}
