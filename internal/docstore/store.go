package docstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Masterminds/squirrel"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

const catalogTable = "_mappings"

// getManyChunk bounds the IN list of one GetMany statement.
const getManyChunk = 500

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store implements core.Backend on a SQL database.
type Store struct {
	db        *sql.DB
	dialect   Dialect
	namespace string
	sq        squirrel.StatementBuilderType
	logger    *slog.Logger
	closed    atomic.Bool

	mu       sync.RWMutex
	mappings map[string]core.Mapping
}

// NewStore wraps an open database. A nil logger uses slog.Default().
func NewStore(db *sql.DB, dialect Dialect, namespace string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:        db,
		dialect:   dialect,
		namespace: namespace,
		sq:        squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		logger:    logger.With(slog.String("component", "docstore"), slog.String("dialect", dialect.Name())),
		mappings:  make(map[string]core.Mapping),
	}
}

// Type implements core.Backend.
func (s *Store) Type() string { return s.dialect.Name() }

// KeyFor implements core.Backend.
func (s *Store) KeyFor(table, id string) core.Key {
	return core.Key{Namespace: s.namespace, Table: table, ID: id}
}

func (s *Store) quoteTable(op, table string) (string, error) {
	if !identPattern.MatchString(table) {
		return "", core.NewBackendError(core.KindBackendFailure, s.Type(), op, "", fmt.Errorf("invalid table name %q", table))
	}
	return s.dialect.Quote(table), nil
}

// Put implements core.Backend. The write and the generation read-back run in
// one transaction.
func (s *Store) Put(ctx context.Context, table, id string, doc map[string]any, opts core.PutOptions) (*core.Record, error) {
	if err := s.checkOpen("put"); err != nil {
		return nil, err
	}
	q, err := s.quoteTable("put", table)
	if err != nil {
		return nil, err
	}
	body, err := encodeJSON(doc)
	if err != nil {
		return nil, core.NewBackendError(core.KindBackendFailure, s.Type(), "put", "", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.fail("put", err)
	}
	defer func() { _ = tx.Rollback() }()

	gen, err := s.put(ctx, tx, q, id, body, opts)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, s.fail("put", err)
	}
	return &core.Record{Key: s.KeyFor(table, id), Generation: gen, Doc: doc}, nil
}

func (s *Store) put(ctx context.Context, tx *sql.Tx, q, id, body string, opts core.PutOptions) (int64, error) {
	switch {
	case opts.Mode == core.WriteModeCreate:
		if opts.ExpectedGeneration != nil {
			// A record that does not exist yet has no generation to match.
			_, found, err := s.selectGen(ctx, tx, q, id)
			if err != nil {
				return 0, err
			}
			if found {
				return 0, core.NewBackendError(core.KindRecordExists, s.Type(), "put", "", nil)
			}
			return 0, core.NewBackendError(core.KindGenerationConflict, s.Type(), "put", "", nil)
		}
		if err := s.exec(ctx, tx, "put", s.sq.Insert(q).Columns("id", "gen", "doc").Values(id, 1, body)); err != nil {
			return 0, err
		}
		return 1, nil

	case opts.ExpectedGeneration != nil:
		expected := *opts.ExpectedGeneration
		n, err := s.execCount(ctx, tx, "put", s.sq.Update(q).
			Set("doc", body).
			Set("gen", squirrel.Expr("gen + 1")).
			Where(squirrel.Eq{"id": id}).
			Where(squirrel.Eq{"gen": expected}))
		if err != nil {
			return 0, err
		}
		if n == 0 {
			_, found, err := s.selectGen(ctx, tx, q, id)
			if err != nil {
				return 0, err
			}
			if !found && opts.Mode == core.WriteModeUpdate {
				return 0, core.NewBackendError(core.KindRecordNotFound, s.Type(), "put", "", nil)
			}
			return 0, core.NewBackendError(core.KindGenerationConflict, s.Type(), "put", "", nil)
		}
		return expected + 1, nil

	case opts.Mode == core.WriteModeUpdate:
		n, err := s.execCount(ctx, tx, "put", s.sq.Update(q).
			Set("doc", body).
			Set("gen", squirrel.Expr("gen + 1")).
			Where(squirrel.Eq{"id": id}))
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, core.NewBackendError(core.KindRecordNotFound, s.Type(), "put", "", nil)
		}

	default:
		upsert := s.sq.Insert(q).Columns("id", "gen", "doc").Values(id, 1, body).Suffix(s.dialect.UpsertSuffix(q))
		if err := s.exec(ctx, tx, "put", upsert); err != nil {
			return 0, err
		}
	}

	gen, found, err := s.selectGen(ctx, tx, q, id)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, core.NewBackendError(core.KindBackendFailure, s.Type(), "put", "", fmt.Errorf("record %s vanished after write", id))
	}
	return gen, nil
}

func (s *Store) selectGen(ctx context.Context, tx *sql.Tx, q, id string) (int64, bool, error) {
	query, args, err := s.sq.Select("gen").From(q).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return 0, false, s.fail("put", err)
	}
	var gen int64
	err = tx.QueryRowContext(ctx, query, args...).Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, s.fail("put", err)
	}
	return gen, true, nil
}

func (s *Store) exec(ctx context.Context, tx *sql.Tx, op string, b squirrel.Sqlizer) error {
	_, err := s.execCount(ctx, tx, op, b)
	return err
}

func (s *Store) execCount(ctx context.Context, tx *sql.Tx, op string, b squirrel.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, s.fail(op, err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, s.fail(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, s.fail(op, err)
	}
	return n, nil
}

// Get implements core.Backend.
func (s *Store) Get(ctx context.Context, table, id string, fields []string) (*core.Record, error) {
	if err := s.checkOpen("get"); err != nil {
		return nil, err
	}
	q, err := s.quoteTable("get", table)
	if err != nil {
		return nil, err
	}
	query, args, err := s.sq.Select("id", "gen", "doc").From(q).Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, s.fail("get", err)
	}
	var (
		rid  string
		gen  int64
		body []byte
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&rid, &gen, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewBackendError(core.KindRecordNotFound, s.Type(), "get", "", nil)
	}
	if err != nil {
		return nil, s.fail("get", err)
	}
	doc, err := decodeJSON(body)
	if err != nil {
		return nil, core.NewBackendError(core.KindBackendFailure, s.Type(), "get", "", err)
	}
	return &core.Record{Key: s.KeyFor(table, rid), Generation: gen, Doc: core.Project(doc, fields)}, nil
}

// GetMany implements core.Backend with one IN query per chunk of ids.
func (s *Store) GetMany(ctx context.Context, table string, ids []string, fields []string) ([]*core.Record, error) {
	if err := s.checkOpen("get_many"); err != nil {
		return nil, err
	}
	q, err := s.quoteTable("get_many", table)
	if err != nil {
		return nil, err
	}
	found := make(map[string]*core.Record, len(ids))
	for start := 0; start < len(ids); start += getManyChunk {
		chunk := ids[start:min(start+getManyChunk, len(ids))]
		query, args, err := s.sq.Select("id", "gen", "doc").From(q).Where(squirrel.Eq{"id": chunk}).ToSql()
		if err != nil {
			return nil, s.fail("get_many", err)
		}
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, s.fail("get_many", err)
		}
		for rows.Next() {
			rec, err := s.scanRecord(table, rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			found[rec.Key.ID] = rec
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, s.fail("get_many", err)
		}
	}

	recs := make([]*core.Record, len(ids))
	for i, id := range ids {
		if rec, ok := found[id]; ok {
			cp := *rec
			cp.Doc = core.Project(rec.Doc, fields)
			recs[i] = &cp
		}
	}
	return recs, nil
}

func (s *Store) scanRecord(table string, rows *sql.Rows) (*core.Record, error) {
	var (
		id   string
		gen  int64
		body []byte
	)
	if err := rows.Scan(&id, &gen, &body); err != nil {
		return nil, s.fail("scan", err)
	}
	doc, err := decodeJSON(body)
	if err != nil {
		return nil, core.NewBackendError(core.KindBackendFailure, s.Type(), "scan", "", fmt.Errorf("record %s: %w", id, err))
	}
	return &core.Record{Key: s.KeyFor(table, id), Generation: gen, Doc: doc}, nil
}

// Delete implements core.Backend.
func (s *Store) Delete(ctx context.Context, key core.Key) error {
	if err := s.checkOpen("delete"); err != nil {
		return err
	}
	q, err := s.quoteTable("delete", key.Table)
	if err != nil {
		return err
	}
	query, args, err := s.sq.Delete(q).Where(squirrel.Eq{"id": key.ID}).ToSql()
	if err != nil {
		return s.fail("delete", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return s.fail("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.fail("delete", err)
	}
	if n == 0 {
		return core.NewBackendError(core.KindRecordNotFound, s.Type(), "delete", "", nil)
	}
	return nil
}

// Exists implements core.Backend.
func (s *Store) Exists(ctx context.Context, table, id string) (bool, error) {
	if err := s.checkOpen("exists"); err != nil {
		return false, err
	}
	q, err := s.quoteTable("exists", table)
	if err != nil {
		return false, err
	}
	query, args, err := s.sq.Select("1").From(q).Where(squirrel.Eq{"id": id}).Limit(1).ToSql()
	if err != nil {
		return false, s.fail("exists", err)
	}
	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, s.fail("exists", err)
	}
	return true, nil
}

// CreateStore creates the mapping catalog. It is idempotent.
func (s *Store) CreateStore(ctx context.Context) error {
	if err := s.checkOpen("create_store"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.CatalogDDL(s.dialect.Quote(catalogTable))); err != nil {
		return s.fail("create_store", err)
	}
	return nil
}

// CreateTable creates the document table, replaces its catalog entries and
// builds an expression index per indexed field where the dialect supports it.
func (s *Store) CreateTable(ctx context.Context, table string, mapping core.Mapping) error {
	if err := s.checkOpen("create_table"); err != nil {
		return err
	}
	q, err := s.quoteTable("create_table", table)
	if err != nil {
		return err
	}
	if err := s.CreateStore(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.DocTableDDL(q)); err != nil {
		return s.fail("create_table", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("create_table", err)
	}
	defer func() { _ = tx.Rollback() }()

	cat := s.dialect.Quote(catalogTable)
	if err := s.exec(ctx, tx, "create_table", s.sq.Delete(cat).Where(squirrel.Eq{"tbl": table})); err != nil {
		return err
	}
	if len(mapping.Fields) > 0 {
		insert := s.sq.Insert(cat).Columns("tbl", "field", "type", "indexed", "pk")
		for _, f := range mapping.Fields {
			insert = insert.Values(table, f.Name, string(f.Type), f.Indexed, f.Name == mapping.PrimaryKey)
		}
		if err := s.exec(ctx, tx, "create_table", insert); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return s.fail("create_table", err)
	}

	for _, f := range mapping.Fields {
		if !f.Indexed || !identPattern.MatchString(f.Name) {
			continue
		}
		path := "$." + f.Name
		if f.Type == core.StorageGeoPoint {
			path += ".lat"
		}
		ddl := s.dialect.IndexDDL(q, "idx_"+table+"_"+f.Name, path)
		if ddl == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return s.fail("create_table", err)
		}
	}

	mapping.Table = table
	s.mu.Lock()
	s.mappings[table] = mapping
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "installed mapping", slog.String("table", table), slog.Int("fields", len(mapping.Fields)))
	return nil
}

// Mapping returns the installed mapping of table, reading the catalog on a
// cache miss.
func (s *Store) Mapping(ctx context.Context, table string) (core.Mapping, error) {
	s.mu.RLock()
	m, ok := s.mappings[table]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}

	query, args, err := s.sq.Select("field", "type", "indexed", "pk").
		From(s.dialect.Quote(catalogTable)).
		Where(squirrel.Eq{"tbl": table}).
		OrderBy("field").
		ToSql()
	if err != nil {
		return core.Mapping{}, s.fail("mapping", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return core.Mapping{}, s.fail("mapping", err)
	}
	defer rows.Close()

	m = core.Mapping{Table: table}
	for rows.Next() {
		var (
			f           core.FieldMapping
			typ         string
			indexed, pk bool
		)
		if err := rows.Scan(&f.Name, &typ, &indexed, &pk); err != nil {
			return core.Mapping{}, s.fail("mapping", err)
		}
		f.Type = core.StorageType(typ)
		f.Indexed = indexed
		f.Dynamic = f.Type == core.StorageObject
		if pk {
			m.PrimaryKey = f.Name
		}
		m.Fields = append(m.Fields, f)
	}
	if err := rows.Err(); err != nil {
		return core.Mapping{}, s.fail("mapping", err)
	}
	if len(m.Fields) == 0 {
		return core.Mapping{}, core.NewBackendError(core.KindStoreNotFound, s.Type(), "mapping", "", fmt.Errorf("no mapping for %s", table))
	}

	s.mu.Lock()
	s.mappings[table] = m
	s.mu.Unlock()
	return m, nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) checkOpen(op string) error {
	if s.closed.Load() {
		return core.NewBackendError(core.KindBackendFailure, s.Type(), op, "", errors.New("store is closed"))
	}
	return nil
}

func (s *Store) fail(op string, err error) error {
	kind, code := s.dialect.Classify(err)
	return core.NewBackendError(kind, s.Type(), op, code, err)
}

func encodeJSON(doc map[string]any) (string, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	b, err := json.Marshal(markFloats(doc))
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	return string(b), nil
}

// markFloats copies v with every integral float written as "N.0", so that
// decodeJSON reads it back as a float64 rather than an int64.
func markFloats(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = markFloats(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = markFloats(inner)
		}
		return out
	case float32:
		if f := float64(t); f == math.Trunc(f) && !math.IsInf(f, 0) {
			return markFloats(f)
		}
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return json.Number(strconv.FormatFloat(t, 'f', -1, 64) + ".0")
		}
	}
	return v
}

// decodeJSON keeps integers exact by decoding numbers as json.Number first.
func decodeJSON(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	core.NormalizeNumbers(doc)
	return doc, nil
}
