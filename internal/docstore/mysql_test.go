package docstore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/registry"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mk, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, MySQL, "test", nil), mk
}

func escape(query string) string {
	return regexp.QuoteMeta(query)
}

func TestMySQLUpsert(t *testing.T) {
	store, mk := newMockStore(t)

	mk.ExpectBegin()
	mk.ExpectExec(escape("INSERT INTO `ride` (id,gen,doc) VALUES (?,?,?) ON DUPLICATE KEY UPDATE doc = VALUES(doc), gen = gen + 1")).
		WithArgs("r1", int64(1), `{"status":"active"}`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mk.ExpectQuery(escape("SELECT gen FROM `ride` WHERE id = ?")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"gen"}).AddRow(int64(7)))
	mk.ExpectCommit()

	rec, err := store.Put(context.Background(), "ride", "r1", map[string]any{"status": "active"}, core.PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.Generation)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestMySQLConditionalUpdate(t *testing.T) {
	store, mk := newMockStore(t)

	mk.ExpectBegin()
	mk.ExpectExec(escape("UPDATE `ride` SET doc = ?, gen = gen + 1 WHERE id = ? AND gen = ?")).
		WithArgs(`{}`, "r1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mk.ExpectQuery(escape("SELECT gen FROM `ride` WHERE id = ?")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"gen"}).AddRow(int64(4)))
	mk.ExpectRollback()

	_, err := store.Put(context.Background(), "ride", "r1", map[string]any{}, core.PutOptions{ExpectedGeneration: gen(3)})
	assert.ErrorIs(t, err, core.ErrGenerationConflict)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestMySQLErrorClassification(t *testing.T) {
	store, mk := newMockStore(t)
	ctx := context.Background()

	mk.ExpectBegin()
	mk.ExpectExec(escape("INSERT INTO `ride`")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'r1' for key 'PRIMARY'"})
	mk.ExpectRollback()

	_, err := store.Put(ctx, "ride", "r1", map[string]any{}, core.PutOptions{Mode: core.WriteModeCreate})
	assert.ErrorIs(t, err, core.ErrRecordExists)

	mk.ExpectQuery(escape("SELECT id, gen, doc FROM `ride` WHERE id = ?")).
		WithArgs("r1").
		WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table 'entity.ride' doesn't exist"})

	_, err = store.Get(ctx, "ride", "r1", nil)
	assert.ErrorIs(t, err, core.ErrStoreNotFound)
	var be *core.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "1146", be.Code)
	assert.Equal(t, "mysql", be.Backend)

	mk.ExpectExec(escape("DELETE FROM `ride` WHERE id = ?")).
		WithArgs("r1").
		WillReturnError(&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"})

	err = store.Delete(ctx, store.KeyFor("ride", "r1"))
	assert.ErrorIs(t, err, core.ErrBackendFailure)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestMySQLQueryPushdown(t *testing.T) {
	store, mk := newMockStore(t)
	ctx := context.Background()

	mk.ExpectQuery(escape("SELECT field, type, indexed, pk FROM `_mappings` WHERE tbl = ? ORDER BY field")).
		WithArgs("ride").
		WillReturnRows(sqlmock.NewRows([]string{"field", "type", "indexed", "pk"}).
			AddRow("id", "keyword", false, true).
			AddRow("pickup", "geo_point", true, false).
			AddRow("status", "keyword", true, false).
			AddRow("tags", "object", false, false))

	mk.ExpectQuery(escape("SELECT id, gen, doc FROM `ride` WHERE (JSON_EXTRACT(doc, '$.status') = ?) ORDER BY id LIMIT 200")).
		WithArgs("active").
		WillReturnRows(sqlmock.NewRows([]string{"id", "gen", "doc"}).
			AddRow("r1", int64(1), []byte(`{"status":"active","tags":["x"]}`)).
			AddRow("r2", int64(2), []byte(`{"status":"active","tags":["y"]}`)).
			AddRow("r3", int64(1), []byte(`{"status":"canceled","tags":["x"]}`)))

	pred := core.Equals{Fields: []string{"status", "tags"}, Values: []any{"active", "x"}}
	cur, err := store.Query(ctx, "ride", pred, []string{"status"})
	require.NoError(t, err)

	// tags is an object field so only status reaches SQL; the rest is matched in memory.
	require.True(t, cur.Next(ctx))
	assert.Equal(t, "r1", cur.Record().Key.ID)
	assert.Equal(t, map[string]any{"status": "active"}, cur.Record().Doc)
	assert.False(t, cur.Next(ctx))
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close())

	// The mapping is cached after the first lookup.
	mk.ExpectQuery(escape("JSON_EXTRACT(doc, '$.pickup.lat') BETWEEN ? AND ?")).
		WithArgs(1.0, 2.0, -4.0, -3.0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "gen", "doc"}))

	cur, err = store.Query(ctx, "ride", core.GeoBox{Field: "pickup", MinLat: 1, MaxLat: 2, MinLon: -4, MaxLon: -3}, nil)
	require.NoError(t, err)
	assert.False(t, cur.Next(ctx))
	require.NoError(t, cur.Err())
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestMySQLCreateTable(t *testing.T) {
	store, mk := newMockStore(t)

	mk.ExpectExec(escape("CREATE TABLE IF NOT EXISTS `_mappings`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mk.ExpectExec(escape("CREATE TABLE IF NOT EXISTS `ride` (id VARCHAR(255) NOT NULL PRIMARY KEY, gen BIGINT NOT NULL, doc JSON NOT NULL)")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mk.ExpectBegin()
	mk.ExpectExec(escape("DELETE FROM `_mappings` WHERE tbl = ?")).WithArgs("ride").WillReturnResult(sqlmock.NewResult(0, 0))
	mk.ExpectExec(escape("INSERT INTO `_mappings` (tbl,field,type,indexed,pk) VALUES (?,?,?,?,?),(?,?,?,?,?)")).
		WithArgs("ride", "id", "keyword", false, true, "ride", "status", "keyword", true, false).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mk.ExpectCommit()

	mapping := core.Mapping{
		PrimaryKey: "id",
		Fields: []core.FieldMapping{
			{Name: "id", Type: core.StorageKeyword},
			{Name: "status", Type: core.StorageKeyword, Indexed: true},
		},
	}
	require.NoError(t, store.CreateTable(context.Background(), "ride", mapping))
	require.NoError(t, mk.ExpectationsWereMet())

	m, err := store.Mapping(context.Background(), "ride")
	require.NoError(t, err)
	assert.Equal(t, "ride", m.Table)
}

func TestMySQLFactoryValidate(t *testing.T) {
	f := &MySQLFactory{}
	cfg := registry.DefaultConfig()
	cfg.Backend.Type = "mysql"
	cfg.Backend.SQL.Database = "entity"
	cfg.Backend.SQL.Username = "root"
	require.NoError(t, f.Validate(cfg))

	tests := []struct {
		name   string
		mutate func(c *registry.InternalConfig)
	}{
		{"missing host", func(c *registry.InternalConfig) { c.Backend.SQL.Host = "" }},
		{"bad port", func(c *registry.InternalConfig) { c.Backend.SQL.Port = 0 }},
		{"missing database", func(c *registry.InternalConfig) { c.Backend.SQL.Database = "" }},
		{"missing username", func(c *registry.InternalConfig) { c.Backend.SQL.Username = "" }},
		{"idle above open", func(c *registry.InternalConfig) { c.Backend.SQL.MaxIdleConns = 100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := registry.DefaultConfig()
			c.Backend.SQL.Database = "entity"
			c.Backend.SQL.Username = "root"
			tt.mutate(c)
			assert.Error(t, f.Validate(c))
		})
	}
}

func TestMySQLDSN(t *testing.T) {
	bc := registry.DefaultConfig().Backend
	bc.SQL.Username = "app"
	bc.SQL.Password = "secret"
	bc.SQL.Database = "entity"
	dsn := mysqlDSN(bc)

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "app", cfg.User)
	assert.Equal(t, "localhost:3306", cfg.Addr)
	assert.Equal(t, "entity", cfg.DBName)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, bc.DialTimeout, cfg.Timeout)
}
