package entitydao

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/dispatch"
	"github.com/rzpsarthak13/entity-dao/internal/docstore"
	"github.com/rzpsarthak13/entity-dao/internal/schema"
)

var rideSchema = schema.MustNew("ride",
	schema.String("id").PrimaryKey(),
	schema.String("status").Indexed(),
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sqliteConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Backend.SQL.Path = filepath.Join(t.TempDir(), "entity.db")
	return cfg
}

func TestOpenInstallAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)
	cfg.Tables["ride"] = TableConfig{
		Name:     "ride_v2",
		ScanRate: 1000,
		Ignore:   map[string][]string{"write": {"record_exists"}},
	}

	ds, err := Open(cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer ds.Close()
	assert.Equal(t, "sqlite", ds.Backend().Type())

	rides, err := ds.NewDAO(rideSchema)
	require.NoError(t, err)
	assert.Equal(t, "ride_v2", rides.Table())

	require.NoError(t, ds.Install(ctx))
	require.NoError(t, ds.Install(ctx))
	meta, err := ds.Tables().GetMetadata("ride")
	require.NoError(t, err)
	assert.True(t, meta.Installed)
	assert.Equal(t, "ride_v2", meta.StorageTable)

	saved, err := rides.Save(ctx, rideSchema.Entity(map[string]any{"id": "r1", "status": "active"}))
	require.NoError(t, err)
	require.NotNil(t, saved)

	// record_exists is ignorable for writes on this table.
	dup, err := rides.Create(ctx, rideSchema.Entity(map[string]any{"id": "r1", "status": "active"}))
	require.NoError(t, err)
	assert.Nil(t, dup)

	got, err := rides.GetByPrimaryKey(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "active", got.Get("status"))

	require.NoError(t, ds.Dispatcher().Dispatch(ctx, &core.Message{Topic: "noop"}))

	require.NoError(t, ds.Close())
	require.NoError(t, ds.Close())
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend.Type = "cassandra" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"missing sqlite path", func(c *Config) { c.Backend.SQL.Path = "" }},
		{"unknown ignore kind", func(c *Config) {
			c.Tables["ride"] = TableConfig{Ignore: map[string][]string{"read": {"gone_fishing"}}}
		}},
		{"unknown ignore category", func(c *Config) {
			c.Tables["ride"] = TableConfig{Ignore: map[string][]string{"audit": {"record_exists"}}}
		}},
		{"kafka without topic", func(c *Config) {
			c.Dispatch.Type = "kafka"
			c.Dispatch.Kafka.Topic = ""
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sqliteConfig(t)
			tt.mutate(cfg)
			_, err := Open(cfg, WithLogger(quietLogger()))
			assert.Error(t, err)
		})
	}
}

func TestOpenWithInjectedCollaborators(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "injected.db"))
	require.NoError(t, err)
	store := docstore.NewStore(db, docstore.SQLite, "test", nil)
	queue := dispatch.NewMemoryQueue(1)

	ds, err := Open(nil, WithLogger(quietLogger()), WithBackend(store), WithDispatcher(queue))
	require.NoError(t, err)
	assert.Same(t, store, ds.Backend())
	assert.Same(t, queue, ds.Dispatcher())
	assert.Equal(t, "entity", ds.Config().Namespace)

	require.NoError(t, ds.Register(rideSchema))
	require.NoError(t, ds.Install(ctx))
	assert.Equal(t, []string{"ride"}, ds.Tables().List())

	out, err := ds.ConfigYAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "namespace: entity")

	require.NoError(t, ds.Close())
	_, err = store.Exists(ctx, "ride", "r1")
	assert.Error(t, err)
	assert.ErrorIs(t, queue.Dispatch(ctx, &core.Message{Topic: "noop"}), dispatch.ErrClosed)
}

func TestReloadTables(t *testing.T) {
	ds, err := Open(sqliteConfig(t), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer ds.Close()

	before, err := ds.NewDAO(rideSchema)
	require.NoError(t, err)
	assert.Equal(t, "ride", before.Table())
	backend := ds.Config().Backend

	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  sql:
    path: /tmp/elsewhere.db
tables:
  ride:
    name: ride_v3
    scan_rate: 5
`), 0o600))
	require.NoError(t, ds.ReloadTables(path))

	meta, err := ds.Tables().GetMetadata("ride")
	require.NoError(t, err)
	assert.Equal(t, "ride_v3", meta.StorageTable)
	assert.Equal(t, 5.0, meta.Config.ScanRate)
	assert.Equal(t, backend, ds.Config().Backend)

	after, err := ds.NewDAO(rideSchema)
	require.NoError(t, err)
	assert.Equal(t, "ride_v3", after.Table())
	assert.Equal(t, "ride", before.Table())

	require.NoError(t, os.WriteFile(path, []byte(`
tables:
  ride:
    ignore:
      read: [gone_fishing]
`), 0o600))
	assert.Error(t, ds.ReloadTables(path))
	assert.Equal(t, "ride_v3", ds.Config().Tables["ride"].Name)

	assert.Error(t, ds.ReloadTables(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestNewDAORequiresSchema(t *testing.T) {
	ds, err := Open(sqliteConfig(t), WithLogger(quietLogger()))
	require.NoError(t, err)
	defer ds.Close()

	_, err = ds.NewDAO(nil)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("warn", "json", &buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("table", "ride"))
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"table":"ride"`)

	buf.Reset()
	logger, err = NewLogger("debug", "text", &buf)
	require.NoError(t, err)
	logger.Debug("details")
	assert.Contains(t, buf.String(), "msg=details")

	_, err = NewLogger("loud", "json", &buf)
	assert.Error(t, err)
	_, err = NewLogger("info", "xml", &buf)
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Namespace, cfg.Namespace)

	path := filepath.Join(t.TempDir(), "entity-dao.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
namespace: rides
backend:
  type: sqlite
  sql:
    path: /tmp/rides.db
tables:
  ride_request:
    scan_rate: 250
`), 0o600))
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "rides", cfg.Namespace)
	assert.Equal(t, "/tmp/rides.db", cfg.Backend.SQL.Path)
	assert.Equal(t, 250.0, cfg.Tables["ride_request"].ScanRate)
}
