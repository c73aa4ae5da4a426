package kvstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/registry"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "test", 10, nil)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func gen(n int64) *int64 { return &n }

func TestRedisPutGenerations(t *testing.T) {
	store, mr := newTestRedis(t)
	ctx := context.Background()

	rec, err := store.Put(ctx, "driver", "d1", map[string]any{"name": "ana", "rating": int64(5)}, core.PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Generation)
	assert.Equal(t, core.Key{Namespace: "test", Table: "driver", ID: "d1"}, rec.Key)
	assert.True(t, mr.Exists("test:driver:d1"))

	rec, err = store.Put(ctx, "driver", "d1", map[string]any{"name": "ana", "rating": int64(4)}, core.PutOptions{ExpectedGeneration: gen(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Generation)

	_, err = store.Put(ctx, "driver", "d1", map[string]any{}, core.PutOptions{ExpectedGeneration: gen(1)})
	assert.ErrorIs(t, err, core.ErrGenerationConflict)

	_, err = store.Put(ctx, "driver", "d1", map[string]any{}, core.PutOptions{Mode: core.WriteModeCreate})
	assert.ErrorIs(t, err, core.ErrRecordExists)

	_, err = store.Put(ctx, "driver", "ghost", map[string]any{}, core.PutOptions{Mode: core.WriteModeUpdate})
	assert.ErrorIs(t, err, core.ErrRecordNotFound)

	_, err = store.Put(ctx, "driver", "ghost", map[string]any{}, core.PutOptions{ExpectedGeneration: gen(1)})
	assert.ErrorIs(t, err, core.ErrGenerationConflict)

	got, err := store.Get(ctx, "driver", "d1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Generation)
	assert.Equal(t, map[string]any{"name": "ana", "rating": int64(4)}, got.Doc)
}

func TestRedisGetProjectionAndMiss(t *testing.T) {
	store, _ := newTestRedis(t)
	ctx := context.Background()

	doc := map[string]any{
		"name":     "ana",
		"score":    1.5,
		"tags":     []any{"a", "b"},
		"location": map[string]any{"lat": 1.25, "lon": -3.5},
		"active":   true,
	}
	_, err := store.Put(ctx, "driver", "d1", doc, core.PutOptions{})
	require.NoError(t, err)

	got, err := store.Get(ctx, "driver", "d1", []string{"name", "location"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "ana", "location": map[string]any{"lat": 1.25, "lon": -3.5}}, got.Doc)

	_, err = store.Get(ctx, "driver", "missing", nil)
	assert.ErrorIs(t, err, core.ErrRecordNotFound)

	recs, err := store.GetMany(ctx, "driver", []string{"missing", "d1"}, []string{"tags"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Nil(t, recs[0])
	assert.Equal(t, map[string]any{"tags": []any{"a", "b"}}, recs[1].Doc)
}

func TestRedisDeleteExists(t *testing.T) {
	store, _ := newTestRedis(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "driver", "d1", map[string]any{"name": "ana"}, core.PutOptions{})
	require.NoError(t, err)

	ok, err := store.Exists(ctx, "driver", "d1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, store.KeyFor("driver", "d1")))
	assert.ErrorIs(t, store.Delete(ctx, store.KeyFor("driver", "d1")), core.ErrRecordNotFound)

	ok, err = store.Exists(ctx, "driver", "d1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisScanAndQuery(t *testing.T) {
	store, _ := newTestRedis(t)
	ctx := context.Background()

	for i, status := range []string{"active", "canceled", "active", "completed", "active"} {
		id := string(rune('a' + i))
		_, err := store.Put(ctx, "ride", id, map[string]any{"status": status, "seq": int64(i)}, core.PutOptions{})
		require.NoError(t, err)
	}
	_, err := store.Put(ctx, "driver", "x", map[string]any{"status": "active"}, core.PutOptions{})
	require.NoError(t, err)

	cur, err := store.Scan(ctx, "ride", nil)
	require.NoError(t, err)
	ids := drain(t, ctx, cur)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, ids)

	cur, err = store.Query(ctx, "ride", core.Equals{Fields: []string{"status"}, Values: []any{"active"}}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "c", "e"}, drain(t, ctx, cur))

	cur, err = store.Query(ctx, "ride", core.Between{Field: "seq", Lower: int64(1), Upper: int64(3)}, []string{"seq"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c", "d"}, drain(t, ctx, cur))
}

func drain(t *testing.T, ctx context.Context, cur core.Cursor) []string {
	t.Helper()
	defer cur.Close()
	var ids []string
	for cur.Next(ctx) {
		ids = append(ids, cur.Record().Key.ID)
	}
	require.NoError(t, cur.Err())
	return ids
}

func TestRedisCreateTableStoresMapping(t *testing.T) {
	store, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.CreateStore(ctx))
	mapping := core.Mapping{
		Table:      "driver",
		PrimaryKey: "id",
		Fields: []core.FieldMapping{
			{Name: "id", Type: core.StorageKeyword, Indexed: true},
			{Name: "location", Type: core.StorageGeoPoint, Indexed: true},
			{Name: "meta", Type: core.StorageObject, Dynamic: true},
		},
	}
	require.NoError(t, store.CreateTable(ctx, "driver", mapping))
	require.NoError(t, store.CreateTable(ctx, "driver", mapping))
	assert.Equal(t, "geo_point,indexed", mr.HGet("test:_mappings:driver", "location"))

	got, err := store.Mapping(ctx, "driver")
	require.NoError(t, err)
	assert.Equal(t, mapping, got)

	_, err = store.Mapping(ctx, "ride")
	assert.ErrorIs(t, err, core.ErrStoreNotFound)
}

func TestRedisClosed(t *testing.T) {
	store, _ := newTestRedis(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.Get(context.Background(), "driver", "d1", nil)
	assert.ErrorIs(t, err, core.ErrBackendFailure)
}

func TestRedisFactory(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := registry.DefaultConfig()
	cfg.Backend.Type = "redis"
	cfg.Backend.Redis.Endpoints = []string{mr.Addr()}

	f := &RedisFactory{}
	require.NoError(t, f.Validate(cfg))

	b, err := f.Create(cfg, nil)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "redis", b.Type())

	cfg.Backend.Redis.Endpoints = nil
	assert.Error(t, f.Validate(cfg))
	cfg.Backend.Redis.Endpoints = []string{mr.Addr()}
	cfg.Backend.Redis.DB = 16
	assert.Error(t, f.Validate(cfg))
}
