package dao_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/dao"
	"github.com/rzpsarthak13/entity-dao/internal/schema"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Type() string { return "mock" }

func (m *mockBackend) Put(ctx context.Context, table, id string, doc map[string]any, opts core.PutOptions) (*core.Record, error) {
	args := m.Called(ctx, table, id, doc, opts)
	rec, _ := args.Get(0).(*core.Record)
	return rec, args.Error(1)
}

func (m *mockBackend) Get(ctx context.Context, table, id string, fields []string) (*core.Record, error) {
	args := m.Called(ctx, table, id, fields)
	rec, _ := args.Get(0).(*core.Record)
	return rec, args.Error(1)
}

func (m *mockBackend) GetMany(ctx context.Context, table string, ids []string, fields []string) ([]*core.Record, error) {
	args := m.Called(ctx, table, ids, fields)
	recs, _ := args.Get(0).([]*core.Record)
	return recs, args.Error(1)
}

func (m *mockBackend) Delete(ctx context.Context, key core.Key) error {
	return m.Called(ctx, key).Error(0)
}

func (m *mockBackend) Exists(ctx context.Context, table, id string) (bool, error) {
	args := m.Called(ctx, table, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockBackend) Scan(ctx context.Context, table string, fields []string) (core.Cursor, error) {
	args := m.Called(ctx, table, fields)
	cur, _ := args.Get(0).(core.Cursor)
	return cur, args.Error(1)
}

func (m *mockBackend) Query(ctx context.Context, table string, pred core.Predicate, fields []string) (core.Cursor, error) {
	args := m.Called(ctx, table, pred, fields)
	cur, _ := args.Get(0).(core.Cursor)
	return cur, args.Error(1)
}

func (m *mockBackend) KeyFor(table, id string) core.Key {
	return core.Key{Namespace: "test", Table: table, ID: id}
}

func (m *mockBackend) CreateStore(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBackend) CreateTable(ctx context.Context, table string, mapping core.Mapping) error {
	return m.Called(ctx, table, mapping).Error(0)
}

func (m *mockBackend) Close() error { return nil }

// closeTracker records whether the DAO released its cursor.
type closeTracker struct {
	*core.SliceCursor
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return c.SliceCursor.Close()
}

var rideSchema = schema.MustNew("ride",
	schema.String("id").PrimaryKey(),
	schema.String("status").Options("active", "canceled").Indexed(),
	schema.Int("seats").Min(1).Max(8),
	schema.DateTime("created_at").Nullable(),
	schema.Geo("origin").Nullable(),
)

func newDAO(t *testing.T, opts ...dao.Option) (*dao.DAO, *mockBackend) {
	t.Helper()
	b := &mockBackend{}
	d, err := dao.New(b, rideSchema, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { b.AssertExpectations(t) })
	return d, b
}

func ride(id string) *schema.Entity {
	return rideSchema.NewEntity().Set("id", id).Set("status", "active").Set("seats", 2)
}

func backendErr(kind core.ErrorKind) error {
	return core.NewBackendError(kind, "mock", "op", "CODE", errors.New("native"))
}

func TestSaveAttachesKeyAndGeneration(t *testing.T) {
	d, b := newDAO(t)
	ctx := context.Background()
	key := core.Key{Namespace: "test", Table: "ride", ID: "r1"}

	b.On("Put", mock.Anything, "ride", "r1",
		map[string]any{"id": "r1", "status": "active", "seats": int64(2)},
		core.PutOptions{Mode: core.WriteModeUpsert},
	).Return(&core.Record{Key: key, Generation: 4}, nil)

	e, err := d.Save(ctx, ride("r1"))
	require.NoError(t, err)
	require.NotNil(t, e)
	gen, ok := e.Generation()
	assert.True(t, ok)
	assert.Equal(t, int64(4), gen)
	assert.Equal(t, key, *e.Meta().Key)
}

func TestSaveRejectsBeforeTouchingBackend(t *testing.T) {
	d, _ := newDAO(t)
	ctx := context.Background()

	_, err := d.Save(ctx, rideSchema.NewEntity().Set("status", "active").Set("seats", 2))
	assert.ErrorIs(t, err, core.ErrSchema, "missing primary key")

	_, err = d.Save(ctx, ride("r1").Set("seats", 9))
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = d.Save(ctx, ride("r1").Set("status", "lost"))
	assert.ErrorIs(t, err, core.ErrValidation)

	other := schema.MustNew("other", schema.String("id").PrimaryKey())
	_, err = d.Save(ctx, other.NewEntity().Set("id", "x"))
	assert.ErrorIs(t, err, core.ErrSchema)
}

func TestSaveWithExplicitID(t *testing.T) {
	d, b := newDAO(t)
	e := rideSchema.NewEntity().Set("status", "active").Set("seats", 1)

	b.On("Put", mock.Anything, "ride", "custom", mock.Anything, core.PutOptions{}).
		Return(&core.Record{Key: core.Key{Table: "ride", ID: "custom"}, Generation: 1}, nil)

	saved, err := d.Save(context.Background(), e, dao.WithID("custom"))
	require.NoError(t, err)
	assert.Equal(t, "custom", saved.PK())
}

func TestExplicitIDLeavesEntityUntouchedOnFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid entity", func(t *testing.T) {
		d, _ := newDAO(t)
		e := rideSchema.NewEntity().Set("status", "active").Set("seats", 99)
		_, err := d.Save(ctx, e, dao.WithID("custom"))
		assert.ErrorIs(t, err, core.ErrValidation)
		var verr *core.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, core.OutOfRange, verr.Kind)
		assert.Nil(t, e.PK())
	})

	t.Run("failed put", func(t *testing.T) {
		d, b := newDAO(t)
		b.On("Put", mock.Anything, "ride", "custom", mock.MatchedBy(func(doc map[string]any) bool {
			return doc["id"] == "custom"
		}), mock.Anything).Return(nil, backendErr(core.KindBackendFailure))

		e := rideSchema.NewEntity().Set("status", "active").Set("seats", 1)
		_, err := d.Save(ctx, e, dao.WithID("custom"))
		require.Error(t, err)
		assert.Nil(t, e.PK())
		assert.Nil(t, e.Meta().Key)
	})

	t.Run("ignored put failure", func(t *testing.T) {
		d, b := newDAO(t, dao.WithIgnore(dao.CategoryWrite, core.KindRecordExists))
		b.On("Put", mock.Anything, "ride", "custom", mock.Anything, mock.Anything).
			Return(nil, backendErr(core.KindRecordExists))

		e := rideSchema.NewEntity().Set("status", "active").Set("seats", 1)
		got, err := d.Create(ctx, e, dao.WithID("custom"))
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Nil(t, e.PK())
	})
}

func TestCreatePropagatesRecordExists(t *testing.T) {
	d, b := newDAO(t)
	b.On("Put", mock.Anything, "ride", "r1", mock.Anything, core.PutOptions{Mode: core.WriteModeCreate}).
		Return(nil, backendErr(core.KindRecordExists))

	e, err := d.Create(context.Background(), ride("r1"))
	assert.Nil(t, e)
	assert.ErrorIs(t, err, core.ErrRecordExists)
}

func TestCreateCanIgnoreRecordExists(t *testing.T) {
	d, b := newDAO(t, dao.WithIgnore(dao.CategoryWrite, core.KindRecordExists))
	b.On("Put", mock.Anything, "ride", "r1", mock.Anything, mock.Anything).
		Return(nil, backendErr(core.KindRecordExists))

	e, err := d.Create(context.Background(), ride("r1"))
	assert.NoError(t, err)
	assert.Nil(t, e)
}

func TestSaveIfUpToDate(t *testing.T) {
	ctx := context.Background()
	gen := int64(3)

	t.Run("conflict is swallowed", func(t *testing.T) {
		d, b := newDAO(t)
		b.On("Put", mock.Anything, "ride", "r1", mock.Anything, core.PutOptions{ExpectedGeneration: &gen}).
			Return(nil, backendErr(core.KindGenerationConflict))

		e, err := d.SaveIfUpToDate(ctx, ride("r1").SetGeneration(3))
		assert.NoError(t, err)
		assert.Nil(t, e)
	})

	t.Run("no token writes unconditionally", func(t *testing.T) {
		d, b := newDAO(t)
		b.On("Put", mock.Anything, "ride", "r1", mock.Anything, core.PutOptions{}).
			Return(&core.Record{Key: core.Key{Table: "ride", ID: "r1"}, Generation: 1}, nil)

		e, err := d.SaveIfUpToDate(ctx, ride("r1"))
		require.NoError(t, err)
		assert.NotNil(t, e)
	})

	t.Run("plain save propagates conflict", func(t *testing.T) {
		d, b := newDAO(t)
		b.On("Put", mock.Anything, "ride", "r1", mock.Anything, core.PutOptions{ExpectedGeneration: &gen}).
			Return(nil, backendErr(core.KindGenerationConflict))

		_, err := d.Save(ctx, ride("r1"), dao.WithExpectedGeneration(3))
		assert.ErrorIs(t, err, core.ErrGenerationConflict)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("prefers attached key", func(t *testing.T) {
		d, b := newDAO(t)
		key := core.Key{Namespace: "elsewhere", Table: "ride", ID: "r1"}
		b.On("Delete", mock.Anything, key).Return(nil)

		e := ride("r1")
		e.Attach(key, 2)
		ok, err := d.Delete(ctx, e)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("falls back to primary key", func(t *testing.T) {
		d, b := newDAO(t)
		b.On("Delete", mock.Anything, core.Key{Namespace: "test", Table: "ride", ID: "r1"}).Return(nil)

		ok, err := d.Delete(ctx, ride("r1"))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("missing record is ignorable", func(t *testing.T) {
		d, b := newDAO(t)
		b.On("Delete", mock.Anything, mock.Anything).Return(backendErr(core.KindRecordNotFound))

		ok, err := d.DeleteByPrimaryKey(ctx, "gone")
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("other failures propagate", func(t *testing.T) {
		d, b := newDAO(t)
		b.On("Delete", mock.Anything, mock.Anything).Return(backendErr(core.KindBackendFailure))

		ok, err := d.DeleteByKey(ctx, core.Key{Table: "ride", ID: "r1"})
		assert.ErrorIs(t, err, core.ErrBackendFailure)
		assert.False(t, ok)
	})
}

func TestGetByPrimaryKey(t *testing.T) {
	ctx := context.Background()

	t.Run("hit with projection", func(t *testing.T) {
		d, b := newDAO(t)
		b.On("Get", mock.Anything, "ride", "r1", []string{"status"}).Return(&core.Record{
			Key:        core.Key{Table: "ride", ID: "r1"},
			Generation: 7,
			Doc:        map[string]any{"status": "active", "created_at": int64(20150401132522000)},
		}, nil)

		e, err := d.GetByPrimaryKey(ctx, "r1", dao.Fields("status"))
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, "active", e.Get("status"))
		assert.Equal(t, time.Date(2015, 4, 1, 13, 25, 22, 0, time.UTC), e.Get("created_at"))
		gen, _ := e.Generation()
		assert.Equal(t, int64(7), gen)
	})

	t.Run("miss is absence", func(t *testing.T) {
		d, b := newDAO(t)
		b.On("Get", mock.Anything, "ride", "r1", []string(nil)).Return(nil, backendErr(core.KindRecordNotFound))

		e, err := d.GetByPrimaryKey(ctx, "r1")
		assert.NoError(t, err)
		assert.Nil(t, e)
	})

	t.Run("miss propagates when reclassified", func(t *testing.T) {
		d, b := newDAO(t, dao.WithPropagate(dao.CategoryRead, core.KindRecordNotFound))
		b.On("Get", mock.Anything, "archive", "r1", []string(nil)).Return(nil, backendErr(core.KindRecordNotFound))

		_, err := d.GetByPrimaryKey(ctx, "r1", dao.Table("archive"))
		assert.ErrorIs(t, err, core.ErrRecordNotFound)
	})
}

func TestExists(t *testing.T) {
	d, b := newDAO(t)
	b.On("Exists", mock.Anything, "ride", "r1").Return(true, nil)
	b.On("Exists", mock.Anything, "ride", "r2").Return(false, nil)

	ok, err := d.Exists(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Exists(context.Background(), "r2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetByPrimaryKeysPreservesIndexes(t *testing.T) {
	d, b := newDAO(t)
	b.On("GetMany", mock.Anything, "ride", []string{"a", "b", "c"}, []string(nil)).Return([]*core.Record{
		{Key: core.Key{Table: "ride", ID: "a"}, Generation: 1, Doc: map[string]any{"id": "a"}},
		nil,
		{Key: core.Key{Table: "ride", ID: "c"}, Generation: 1, Doc: map[string]any{"id": "c"}},
	}, nil)

	got, err := d.GetByPrimaryKeys(context.Background(), []any{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].PK())
	assert.Nil(t, got[1])
	assert.Equal(t, "c", got[2].PK())
}

func TestGetAllReleasesCursorOnEarlyStop(t *testing.T) {
	d, b := newDAO(t)
	cur := &closeTracker{SliceCursor: core.NewSliceCursor([]*core.Record{
		{Key: core.Key{ID: "a"}, Doc: map[string]any{"id": "a"}},
		{Key: core.Key{ID: "b"}, Doc: map[string]any{"id": "b"}},
		{Key: core.Key{ID: "c"}, Doc: map[string]any{"id": "c"}},
	})}
	b.On("Scan", mock.Anything, "ride", []string(nil)).Return(cur, nil)

	var seen []any
	for e, err := range d.GetAll(context.Background()) {
		require.NoError(t, err)
		seen = append(seen, e.PK())
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []any{"a", "b"}, seen)
	assert.True(t, cur.closed)
}

func TestGetAllThrottled(t *testing.T) {
	d, b := newDAO(t)
	b.On("Scan", mock.Anything, "ride", []string(nil)).Return(core.NewSliceCursor([]*core.Record{
		{Doc: map[string]any{"id": "a"}},
		{Doc: map[string]any{"id": "b"}},
	}), nil)

	n := 0
	for _, err := range d.GetAll(context.Background(), dao.ScanRate(1000)) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 2, n)
}

func TestGetAllDefaultScanRate(t *testing.T) {
	d, b := newDAO(t, dao.WithScanRate(20))
	b.On("Scan", mock.Anything, "ride", []string(nil)).Return(core.NewSliceCursor([]*core.Record{
		{Doc: map[string]any{"id": "a"}},
		{Doc: map[string]any{"id": "b"}},
		{Doc: map[string]any{"id": "c"}},
	}), nil)

	start := time.Now()
	n := 0
	for _, err := range d.GetAll(context.Background()) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 3, n)
	// One token up front, then one every 50ms.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestGetAllPropagatesScanFailure(t *testing.T) {
	d, b := newDAO(t)
	b.On("Scan", mock.Anything, "ride", []string(nil)).Return(nil, backendErr(core.KindStoreNotFound))

	var errs []error
	for _, err := range d.GetAll(context.Background()) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], core.ErrStoreNotFound)
}

func TestSearchConvertsOperands(t *testing.T) {
	ctx := context.Background()
	lower := time.Date(2015, 4, 1, 0, 0, 0, 0, time.UTC)
	upper := time.Date(2015, 4, 2, 0, 0, 0, 0, time.UTC)

	t.Run("equality", func(t *testing.T) {
		d, b := newDAO(t)
		b.On("Query", mock.Anything, "ride",
			core.Equals{Fields: []string{"status", "seats"}, Values: []any{"active", int64(2)}}, []string(nil),
		).Return(core.NewSliceCursor(nil), nil)

		for _, err := range d.SearchByFieldValue(ctx, []string{"status", "seats"}, []any{"active", 2}) {
			require.NoError(t, err)
		}
	})

	t.Run("range", func(t *testing.T) {
		d, b := newDAO(t)
		b.On("Query", mock.Anything, "ride",
			core.Between{Field: "created_at", Lower: int64(20150401000000000), Upper: int64(20150402000000000)}, []string(nil),
		).Return(core.NewSliceCursor([]*core.Record{{Doc: map[string]any{"id": "r1"}}}), nil)

		var ids []any
		for e, err := range d.SearchByFieldRange(ctx, "created_at", lower, upper) {
			require.NoError(t, err)
			ids = append(ids, e.PK())
		}
		assert.Equal(t, []any{"r1"}, ids)
	})

	t.Run("bounding box", func(t *testing.T) {
		d, b := newDAO(t)
		b.On("Query", mock.Anything, "ride",
			core.GeoBox{Field: "origin", MinLat: 52, MaxLat: 53, MinLon: 13, MaxLon: 14}, []string(nil),
		).Return(core.NewSliceCursor(nil), nil)

		for _, err := range d.SearchInBoundingBox(ctx, "origin", schema.GeoPoint{Lat: 53, Lon: 13}, [2]float64{52, 14}) {
			require.NoError(t, err)
		}
	})

	t.Run("bounding box on non geo field", func(t *testing.T) {
		d, _ := newDAO(t)
		for _, err := range d.SearchInBoundingBox(ctx, "status", schema.GeoPoint{}, schema.GeoPoint{}) {
			assert.ErrorIs(t, err, core.ErrSchema)
		}
	})

	t.Run("mismatched pairs", func(t *testing.T) {
		d, _ := newDAO(t)
		for _, err := range d.SearchByFieldValue(ctx, []string{"status"}, nil) {
			assert.Error(t, err)
		}
	})
}

func TestCreateTableInstallsMapping(t *testing.T) {
	d, b := newDAO(t, dao.WithTable("ride_v2"))
	b.On("CreateTable", mock.Anything, "ride_v2", mock.MatchedBy(func(m core.Mapping) bool {
		f, ok := m.Field("origin")
		return m.Table == "ride_v2" && ok && f.Type == core.StorageGeoPoint
	})).Return(nil)
	b.On("CreateStore", mock.Anything).Return(nil)

	require.NoError(t, d.CreateStore(context.Background()))
	require.NoError(t, d.CreateTable(context.Background()))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := dao.New(nil, rideSchema)
	assert.Error(t, err)
	_, err = dao.New(&mockBackend{}, nil)
	assert.Error(t, err)
}
