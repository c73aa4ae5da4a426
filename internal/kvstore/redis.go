package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/rzpsarthak13/entity-dao/internal/backend"
	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/registry"
)

const redisType = "redis"

// putScript performs a conditional write. ARGV: doc, mode, expected
// generation ("" for none). Returns the new generation, or -1 when the
// record exists, -2 when it is missing, -3 on a generation mismatch.
var putScript = redis.NewScript(`
local gen = redis.call('HGET', KEYS[1], 'gen')
if ARGV[2] == 'create' and gen then return -1 end
if ARGV[2] == 'update' and not gen then return -2 end
if ARGV[3] ~= '' and gen ~= ARGV[3] then return -3 end
local n = redis.call('HINCRBY', KEYS[1], 'gen', 1)
redis.call('HSET', KEYS[1], 'doc', ARGV[1])
return n
`)

// RedisStore implements core.Backend on Redis. Each record is a hash
// {namespace}:{table}:{id} holding "gen" and the msgpack "doc".
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
	scanCount int64
	logger    *slog.Logger
	closed    atomic.Bool
}

// NewRedisStore wraps a connected client. A nil logger uses slog.Default().
func NewRedisStore(client redis.UniversalClient, namespace string, scanCount int64, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	if scanCount <= 0 {
		scanCount = 100
	}
	return &RedisStore{
		client:    client,
		namespace: namespace,
		scanCount: scanCount,
		logger:    logger.With(slog.String("component", redisType)),
	}
}

// Type implements core.Backend.
func (r *RedisStore) Type() string { return redisType }

// KeyFor implements core.Backend.
func (r *RedisStore) KeyFor(table, id string) core.Key {
	return core.Key{Namespace: r.namespace, Table: table, ID: id}
}

func (r *RedisStore) tablePrefix(table string) string {
	return r.KeyFor(table, "").String()
}

func (r *RedisStore) mappingKey(table string) string {
	return r.KeyFor("_mappings", table).String()
}

// Put implements core.Backend.
func (r *RedisStore) Put(ctx context.Context, table, id string, doc map[string]any, opts core.PutOptions) (*core.Record, error) {
	if err := r.checkOpen("put"); err != nil {
		return nil, err
	}
	blob, err := encodeDoc(doc)
	if err != nil {
		return nil, core.NewBackendError(core.KindBackendFailure, redisType, "put", "", err)
	}
	expected := ""
	if opts.ExpectedGeneration != nil {
		expected = strconv.FormatInt(*opts.ExpectedGeneration, 10)
	}
	key := r.KeyFor(table, id)

	gen, err := putScript.Run(ctx, r.client, []string{key.String()}, blob, opts.Mode.String(), expected).Int64()
	if err != nil {
		return nil, r.fail("put", err)
	}
	switch gen {
	case -1:
		return nil, core.NewBackendError(core.KindRecordExists, redisType, "put", "", nil)
	case -2:
		return nil, core.NewBackendError(core.KindRecordNotFound, redisType, "put", "", nil)
	case -3:
		return nil, core.NewBackendError(core.KindGenerationConflict, redisType, "put", "", nil)
	}
	r.logger.DebugContext(ctx, "stored record", slog.String("key", key.String()), slog.Int64("gen", gen))
	return &core.Record{Key: key, Generation: gen, Doc: doc}, nil
}

// Get implements core.Backend.
func (r *RedisStore) Get(ctx context.Context, table, id string, fields []string) (*core.Record, error) {
	if err := r.checkOpen("get"); err != nil {
		return nil, err
	}
	key := r.KeyFor(table, id)
	vals, err := r.client.HMGet(ctx, key.String(), "gen", "doc").Result()
	if err != nil {
		return nil, r.fail("get", err)
	}
	rec, err := recordFrom(key, vals)
	if err != nil {
		return nil, core.NewBackendError(core.KindBackendFailure, redisType, "get", "", err)
	}
	if rec == nil {
		return nil, core.NewBackendError(core.KindRecordNotFound, redisType, "get", "", nil)
	}
	rec.Doc = core.Project(rec.Doc, fields)
	return rec, nil
}

// GetMany implements core.Backend with one pipelined round trip.
func (r *RedisStore) GetMany(ctx context.Context, table string, ids []string, fields []string) ([]*core.Record, error) {
	if err := r.checkOpen("get_many"); err != nil {
		return nil, err
	}
	keys := make([]core.Key, len(ids))
	for i, id := range ids {
		keys[i] = r.KeyFor(table, id)
	}
	recs, err := r.load(ctx, keys)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec != nil {
			rec.Doc = core.Project(rec.Doc, fields)
		}
	}
	return recs, nil
}

// load fetches keys in one pipeline. Missing records are nil.
func (r *RedisStore) load(ctx context.Context, keys []core.Key) ([]*core.Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HMGet(ctx, k.String(), "gen", "doc")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, r.fail("get_many", err)
	}
	out := make([]*core.Record, len(keys))
	for i, cmd := range cmds {
		rec, err := recordFrom(keys[i], cmd.Val())
		if err != nil {
			return nil, core.NewBackendError(core.KindBackendFailure, redisType, "get_many", "", err)
		}
		out[i] = rec
	}
	return out, nil
}

// recordFrom builds a record from an HMGET gen doc reply; nil when absent.
func recordFrom(key core.Key, vals []any) (*core.Record, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, nil
	}
	genText, _ := vals[0].(string)
	gen, err := strconv.ParseInt(genText, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("key %s: bad generation %q", key, genText)
	}
	blob, _ := vals[1].(string)
	doc, err := decodeDoc([]byte(blob))
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", key, err)
	}
	return &core.Record{Key: key, Generation: gen, Doc: doc}, nil
}

// Delete implements core.Backend.
func (r *RedisStore) Delete(ctx context.Context, key core.Key) error {
	if err := r.checkOpen("delete"); err != nil {
		return err
	}
	n, err := r.client.Del(ctx, key.String()).Result()
	if err != nil {
		return r.fail("delete", err)
	}
	if n == 0 {
		return core.NewBackendError(core.KindRecordNotFound, redisType, "delete", "", nil)
	}
	return nil
}

// Exists implements core.Backend.
func (r *RedisStore) Exists(ctx context.Context, table, id string) (bool, error) {
	if err := r.checkOpen("exists"); err != nil {
		return false, err
	}
	n, err := r.client.Exists(ctx, r.KeyFor(table, id).String()).Result()
	if err != nil {
		return false, r.fail("exists", err)
	}
	return n > 0, nil
}

// Scan implements core.Backend.
func (r *RedisStore) Scan(ctx context.Context, table string, fields []string) (core.Cursor, error) {
	return r.Query(ctx, table, nil, fields)
}

// Query implements core.Backend. Records are filtered client-side; a nil
// predicate matches everything.
func (r *RedisStore) Query(ctx context.Context, table string, pred core.Predicate, fields []string) (core.Cursor, error) {
	if err := r.checkOpen("query"); err != nil {
		return nil, err
	}
	return &scanCursor{
		store:  r,
		prefix: r.tablePrefix(table),
		table:  table,
		pred:   pred,
		fields: fields,
	}, nil
}

// CreateStore implements core.Backend. Redis needs no setup beyond a
// reachable server.
func (r *RedisStore) CreateStore(ctx context.Context) error {
	if err := r.checkOpen("create_store"); err != nil {
		return err
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return r.fail("create_store", err)
	}
	return nil
}

// CreateTable implements core.Backend by storing the mapping in a hash.
func (r *RedisStore) CreateTable(ctx context.Context, table string, mapping core.Mapping) error {
	if err := r.checkOpen("create_table"); err != nil {
		return err
	}
	fields := make(map[string]any)
	for k, v := range encodeMapping(mapping) {
		fields[k] = v
	}
	if err := r.client.HSet(ctx, r.mappingKey(table), fields).Err(); err != nil {
		return r.fail("create_table", err)
	}
	r.logger.InfoContext(ctx, "installed mapping", slog.String("table", table), slog.Int("fields", len(mapping.Fields)))
	return nil
}

// Mapping returns the installed mapping of table.
func (r *RedisStore) Mapping(ctx context.Context, table string) (core.Mapping, error) {
	raw, err := r.client.HGetAll(ctx, r.mappingKey(table)).Result()
	if err != nil {
		return core.Mapping{}, r.fail("mapping", err)
	}
	if len(raw) == 0 {
		return core.Mapping{}, core.NewBackendError(core.KindStoreNotFound, redisType, "mapping", "", nil)
	}
	return decodeMapping(table, raw), nil
}

// Close closes the connection. It is safe to call more than once.
func (r *RedisStore) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.client.Close()
}

func (r *RedisStore) checkOpen(op string) error {
	if r.closed.Load() {
		return core.NewBackendError(core.KindBackendFailure, redisType, op, "", errors.New("store is closed"))
	}
	return nil
}

// fail wraps a client error, keeping the server error prefix as the code.
func (r *RedisStore) fail(op string, err error) error {
	code := ""
	var rerr redis.Error
	if errors.As(err, &rerr) {
		code, _, _ = strings.Cut(rerr.Error(), " ")
	}
	return core.NewBackendError(core.KindBackendFailure, redisType, op, code, err)
}

// scanCursor walks SCAN MATCH {prefix}* and loads each batch of keys with
// one pipeline. SCAN may return a key twice while the keyspace is rehashing.
type scanCursor struct {
	store  *RedisStore
	prefix string
	table  string
	pred   core.Predicate
	fields []string

	cursor  uint64
	started bool
	closed  bool
	buf     []*core.Record
	cur     *core.Record
	err     error
}

func (c *scanCursor) Next(ctx context.Context) bool {
	for len(c.buf) == 0 {
		if c.closed || c.err != nil || (c.started && c.cursor == 0) {
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

func (c *scanCursor) fetch(ctx context.Context) error {
	keys, next, err := c.store.client.Scan(ctx, c.cursor, c.prefix+"*", c.store.scanCount).Result()
	if err != nil {
		return c.store.fail("scan", err)
	}
	c.started = true
	c.cursor = next

	batch := make([]core.Key, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, c.store.KeyFor(c.table, strings.TrimPrefix(k, c.prefix)))
	}
	recs, err := c.store.load(ctx, batch)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		if c.pred != nil && !core.Match(c.pred, rec.Doc) {
			continue
		}
		rec.Doc = core.Project(rec.Doc, c.fields)
		c.buf = append(c.buf, rec)
	}
	return nil
}

func (c *scanCursor) Record() *core.Record { return c.cur }

func (c *scanCursor) Err() error { return c.err }

func (c *scanCursor) Close() error {
	c.closed = true
	c.buf = nil
	return nil
}

// RedisFactory creates Redis stores from configuration.
type RedisFactory struct{}

// Type returns the type identifier for this factory.
func (f *RedisFactory) Type() string {
	return redisType
}

// Validate validates the Redis-specific configuration.
func (f *RedisFactory) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	rc := config.Backend.Redis
	if len(rc.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required for Redis")
	}
	if rc.DB < 0 || rc.DB > 15 {
		return fmt.Errorf("Redis DB must be between 0 and 15, got: %d", rc.DB)
	}
	if rc.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be greater than 0, got: %d", rc.PoolSize)
	}
	if config.Backend.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be greater than 0, got: %v", config.Backend.ReadTimeout)
	}
	if config.Backend.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be greater than 0, got: %v", config.Backend.WriteTimeout)
	}
	return nil
}

// Create connects to the first endpoint and verifies it with PING.
func (f *RedisFactory) Create(config *registry.InternalConfig, logger *slog.Logger) (core.Backend, error) {
	bc := config.Backend
	client := redis.NewClient(&redis.Options{
		Addr:         bc.Redis.Endpoints[0],
		Password:     bc.Redis.Password,
		DB:           bc.Redis.DB,
		PoolSize:     bc.Redis.PoolSize,
		MinIdleConns: bc.Redis.MinIdleConns,
		MaxRetries:   bc.MaxRetries,
		DialTimeout:  bc.DialTimeout,
		ReadTimeout:  bc.ReadTimeout,
		WriteTimeout: bc.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), bc.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStore(client, config.Namespace, bc.Redis.ScanCount, logger), nil
}

func init() {
	backend.RegisterFactory(&RedisFactory{})
}
