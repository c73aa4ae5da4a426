// Package entitydao is the entry point of the entity DAO library. A
// DataSource is built once at process start from a Config and handed to
// every DAO and service constructor.
//
// Typical usage:
//
//	config, _ := entitydao.LoadConfig("entity-dao.yaml")
//	ds, _ := entitydao.Open(config)
//	defer ds.Close()
//
//	rides, _ := ds.NewDAO(business.RideRequestSchema)
//	ds.Install(ctx) // create the store and every registered table
//
//	rides.Save(ctx, entity)
//	rides.GetByPrimaryKey(ctx, id)
package entitydao

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rzpsarthak13/entity-dao/internal/backend"
	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/dao"
	"github.com/rzpsarthak13/entity-dao/internal/dispatch"
	"github.com/rzpsarthak13/entity-dao/internal/registry"
	"github.com/rzpsarthak13/entity-dao/internal/schema"

	// Backend adapters register their factories on import.
	_ "github.com/rzpsarthak13/entity-dao/internal/docstore"
	_ "github.com/rzpsarthak13/entity-dao/internal/kvstore"
)

// DataSource bundles the backend, dispatcher, logger and table registry
// shared by the DAOs of one process. It is safe for concurrent use.
type DataSource struct {
	configMgr  *registry.ConfigManager
	backend    core.Backend
	dispatcher core.Dispatcher
	logger     *slog.Logger
	tables     *registry.TableRegistry

	closeOnce sync.Once
	closeErr  error
}

// Option customizes Open.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	backend    core.Backend
	dispatcher core.Dispatcher
}

// WithLogger uses logger instead of one built from Config.Log.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBackend uses b instead of creating one from Config.Backend. The
// DataSource takes ownership and closes it.
func WithBackend(b core.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithDispatcher uses d instead of creating one from Config.Dispatch. The
// DataSource takes ownership and closes it.
func WithDispatcher(d core.Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// Open validates config and connects the backend and dispatcher it
// describes. A nil config means DefaultConfig().
func Open(config *Config, opts ...Option) (*DataSource, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	configMgr, err := registry.NewConfigManagerWith(config)
	if err != nil {
		return nil, err
	}
	config = configMgr.GetConfig()

	logger := o.logger
	if logger == nil {
		logger, err = NewLogger(config.Log.Level, config.Log.Format, nil)
		if err != nil {
			return nil, err
		}
	}

	b := o.backend
	if b == nil {
		b, err = backend.Create(config, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s backend: %w", config.Backend.Type, err)
		}
	}

	d := o.dispatcher
	if d == nil {
		d, err = dispatch.New(config, logger)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("failed to create dispatcher: %w", err)
		}
	}

	logger.Info("data source opened",
		slog.String("namespace", config.Namespace),
		slog.String("backend", b.Type()),
		slog.String("dispatch", config.Dispatch.Type))

	return &DataSource{
		configMgr:  configMgr,
		backend:    b,
		dispatcher: d,
		logger:     logger,
		tables:     registry.NewTableRegistry(configMgr, nil, b),
	}, nil
}

// Config returns the effective configuration.
func (ds *DataSource) Config() *Config { return ds.configMgr.GetConfig() }

// ConfigYAML renders the effective configuration.
func (ds *DataSource) ConfigYAML() ([]byte, error) { return ds.configMgr.YAML() }

// Backend returns the storage backend.
func (ds *DataSource) Backend() core.Backend { return ds.backend }

// Dispatcher returns the task dispatcher.
func (ds *DataSource) Dispatcher() core.Dispatcher { return ds.dispatcher }

// Logger returns the process logger.
func (ds *DataSource) Logger() *slog.Logger { return ds.logger }

// Tables returns the registry of schemas known to this data source.
func (ds *DataSource) Tables() *registry.TableRegistry { return ds.tables }

// Register adds schemas to the table registry so Install creates them.
func (ds *DataSource) Register(schemas ...*schema.Schema) error {
	for _, s := range schemas {
		if err := ds.tables.Register(s); err != nil {
			return err
		}
	}
	return nil
}

// Install creates the backing store and every registered table. It is
// idempotent.
func (ds *DataSource) Install(ctx context.Context) error {
	if err := ds.backend.CreateStore(ctx); err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	return ds.tables.InstallAll(ctx)
}

// ReloadTables re-reads the table overrides from the config file at path and
// applies them to the table registry. Backend, dispatch and log settings are
// fixed for the life of the DataSource. DAOs built earlier keep their
// settings; later NewDAO calls see the new ones.
func (ds *DataSource) ReloadTables(path string) error {
	cm := registry.NewConfigManager()
	if err := cm.LoadFromFile(path); err != nil {
		return err
	}
	if err := ds.configMgr.SetTables(cm.GetConfig().Tables); err != nil {
		return err
	}
	ds.tables.RefreshConfig()
	ds.logger.Info("table config reloaded",
		slog.String("path", path),
		slog.Int("overrides", len(cm.GetConfig().Tables)))
	return nil
}

// NewDAO returns a DAO for s configured from its table overrides: storage
// table name, default scan rate and extra ignorable error kinds. opts are
// applied last. s is registered if it is not already.
func (ds *DataSource) NewDAO(s *schema.Schema, opts ...dao.Option) (*dao.DAO, error) {
	if s == nil {
		return nil, fmt.Errorf("schema cannot be nil")
	}
	if _, err := ds.tables.GetMetadata(s.Table()); err != nil {
		if err := ds.tables.Register(s); err != nil {
			return nil, err
		}
	}

	tc := ds.configMgr.GetTableConfig(s.Table())
	base := []dao.Option{
		dao.WithLogger(ds.logger),
		dao.WithTable(tc.Name),
		dao.WithScanRate(tc.ScanRate),
	}
	for category, names := range tc.Ignore {
		kinds := make([]core.ErrorKind, 0, len(names))
		for _, name := range names {
			kind, err := core.ParseErrorKind(name)
			if err != nil {
				return nil, fmt.Errorf("tables.%s.ignore.%s: %w", s.Table(), category, err)
			}
			kinds = append(kinds, kind)
		}
		base = append(base, dao.WithIgnore(dao.Category(category), kinds...))
	}
	return dao.New(ds.backend, s, append(base, opts...)...)
}

// Close releases the dispatcher and the backend. It is idempotent.
func (ds *DataSource) Close() error {
	ds.closeOnce.Do(func() {
		var errs []error
		if err := ds.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		if err := ds.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
		ds.closeErr = errors.Join(errs...)
		ds.logger.Info("data source closed")
	})
	return ds.closeErr
}
