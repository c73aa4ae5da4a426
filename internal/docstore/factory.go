package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rzpsarthak13/entity-dao/internal/backend"
	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/registry"
)

const memoryPath = ":memory:"

// SQLiteFactory creates SQLite document stores.
type SQLiteFactory struct{}

// Type returns the type identifier for this factory.
func (f *SQLiteFactory) Type() string {
	return "sqlite"
}

// Validate validates the SQLite-specific configuration.
func (f *SQLiteFactory) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if config.Backend.SQL.Path == "" {
		return fmt.Errorf("path is required for SQLite")
	}
	return nil
}

// Create opens the database file, creating it if needed.
func (f *SQLiteFactory) Create(config *registry.InternalConfig, logger *slog.Logger) (core.Backend, error) {
	sc := config.Backend.SQL
	db, err := sql.Open("sqlite", sqliteDSN(sc.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if sc.Path == memoryPath {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		configurePool(db, sc)
	}
	if err := ping(db, config.Backend.DialTimeout); err != nil {
		return nil, err
	}
	return NewStore(db, SQLite, config.Namespace, logger), nil
}

func sqliteDSN(path string) string {
	if path == memoryPath {
		return path
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + path + "?" + q.Encode()
}

// MySQLFactory creates MySQL document stores.
type MySQLFactory struct{}

// Type returns the type identifier for this factory.
func (f *MySQLFactory) Type() string {
	return "mysql"
}

// Validate validates the MySQL-specific configuration.
func (f *MySQLFactory) Validate(config *registry.InternalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	sc := config.Backend.SQL
	if sc.Host == "" {
		return fmt.Errorf("host is required for MySQL")
	}
	if sc.Port <= 0 || sc.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", sc.Port)
	}
	if sc.Database == "" {
		return fmt.Errorf("database is required for MySQL")
	}
	if sc.Username == "" {
		return fmt.Errorf("username is required for MySQL")
	}
	if sc.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be greater than 0, got: %d", sc.MaxOpenConns)
	}
	if sc.MaxIdleConns < 0 || sc.MaxIdleConns > sc.MaxOpenConns {
		return fmt.Errorf("max_idle_conns must be between 0 and max_open_conns (%d), got: %d", sc.MaxOpenConns, sc.MaxIdleConns)
	}
	return nil
}

// Create connects to the server and verifies the connection with a ping.
func (f *MySQLFactory) Create(config *registry.InternalConfig, logger *slog.Logger) (core.Backend, error) {
	bc := config.Backend
	db, err := sql.Open("mysql", mysqlDSN(bc))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	configurePool(db, bc.SQL)
	if err := ping(db, bc.DialTimeout); err != nil {
		return nil, err
	}
	return NewStore(db, MySQL, config.Namespace, logger), nil
}

func mysqlDSN(bc registry.InternalBackendConfig) string {
	cfg := mysql.NewConfig()
	cfg.User = bc.SQL.Username
	cfg.Passwd = bc.SQL.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(bc.SQL.Host, strconv.Itoa(bc.SQL.Port))
	cfg.DBName = bc.SQL.Database
	cfg.ParseTime = true
	cfg.Timeout = bc.DialTimeout
	cfg.ReadTimeout = bc.ReadTimeout
	cfg.WriteTimeout = bc.WriteTimeout
	return cfg.FormatDSN()
}

func configurePool(db *sql.DB, sc registry.InternalSQLConfig) {
	db.SetMaxOpenConns(sc.MaxOpenConns)
	db.SetMaxIdleConns(sc.MaxIdleConns)
	db.SetConnMaxLifetime(sc.ConnMaxLifetime)
	db.SetConnMaxIdleTime(sc.ConnMaxIdleTime)
}

func ping(db *sql.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func init() {
	backend.RegisterFactory(&SQLiteFactory{})
	backend.RegisterFactory(&MySQLFactory{})
}
