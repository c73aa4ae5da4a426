package entitydao

import (
	"github.com/rzpsarthak13/entity-dao/internal/registry"
)

// Config is the root configuration of a DataSource. It is loaded from YAML
// or JSON files and ENTITY_DAO_* environment variables.
//
// Example:
//
//	namespace: rides
//	backend:
//	  type: sqlite
//	  sql:
//	    path: /var/lib/rides/entity.db
//	dispatch:
//	  type: kafka
//	  kafka:
//	    brokers: [localhost:9092]
//	    topic: ride-tasks
//	tables:
//	  ride_request:
//	    scan_rate: 500
//	    ignore:
//	      write: [record_exists]
type Config = registry.InternalConfig

// TableConfig holds the per-table overrides under Config.Tables.
type TableConfig = registry.InternalTableConfig

// DefaultConfig returns a configuration using an sqlite document store in
// the working directory and an in-memory dispatcher.
func DefaultConfig() *Config {
	return registry.DefaultConfig()
}

// LoadConfig reads path when it exists and falls back to the defaults plus
// environment otherwise. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cm := registry.NewConfigManager()
	if err := cm.LoadOptional(path); err != nil {
		return nil, err
	}
	return cm.GetConfig(), nil
}
