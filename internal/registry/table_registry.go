package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/schema"
)

// Installer creates a table and installs its storage mapping. core.Backend
// satisfies it.
type Installer interface {
	CreateTable(ctx context.Context, table string, mapping core.Mapping) error
}

// TableMetadata contains metadata about a registered schema.
type TableMetadata struct {
	// TableName is the schema's logical table name.
	TableName string

	// StorageTable is where records are kept; it differs from TableName
	// when the table config renames it.
	StorageTable string

	Schema *schema.Schema
	Config InternalTableConfig

	// Installed reports whether the mapping has been installed on the backend.
	Installed   bool
	InstalledAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableRegistry tracks the schemas an application uses and installs their
// mappings. It is safe for concurrent use.
type TableRegistry struct {
	mu        sync.RWMutex
	tables    map[string]*TableMetadata
	configMgr *ConfigManager
	lifecycle *LifecycleManager
	installer Installer
}

// NewTableRegistry creates a table registry. A nil lifecycle manager gets
// an empty one.
func NewTableRegistry(configMgr *ConfigManager, lifecycle *LifecycleManager, installer Installer) *TableRegistry {
	if lifecycle == nil {
		lifecycle = NewLifecycleManager()
	}
	return &TableRegistry{
		tables:    make(map[string]*TableMetadata),
		configMgr: configMgr,
		lifecycle: lifecycle,
		installer: installer,
	}
}

// Register adds s to the registry. Registering a schema for an already
// registered table replaces it and keeps the install state.
func (tr *TableRegistry) Register(s *schema.Schema) error {
	if s == nil {
		return fmt.Errorf("schema cannot be nil")
	}
	tableName := s.Table()

	tr.mu.Lock()
	defer tr.mu.Unlock()

	now := time.Now()
	config := tr.configMgr.GetTableConfig(tableName)
	metadata := &TableMetadata{
		TableName:    tableName,
		StorageTable: config.Name,
		Schema:       s,
		Config:       config,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if existing, exists := tr.tables[tableName]; exists {
		metadata.Installed = existing.Installed
		metadata.InstalledAt = existing.InstalledAt
		metadata.CreatedAt = existing.CreatedAt
	}
	tr.tables[tableName] = metadata
	return nil
}

// GetMetadata returns a copy of the metadata of a registered table.
func (tr *TableRegistry) GetMetadata(tableName string) (*TableMetadata, error) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	metadata, exists := tr.tables[tableName]
	if !exists {
		return nil, fmt.Errorf("table %q is not registered", tableName)
	}
	cp := *metadata
	return &cp, nil
}

// Install runs the install hooks and creates the table with its mapping on
// the backend. It is idempotent.
func (tr *TableRegistry) Install(ctx context.Context, tableName string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	metadata, exists := tr.tables[tableName]
	if !exists {
		return fmt.Errorf("table %q is not registered", tableName)
	}
	if metadata.Installed {
		return nil
	}
	if tr.installer == nil {
		return fmt.Errorf("no installer configured for table %q", tableName)
	}

	if err := tr.lifecycle.ExecuteInstallHooks(ctx, tableName, metadata.Schema); err != nil {
		return fmt.Errorf("install hook failed for table %q: %w", tableName, err)
	}

	mapping, err := metadata.Schema.Mapping()
	if err != nil {
		return err
	}
	mapping.Table = metadata.StorageTable
	if err := tr.installer.CreateTable(ctx, metadata.StorageTable, mapping); err != nil {
		return fmt.Errorf("failed to install table %q: %w", tableName, err)
	}

	now := time.Now()
	metadata.Installed = true
	metadata.InstalledAt = &now
	metadata.UpdatedAt = now
	return nil
}

// InstallAll installs every registered table in name order.
func (tr *TableRegistry) InstallAll(ctx context.Context) error {
	for _, name := range tr.List() {
		if err := tr.Install(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes a table from the registry, running the uninstall hooks
// if it was installed. Stored records are left in place.
func (tr *TableRegistry) Unregister(ctx context.Context, tableName string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	metadata, exists := tr.tables[tableName]
	if !exists {
		return fmt.Errorf("table %q is not registered", tableName)
	}
	if metadata.Installed {
		if err := tr.lifecycle.ExecuteUninstallHooks(ctx, tableName, metadata.Schema); err != nil {
			return fmt.Errorf("uninstall hook failed for table %q: %w", tableName, err)
		}
	}
	delete(tr.tables, tableName)
	return nil
}

// List returns the registered table names, sorted.
func (tr *TableRegistry) List() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	names := make([]string, 0, len(tr.tables))
	for name := range tr.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RefreshConfig re-reads the table overrides from the config manager. A
// table whose storage name changed must be installed again.
func (tr *TableRegistry) RefreshConfig() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	now := time.Now()
	for _, metadata := range tr.tables {
		metadata.Config = tr.configMgr.GetTableConfig(metadata.TableName)
		if metadata.Config.Name != metadata.StorageTable {
			metadata.StorageTable = metadata.Config.Name
			metadata.Installed = false
			metadata.InstalledAt = nil
		}
		metadata.UpdatedAt = now
	}
}

// GetLifecycleManager returns the lifecycle manager associated with this registry.
func (tr *TableRegistry) GetLifecycleManager() *LifecycleManager {
	return tr.lifecycle
}

// Count returns the total number of registered tables.
func (tr *TableRegistry) Count() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.tables)
}
