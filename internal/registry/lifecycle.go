package registry

import (
	"context"
	"sync"

	"github.com/rzpsarthak13/entity-dao/internal/schema"
)

// LifecycleHook defines a hook that runs around table installation.
// Hooks are called synchronously by the table registry.
type LifecycleHook interface {
	// OnInstall is called before a table's mapping is installed on the backend.
	// If this hook returns an error, the table is not installed.
	OnInstall(ctx context.Context, tableName string, s *schema.Schema) error

	// OnUninstall is called when an installed table is removed from the registry.
	OnUninstall(ctx context.Context, tableName string, s *schema.Schema) error
}

// LifecycleHookFunc adapts plain functions to LifecycleHook.
type LifecycleHookFunc struct {
	OnInstallFunc   func(ctx context.Context, tableName string, s *schema.Schema) error
	OnUninstallFunc func(ctx context.Context, tableName string, s *schema.Schema) error
}

// OnInstall calls OnInstallFunc if it's not nil.
func (f LifecycleHookFunc) OnInstall(ctx context.Context, tableName string, s *schema.Schema) error {
	if f.OnInstallFunc != nil {
		return f.OnInstallFunc(ctx, tableName, s)
	}
	return nil
}

// OnUninstall calls OnUninstallFunc if it's not nil.
func (f LifecycleHookFunc) OnUninstall(ctx context.Context, tableName string, s *schema.Schema) error {
	if f.OnUninstallFunc != nil {
		return f.OnUninstallFunc(ctx, tableName, s)
	}
	return nil
}

// LifecycleManager manages lifecycle hooks for tables.
type LifecycleManager struct {
	mu    sync.RWMutex
	hooks []LifecycleHook
}

// NewLifecycleManager creates a new lifecycle manager.
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		hooks: make([]LifecycleHook, 0),
	}
}

// RegisterHook registers a hook. Hooks run in registration order.
func (lm *LifecycleManager) RegisterHook(hook LifecycleHook) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.hooks = append(lm.hooks, hook)
}

// ExecuteInstallHooks runs every OnInstall hook in order and stops at the
// first error.
func (lm *LifecycleManager) ExecuteInstallHooks(ctx context.Context, tableName string, s *schema.Schema) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnInstall(ctx, tableName, s); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteUninstallHooks runs every OnUninstall hook in order and stops at the
// first error.
func (lm *LifecycleManager) ExecuteUninstallHooks(ctx context.Context, tableName string, s *schema.Schema) error {
	for _, hook := range lm.snapshot() {
		if err := hook.OnUninstall(ctx, tableName, s); err != nil {
			return err
		}
	}
	return nil
}

func (lm *LifecycleManager) snapshot() []LifecycleHook {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	hooks := make([]LifecycleHook, len(lm.hooks))
	copy(hooks, lm.hooks)
	return hooks
}
