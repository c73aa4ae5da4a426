// Package backend holds the registry of storage adapters. Adapters register a
// Factory from their init function; callers create a core.Backend by type
// name without importing the adapter directly.
package backend

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/rzpsarthak13/entity-dao/internal/core"
	"github.com/rzpsarthak13/entity-dao/internal/registry"
)

// Factory is the Strategy interface for creating backend adapters. Each
// adapter (sqlite, mysql, redis, dynamodb) provides one. A Factory is also
// the config validator for its type.
type Factory interface {
	registry.ConfigValidator

	// Create connects a new adapter described by config.
	Create(config *registry.InternalConfig, logger *slog.Logger) (core.Backend, error)
}

var (
	// factoryRegistry stores all registered backend factories.
	factoryRegistry = make(map[string]Factory)

	// registryMutex protects the registry from concurrent access.
	registryMutex sync.RWMutex
)

// RegisterFactory registers a backend factory and its config validator.
// This is called automatically by each adapter's init() function.
func RegisterFactory(factory Factory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}
	factoryRegistry[factory.Type()] = factory
	registry.RegisterValidator(factory)
}

// Create creates a backend using the factory registered for
// config.Backend.Type.
func Create(config *registry.InternalConfig, logger *slog.Logger) (core.Backend, error) {
	if config == nil {
		return nil, fmt.Errorf("backend config is required")
	}
	if config.Backend.Type == "" {
		return nil, fmt.Errorf("backend type is required")
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Backend.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported backend type: %s", config.Backend.Type)
	}
	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", config.Backend.Type, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return factory.Create(config, logger)
}

// GetRegisteredTypes returns the registered backend types, sorted.
func GetRegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// IsTypeRegistered checks if a backend type is registered.
func IsTypeRegistered(backendType string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[backendType]
	return exists
}
