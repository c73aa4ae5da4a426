package registry

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/entity-dao/internal/core"
)

// EnvPrefix is the prefix of every configuration environment variable,
// e.g. ENTITY_DAO_BACKEND_TYPE=redis.
const EnvPrefix = "ENTITY_DAO"

// ConfigValidator is the Strategy interface for validating configuration.
// Each backend provides its own validator to check backend-specific settings.
type ConfigValidator interface {
	// Validate validates the backend section of config.
	Validate(config *InternalConfig) error

	// Type returns the type identifier for this validator (e.g., "redis", "sqlite").
	Type() string
}

var (
	// validatorRegistry stores all registered config validators.
	validatorRegistry = make(map[string]ConfigValidator)

	// validatorRegistryMutex protects the validator registry from concurrent access.
	validatorRegistryMutex sync.RWMutex
)

// ValidationStrategyRegistry provides methods to register and retrieve config validators.
type ValidationStrategyRegistry struct{}

// Register registers a config validator.
// Panics if validator is nil, type is empty, or type is already registered.
func (r *ValidationStrategyRegistry) Register(v ConfigValidator) {
	if v == nil {
		panic("validator cannot be nil")
	}
	if v.Type() == "" {
		panic("validator type cannot be empty")
	}

	validatorRegistryMutex.Lock()
	defer validatorRegistryMutex.Unlock()

	if _, exists := validatorRegistry[v.Type()]; exists {
		panic(fmt.Sprintf("validator for type %q is already registered", v.Type()))
	}
	validatorRegistry[v.Type()] = v
}

// Get retrieves a validator by type.
func (r *ValidationStrategyRegistry) Get(validatorType string) (ConfigValidator, bool) {
	validatorRegistryMutex.RLock()
	defer validatorRegistryMutex.RUnlock()

	v, exists := validatorRegistry[validatorType]
	return v, exists
}

// RegisterValidator registers a validator with the default registry.
// This is the preferred way to register validators from init() functions.
func RegisterValidator(v ConfigValidator) {
	defaultValidationRegistry.Register(v)
}

// GetValidator retrieves a validator by type from the default registry.
func GetValidator(validatorType string) (ConfigValidator, bool) {
	return defaultValidationRegistry.Get(validatorType)
}

var defaultValidationRegistry = &ValidationStrategyRegistry{}

// structValidator checks the validate tags. It caches struct metadata and is
// safe for concurrent use.
var structValidator = validator.New(validator.WithRequiredStructEnabled())

// ConfigManager handles loading and managing configuration from files,
// raw YAML/JSON and environment variables.
type ConfigManager struct {
	mu     sync.RWMutex
	config *InternalConfig
}

// NewConfigManager creates a configuration manager holding the defaults.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{config: DefaultConfig()}
}

// NewConfigManagerWith validates config and wraps it in a manager. A nil
// config means the defaults.
func NewConfigManagerWith(config *InternalConfig) (*ConfigManager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Tables == nil {
		config.Tables = make(map[string]InternalTableConfig)
	}
	cm := &ConfigManager{}
	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cm.config = config
	return cm, nil
}

// DefaultConfig returns a configuration with sensible defaults: an sqlite
// document store and an in-memory dispatcher.
func DefaultConfig() *InternalConfig {
	return &InternalConfig{
		Namespace: "entity",
		Backend: InternalBackendConfig{
			Type: "sqlite",
			SQL: InternalSQLConfig{
				Path:            "entity.db",
				Host:            "localhost",
				Port:            3306,
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				ConnMaxIdleTime: 10 * time.Minute,
			},
			Redis: InternalRedisConfig{
				Endpoints:    []string{"localhost:6379"},
				PoolSize:     10,
				MinIdleConns: 5,
				ScanCount:    100,
			},
			DynamoDB: InternalDynamoDBConfig{
				Region: "us-east-1",
			},
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Dispatch: InternalDispatchConfig{
			Type:       "memory",
			BufferSize: 1000,
			Kafka: InternalKafkaConfig{
				Brokers:         []string{"localhost:9092"},
				Topic:           "entity-tasks",
				BatchSize:       100,
				BatchTimeout:    10 * time.Millisecond,
				WriteTimeout:    10 * time.Second,
				RequiredAcks:    -1,
				MaxMessageBytes: 1000000,
			},
		},
		Log: InternalLogConfig{
			Level:  "info",
			Format: "json",
		},
		Tables: make(map[string]InternalTableConfig),
	}
}

// newViper returns a viper instance seeded with the defaults, so that every
// key is known for environment overrides.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	raw, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	for _, key := range v.AllKeys() {
		v.SetDefault(key, v.Get(key))
	}
	return v, nil
}

// LoadFromFile loads configuration from a YAML or JSON file, with
// environment variables taking precedence. A missing file is an error.
func (cm *ConfigManager) LoadFromFile(filePath string) error {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml", ".json":
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}

	v, err := newViper()
	if err != nil {
		return err
	}
	v.SetConfigFile(filePath)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return cm.apply(v)
}

// LoadFromYAML loads configuration from YAML data.
func (cm *ConfigManager) LoadFromYAML(data []byte) error {
	return cm.loadFrom("yaml", data)
}

// LoadFromJSON loads configuration from JSON data.
func (cm *ConfigManager) LoadFromJSON(data []byte) error {
	return cm.loadFrom("json", data)
}

func (cm *ConfigManager) loadFrom(format string, data []byte) error {
	v, err := newViper()
	if err != nil {
		return err
	}
	if len(data) > 0 {
		v.SetConfigType(format)
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("failed to parse %s config: %w", strings.ToUpper(format), err)
		}
	}
	return cm.apply(v)
}

// LoadFromEnv loads configuration from defaults and environment variables.
// Variables follow the pattern ENTITY_DAO_<SECTION>_<KEY>, e.g.
//   - ENTITY_DAO_BACKEND_TYPE=redis
//   - ENTITY_DAO_BACKEND_REDIS_ENDPOINTS=localhost:6379,localhost:6380
//   - ENTITY_DAO_DISPATCH_TYPE=kafka
func (cm *ConfigManager) LoadFromEnv() error {
	v, err := newViper()
	if err != nil {
		return err
	}
	return cm.apply(v)
}

// LoadOptional loads filePath if it exists and falls back to defaults plus
// environment otherwise.
func (cm *ConfigManager) LoadOptional(filePath string) error {
	if filePath == "" {
		return cm.LoadFromEnv()
	}
	err := cm.LoadFromFile(filePath)
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		return cm.LoadFromEnv()
	}
	return err
}

func (cm *ConfigManager) apply(v *viper.Viper) error {
	config := &InternalConfig{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if config.Tables == nil {
		config.Tables = make(map[string]InternalTableConfig)
	}
	if err := cm.validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cm.mu.Lock()
	cm.config = config
	cm.mu.Unlock()
	return nil
}

// SetTables replaces the table overrides and keeps every other section. The
// previous configuration is not modified, so values handed out by GetConfig
// stay stable.
func (cm *ConfigManager) SetTables(tables map[string]InternalTableConfig) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	next := *cm.config
	next.Tables = make(map[string]InternalTableConfig, len(tables))
	for name, tc := range tables {
		next.Tables[name] = tc
	}
	if err := cm.validateConfig(&next); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cm.config = &next
	return nil
}

// GetConfig returns the current configuration.
func (cm *ConfigManager) GetConfig() *InternalConfig {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// GetTableConfig returns the overrides for a table, with the table name
// filled in when not overridden.
func (cm *ConfigManager) GetTableConfig(tableName string) InternalTableConfig {
	tc := cm.GetConfig().Tables[tableName]
	if tc.Name == "" {
		tc.Name = tableName
	}
	return tc
}

// YAML renders the effective configuration.
func (cm *ConfigManager) YAML() ([]byte, error) {
	return yaml.Marshal(cm.GetConfig())
}

// validateConfig checks struct tags, then the backend section through the
// validator registered for its type.
func (cm *ConfigManager) validateConfig(config *InternalConfig) error {
	if err := structValidator.Struct(config); err != nil {
		return err
	}

	v, exists := GetValidator(config.Backend.Type)
	if !exists {
		return fmt.Errorf("unsupported backend type: %s", config.Backend.Type)
	}
	if err := v.Validate(config); err != nil {
		return fmt.Errorf("backend validation failed: %w", err)
	}

	if config.Dispatch.Type == "kafka" {
		if len(config.Dispatch.Kafka.Brokers) == 0 {
			return fmt.Errorf("dispatch.kafka.brokers is required when dispatch.type is 'kafka'")
		}
		if config.Dispatch.Kafka.Topic == "" {
			return fmt.Errorf("dispatch.kafka.topic is required when dispatch.type is 'kafka'")
		}
	}

	for name, tc := range config.Tables {
		for category, kinds := range tc.Ignore {
			switch category {
			case "query", "read", "write", "delete":
			default:
				return fmt.Errorf("tables.%s.ignore: unknown category %q", name, category)
			}
			for _, kind := range kinds {
				if _, err := core.ParseErrorKind(kind); err != nil {
					return fmt.Errorf("tables.%s.ignore.%s: %w", name, category, err)
				}
			}
		}
	}
	return nil
}
