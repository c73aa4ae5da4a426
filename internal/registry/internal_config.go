package registry

import (
	"time"
)

// InternalConfig is the complete runtime configuration. The public
// entitydao.Config is an alias of this type.
type InternalConfig struct {
	Namespace string                         `mapstructure:"namespace" yaml:"namespace" json:"namespace" validate:"required"`
	Backend   InternalBackendConfig          `mapstructure:"backend" yaml:"backend" json:"backend"`
	Dispatch  InternalDispatchConfig         `mapstructure:"dispatch" yaml:"dispatch" json:"dispatch"`
	Log       InternalLogConfig              `mapstructure:"log" yaml:"log" json:"log"`
	Tables    map[string]InternalTableConfig `mapstructure:"tables" yaml:"tables,omitempty" json:"tables,omitempty" validate:"dive"`
}

// InternalBackendConfig selects and configures the storage backend.
// Supports the document stores (sqlite, mysql) and the key-value stores
// (redis, dynamodb) through the factory registry.
type InternalBackendConfig struct {
	Type         string                 `mapstructure:"type" yaml:"type" json:"type" validate:"required"`
	SQL          InternalSQLConfig      `mapstructure:"sql" yaml:"sql,omitempty" json:"sql,omitempty"`
	Redis        InternalRedisConfig    `mapstructure:"redis" yaml:"redis,omitempty" json:"redis,omitempty"`
	DynamoDB     InternalDynamoDBConfig `mapstructure:"dynamodb" yaml:"dynamodb,omitempty" json:"dynamodb,omitempty"`
	MaxRetries   int                    `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries" validate:"gte=0"`
	DialTimeout  time.Duration          `mapstructure:"dial_timeout" yaml:"dial_timeout" json:"dial_timeout" validate:"gt=0"`
	ReadTimeout  time.Duration          `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration          `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout" validate:"gte=0"`
}

// InternalSQLConfig configures the SQL document store. Path is used by
// sqlite; the network fields by mysql.
type InternalSQLConfig struct {
	Path            string        `mapstructure:"path" yaml:"path,omitempty" json:"path,omitempty"`
	Host            string        `mapstructure:"host" yaml:"host,omitempty" json:"host,omitempty"`
	Port            int           `mapstructure:"port" yaml:"port,omitempty" json:"port,omitempty" validate:"gte=0,lte=65535"`
	Database        string        `mapstructure:"database" yaml:"database,omitempty" json:"database,omitempty"`
	Username        string        `mapstructure:"username" yaml:"username,omitempty" json:"username,omitempty"`
	Password        string        `mapstructure:"password" yaml:"password,omitempty" json:"password,omitempty"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// InternalRedisConfig contains Redis-specific configuration.
type InternalRedisConfig struct {
	Endpoints    []string `mapstructure:"endpoints" yaml:"endpoints,omitempty" json:"endpoints,omitempty"`
	Password     string   `mapstructure:"password" yaml:"password,omitempty" json:"password,omitempty"`
	DB           int      `mapstructure:"db" yaml:"db" json:"db" validate:"gte=0"`
	PoolSize     int      `mapstructure:"pool_size" yaml:"pool_size" json:"pool_size" validate:"gte=0"`
	MinIdleConns int      `mapstructure:"min_idle_conns" yaml:"min_idle_conns" json:"min_idle_conns" validate:"gte=0"`
	ScanCount    int64    `mapstructure:"scan_count" yaml:"scan_count" json:"scan_count" validate:"gte=0"`
}

// InternalDynamoDBConfig contains DynamoDB-specific configuration.
type InternalDynamoDBConfig struct {
	Region          string `mapstructure:"region" yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// InternalDispatchConfig selects the background task dispatcher.
type InternalDispatchConfig struct {
	Type       string              `mapstructure:"type" yaml:"type" json:"type" validate:"oneof=memory kafka"`
	BufferSize int                 `mapstructure:"buffer_size" yaml:"buffer_size" json:"buffer_size" validate:"gt=0"`
	Kafka      InternalKafkaConfig `mapstructure:"kafka" yaml:"kafka" json:"kafka"`
}

// InternalKafkaConfig contains Kafka-specific configuration.
type InternalKafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers" yaml:"brokers" json:"brokers"`
	Topic           string        `mapstructure:"topic" yaml:"topic" json:"topic"`
	BatchSize       int           `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size" validate:"gte=0"`
	BatchTimeout    time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout" json:"batch_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	RequiredAcks    int           `mapstructure:"required_acks" yaml:"required_acks" json:"required_acks" validate:"oneof=-1 0 1"`
	MaxMessageBytes int           `mapstructure:"max_message_bytes" yaml:"max_message_bytes" json:"max_message_bytes" validate:"gte=0"`
}

// InternalLogConfig configures the process logger.
type InternalLogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" json:"format" validate:"oneof=json text"`
}

// InternalTableConfig contains table-specific overrides.
type InternalTableConfig struct {
	// Name stores the schema's records under a different table name.
	Name string `mapstructure:"name" yaml:"name,omitempty" json:"name,omitempty"`

	// ScanRate caps records per second for full scans. Zero is unthrottled.
	ScanRate float64 `mapstructure:"scan_rate" yaml:"scan_rate,omitempty" json:"scan_rate,omitempty" validate:"gte=0"`

	// Ignore lists extra ignorable error kinds per operation category,
	// e.g. {"write": ["record_exists"]}.
	Ignore map[string][]string `mapstructure:"ignore" yaml:"ignore,omitempty" json:"ignore,omitempty"`
}
