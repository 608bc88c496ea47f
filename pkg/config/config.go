package config

import "time"

// Store backend constants
const (
	// StoreBackendRedis reads and writes a live Redis keyspace
	StoreBackendRedis = "redis"
	// StoreBackendMemory uses an in-process keyspace seeded from a YAML fixture
	StoreBackendMemory = "memory"
)

// Ordered list kind constants
const (
	// OrderedListKindList stores GET results as a list (RPUSH in order)
	OrderedListKindList = "list"
	// OrderedListKindZSet stores GET results as a sorted set scored by position
	OrderedListKindZSet = "zset"
)

// Refresh misfire policy constants
const (
	MisfirePolicySkip     = "skip"
	MisfirePolicyFireOnce = "fire_once"
)

// Config is the root configuration structure for the tabular service
type Config struct {
	Service       ServiceConfig       `mapstructure:"service"`
	Store         StoreConfig         `mapstructure:"store"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Query         QueryConfig         `mapstructure:"query"`
	Management    ManagementConfig    `mapstructure:"management"`
	Refresh       RefreshConfig       `mapstructure:"refresh"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StoreConfig selects where records live.
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // redis, memory
	Fixture string `mapstructure:"fixture"` // YAML seed for the memory backend
}

// RedisConfig configures the Redis record and result store.
type RedisConfig struct {
	URL              string        `mapstructure:"url"`
	MaxConns         int           `mapstructure:"max_conns"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	ScanCount        int64         `mapstructure:"scan_count"`
}

// QueryConfig tunes query execution and destination writes.
type QueryConfig struct {
	FetchBatchSize     int    `mapstructure:"fetch_batch_size"`
	OrderedListKind    string `mapstructure:"ordered_list_kind"` // list, zset
	ClearStaleCounters bool   `mapstructure:"clear_stale_counters"`
}

// ManagementConfig configures the management HTTP server
type ManagementConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RefreshConfig configures periodic re-materialization of stored queries.
type RefreshConfig struct {
	LockPrefix      string        `mapstructure:"lock_prefix"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`

	// FailureThreshold pauses a task's schedule after this many consecutive failures; 0 disables.
	FailureThreshold int           `mapstructure:"failure_threshold"`
	FailureCooldown  time.Duration `mapstructure:"failure_cooldown"`

	Tasks []RefreshTaskConfig `mapstructure:"tasks"`
}

// RefreshTaskConfig describes one refresh task from configuration.
type RefreshTaskConfig struct {
	Name string `mapstructure:"name"`
	// Schedule is "@every <duration>" or a five-field cron expression.
	Schedule string `mapstructure:"schedule"`
	// Command is a whitespace-separated TABULAR.GET or TABULAR.COUNT invocation with STORE.
	Command       string        `mapstructure:"command"`
	Timezone      string        `mapstructure:"timezone"`
	LockTTL       time.Duration `mapstructure:"lock_ttl"`
	MisfirePolicy string        `mapstructure:"misfire_policy"` // skip, fire_once
}

// ObservabilityConfig configures logging, metrics and tracing
type ObservabilityConfig struct {
	LogLevel          string  `mapstructure:"log_level"`
	LogFormat         string  `mapstructure:"log_format"` // json, text
	MetricsEnabled    bool    `mapstructure:"metrics_enabled"`
	TracingEnabled    bool    `mapstructure:"tracing_enabled"`
	TracingEndpoint   string  `mapstructure:"tracing_endpoint"`
	TracingInsecure   bool    `mapstructure:"tracing_insecure"`
	TracingSampleRate float64 `mapstructure:"tracing_sample_rate"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "tabular",
			Environment: "production",
		},
		Store: StoreConfig{
			Backend: StoreBackendRedis,
		},
		Redis: RedisConfig{
			URL:              "redis://localhost:6379/0",
			MaxConns:         10,
			OperationTimeout: 5 * time.Second,
			ScanCount:        500,
		},
		Query: QueryConfig{
			FetchBatchSize:     512,
			OrderedListKind:    OrderedListKindList,
			ClearStaleCounters: true,
		},
		Management: ManagementConfig{
			Enabled:         true,
			Port:            9090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Refresh: RefreshConfig{
			LockPrefix:       "tabular:lock",
			LockTTL:          30 * time.Second,
			DispatchTimeout:  30 * time.Second,
			RatePerSecond:    10,
			Burst:            1,
			FailureThreshold: 5,
			FailureCooldown:  time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			MetricsEnabled:    true,
			TracingEnabled:    false,
			TracingInsecure:   true,
			TracingSampleRate: 0.1,
		},
	}
}
