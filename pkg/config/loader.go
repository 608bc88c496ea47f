package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      *pflag.FlagSet
}

// flagKeys maps CLI flag names to configuration keys. Flags only override when set.
var flagKeys = map[string]string{
	"store-backend":   "store.backend",
	"fixture":         "store.fixture",
	"redis-url":       "redis.url",
	"log-level":       "observability.log_level",
	"log-format":      "observability.log_format",
	"management-port": "management.port",
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "TABULAR")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithFlags lets explicitly set command-line flags override every other source.
func (l *ViperLoader) WithFlags(flags *pflag.FlagSet) *ViperLoader {
	if l == nil {
		return l
	}
	l.flags = flags
	return l
}

// Load loads configuration with precedence: flags > ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	cfg, _, err := l.load(false)
	return cfg, err
}

func (l *ViperLoader) load(withSecrets bool) (*Config, *Config, error) {
	v := viper.New()

	// Start with defaults
	l.setDefaults(v, DefaultConfig())

	// Read config file if provided
	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	var secrets *Config
	if withSecrets {
		var err error
		if secrets, err = l.mergeSecrets(v); err != nil {
			return nil, nil, err
		}
	}

	// Environment variables override file config through explicit bindings.
	v.SetEnvPrefix(l.envPrefix)
	l.bindEnvVars(v)

	if err := l.bindFlags(v); err != nil {
		return nil, nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, secrets, nil
}

// bindEnvVars binds environment variables to configuration keys
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	// Service
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// Store
	v.BindEnv("store.backend", l.prefixedEnv("STORE_BACKEND"))
	v.BindEnv("store.fixture", l.prefixedEnv("STORE_FIXTURE"))

	// Redis
	v.BindEnv("redis.url", l.prefixedEnv("REDIS_URL"))
	v.BindEnv("redis.max_conns", l.prefixedEnv("REDIS_MAX_CONNS"))
	v.BindEnv("redis.operation_timeout", l.prefixedEnv("REDIS_OPERATION_TIMEOUT"))
	v.BindEnv("redis.scan_count", l.prefixedEnv("REDIS_SCAN_COUNT"))

	// Query
	v.BindEnv("query.fetch_batch_size", l.prefixedEnv("QUERY_FETCH_BATCH_SIZE"))
	v.BindEnv("query.ordered_list_kind", l.prefixedEnv("QUERY_ORDERED_LIST_KIND"))
	v.BindEnv("query.clear_stale_counters", l.prefixedEnv("QUERY_CLEAR_STALE_COUNTERS"))

	// Management
	v.BindEnv("management.enabled", l.prefixedEnv("MGMT_ENABLED"))
	v.BindEnv("management.port", l.prefixedEnv("MGMT_PORT"))
	v.BindEnv("management.read_timeout", l.prefixedEnv("MGMT_READ_TIMEOUT"))
	v.BindEnv("management.write_timeout", l.prefixedEnv("MGMT_WRITE_TIMEOUT"))
	v.BindEnv("management.shutdown_timeout", l.prefixedEnv("MGMT_SHUTDOWN_TIMEOUT"))

	// Refresh (tasks come from the config file only)
	v.BindEnv("refresh.lock_prefix", l.prefixedEnv("REFRESH_LOCK_PREFIX"))
	v.BindEnv("refresh.lock_ttl", l.prefixedEnv("REFRESH_LOCK_TTL"))
	v.BindEnv("refresh.dispatch_timeout", l.prefixedEnv("REFRESH_DISPATCH_TIMEOUT"))
	v.BindEnv("refresh.rate_per_second", l.prefixedEnv("REFRESH_RATE_PER_SECOND"))
	v.BindEnv("refresh.burst", l.prefixedEnv("REFRESH_BURST"))
	v.BindEnv("refresh.failure_threshold", l.prefixedEnv("REFRESH_FAILURE_THRESHOLD"))
	v.BindEnv("refresh.failure_cooldown", l.prefixedEnv("REFRESH_FAILURE_COOLDOWN"))

	// Observability
	v.BindEnv("observability.log_level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.metrics_enabled", l.prefixedEnv("METRICS_ENABLED"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
	v.BindEnv("observability.tracing_insecure", l.prefixedEnv("TRACING_INSECURE"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
}

func (l *ViperLoader) bindFlags(v *viper.Viper) error {
	if l.flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := l.flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "TABULAR"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.fixture", cfg.Store.Fixture)

	v.SetDefault("redis.url", cfg.Redis.URL)
	v.SetDefault("redis.max_conns", cfg.Redis.MaxConns)
	v.SetDefault("redis.operation_timeout", cfg.Redis.OperationTimeout)
	v.SetDefault("redis.scan_count", cfg.Redis.ScanCount)

	v.SetDefault("query.fetch_batch_size", cfg.Query.FetchBatchSize)
	v.SetDefault("query.ordered_list_kind", cfg.Query.OrderedListKind)
	v.SetDefault("query.clear_stale_counters", cfg.Query.ClearStaleCounters)

	v.SetDefault("management.enabled", cfg.Management.Enabled)
	v.SetDefault("management.port", cfg.Management.Port)
	v.SetDefault("management.read_timeout", cfg.Management.ReadTimeout)
	v.SetDefault("management.write_timeout", cfg.Management.WriteTimeout)
	v.SetDefault("management.shutdown_timeout", cfg.Management.ShutdownTimeout)

	v.SetDefault("refresh.lock_prefix", cfg.Refresh.LockPrefix)
	v.SetDefault("refresh.lock_ttl", cfg.Refresh.LockTTL)
	v.SetDefault("refresh.dispatch_timeout", cfg.Refresh.DispatchTimeout)
	v.SetDefault("refresh.rate_per_second", cfg.Refresh.RatePerSecond)
	v.SetDefault("refresh.burst", cfg.Refresh.Burst)
	v.SetDefault("refresh.failure_threshold", cfg.Refresh.FailureThreshold)
	v.SetDefault("refresh.failure_cooldown", cfg.Refresh.FailureCooldown)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.metrics_enabled", cfg.Observability.MetricsEnabled)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
	v.SetDefault("observability.tracing_insecure", cfg.Observability.TracingInsecure)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
}

// Validate checks the configuration and reports every problem at once.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	cfg.Query.OrderedListKind = strings.ToLower(strings.TrimSpace(cfg.Query.OrderedListKind))
	cfg.Observability.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Observability.LogLevel))
	cfg.Observability.LogFormat = strings.ToLower(strings.TrimSpace(cfg.Observability.LogFormat))

	if strings.TrimSpace(cfg.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}

	validBackends := []string{StoreBackendRedis, StoreBackendMemory}
	if !contains(validBackends, cfg.Store.Backend) {
		errs = append(errs, fmt.Errorf("invalid store.backend: %s (must be one of: %v)", cfg.Store.Backend, validBackends))
	}
	if cfg.Store.Backend == StoreBackendRedis {
		if strings.TrimSpace(cfg.Redis.URL) == "" {
			errs = append(errs, errors.New("redis.url is required when store.backend is redis"))
		}
		if cfg.Redis.MaxConns < 0 {
			errs = append(errs, errors.New("redis.max_conns cannot be negative"))
		}
		if cfg.Redis.OperationTimeout <= 0 {
			errs = append(errs, errors.New("redis.operation_timeout must be positive"))
		}
		if cfg.Redis.ScanCount <= 0 {
			errs = append(errs, errors.New("redis.scan_count must be positive"))
		}
	}

	if cfg.Query.FetchBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid query.fetch_batch_size: %d (must be positive)", cfg.Query.FetchBatchSize))
	}
	validKinds := []string{OrderedListKindList, OrderedListKindZSet}
	if !contains(validKinds, cfg.Query.OrderedListKind) {
		errs = append(errs, fmt.Errorf("invalid query.ordered_list_kind: %s (must be one of: %v)", cfg.Query.OrderedListKind, validKinds))
	}

	if cfg.Management.Enabled {
		if cfg.Management.Port <= 0 || cfg.Management.Port > 65535 {
			errs = append(errs, fmt.Errorf("invalid management.port: %d (must be between 1 and 65535)", cfg.Management.Port))
		}
	}

	errs = append(errs, validateRefresh(&cfg.Refresh)...)

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, cfg.Observability.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %s (must be one of: %v)", cfg.Observability.LogLevel, validLogLevels))
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, cfg.Observability.LogFormat) {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %s (must be one of: %v)", cfg.Observability.LogFormat, validLogFormats))
	}

	if cfg.Observability.TracingEnabled && cfg.Observability.TracingEndpoint == "" {
		errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
	}
	if cfg.Observability.TracingSampleRate < 0 || cfg.Observability.TracingSampleRate > 1 {
		errs = append(errs, fmt.Errorf("invalid observability.tracing_sample_rate: %v (must be between 0 and 1)", cfg.Observability.TracingSampleRate))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validateRefresh(cfg *RefreshConfig) []error {
	var errs []error
	if cfg.LockTTL <= 0 {
		errs = append(errs, errors.New("refresh.lock_ttl must be positive"))
	}
	if cfg.DispatchTimeout <= 0 {
		errs = append(errs, errors.New("refresh.dispatch_timeout must be positive"))
	}
	if cfg.RatePerSecond <= 0 {
		errs = append(errs, errors.New("refresh.rate_per_second must be positive"))
	}
	if cfg.Burst <= 0 {
		errs = append(errs, errors.New("refresh.burst must be positive"))
	}
	if cfg.FailureThreshold < 0 {
		errs = append(errs, errors.New("refresh.failure_threshold cannot be negative"))
	}
	if cfg.FailureThreshold > 0 && cfg.FailureCooldown <= 0 {
		errs = append(errs, errors.New("refresh.failure_cooldown must be positive when failure_threshold is set"))
	}

	seen := make(map[string]struct{}, len(cfg.Tasks))
	validPolicies := []string{"", MisfirePolicySkip, MisfirePolicyFireOnce}
	for index, task := range cfg.Tasks {
		name := strings.TrimSpace(task.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("refresh.tasks[%d].name is required", index))
		} else if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("refresh.tasks[%d].name %q is duplicated", index, name))
		}
		seen[name] = struct{}{}

		if strings.TrimSpace(task.Schedule) == "" {
			errs = append(errs, fmt.Errorf("refresh.tasks[%d].schedule is required", index))
		}
		if strings.TrimSpace(task.Command) == "" {
			errs = append(errs, fmt.Errorf("refresh.tasks[%d].command is required", index))
		}
		if task.LockTTL < 0 {
			errs = append(errs, fmt.Errorf("refresh.tasks[%d].lock_ttl cannot be negative", index))
		}
		if !contains(validPolicies, strings.TrimSpace(task.MisfirePolicy)) {
			errs = append(errs, fmt.Errorf("refresh.tasks[%d].misfire_policy must be one of %v", index, validPolicies[1:]))
		}
	}
	return errs
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
