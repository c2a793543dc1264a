package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers
const (
	StoreDriverSQLite = "sqlite"
	StoreDriverMemory = "memory"
)

// Failed log backends
const (
	FailedLogStore = "store"
	FailedLogRedis = "redis"
)

// Remote targets for the sync queue
const (
	RemoteMongo = "mongo"
	RemoteNone  = "none"
)

// Config holds all configuration values
type Config struct {
	// Server configuration
	Port        int    `json:"port"`
	Environment string `json:"environment"`

	// Local store configuration
	StoreDriver string `json:"store_driver"`
	StorePath   string `json:"store_path"`

	// Eviction configuration
	CacheMaxSizeBytes     int64         `json:"cache_max_size_bytes"`
	CacheMaxItems         int           `json:"cache_max_items"`
	CacheTTL              time.Duration `json:"cache_ttl"`
	CacheCleanupInterval  time.Duration `json:"cache_cleanup_interval"`
	AnalysisRetention     time.Duration `json:"analysis_retention"`
	MaintenanceSchedule   string        `json:"maintenance_schedule"`
	EnableLRU             bool          `json:"enable_lru"`
	EnableSync            bool          `json:"enable_sync"`
	DefaultPhoneRegion    string        `json:"default_phone_region"`
	ConnectivityProbeTick time.Duration `json:"connectivity_probe_interval"`

	// Sync queue configuration
	SyncMaxRetries         int           `json:"sync_max_retries"`
	SyncRetryDelay         time.Duration `json:"sync_retry_delay"`
	SyncBatchSize          int           `json:"sync_batch_size"`
	SyncInterval           time.Duration `json:"sync_interval"`
	SyncConflictResolution string        `json:"sync_conflict_resolution"`
	SyncRemote             string        `json:"sync_remote"`
	SyncFailedLog          string        `json:"sync_failed_log"`
	SyncNamespace          string        `json:"sync_namespace"`

	// MongoDB configuration
	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`

	// Redis configuration
	RedisURI      string `json:"redis_uri"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`

	// Tracing configuration
	TracingEnabled     bool    `json:"tracing_enabled"`
	TracingEndpoint    string  `json:"tracing_endpoint"`
	TracingSampleRatio float64 `json:"tracing_sample_ratio"`
}

var (
	AppConfig *Config
)

var conflictResolutions = map[string]bool{
	"last-write-wins": true,
	"client-wins":     true,
	"server-wins":     true,
}

// LoadConfig loads configuration from environment variables
func LoadConfig() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// Load reads the configuration without touching AppConfig
func Load() (*Config, error) {
	var errs []string
	intVar := func(key, def string) int {
		v, err := strconv.Atoi(getEnvOrDefault(key, def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	int64Var := func(key, def string) int64 {
		v, err := strconv.ParseInt(getEnvOrDefault(key, def), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	boolVar := func(key, def string) bool {
		v, err := strconv.ParseBool(getEnvOrDefault(key, def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	floatVar := func(key, def string) float64 {
		v, err := strconv.ParseFloat(getEnvOrDefault(key, def), 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	durationVar := func(key, def string) time.Duration {
		v, err := time.ParseDuration(getEnvOrDefault(key, def))
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}

	cfg := &Config{
		// Server configuration
		Port:        intVar("PORT", "8080"),
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),

		// Local store configuration
		StoreDriver: strings.ToLower(getEnvOrDefault("STORE_DRIVER", StoreDriverSQLite)),
		StorePath:   getEnvOrDefault("STORE_PATH", "data/resume-cache.db"),

		// Eviction configuration
		CacheMaxSizeBytes:     int64Var("CACHE_MAX_SIZE_BYTES", "52428800"),
		CacheMaxItems:         intVar("CACHE_MAX_ITEMS", "1000"),
		CacheTTL:              durationVar("CACHE_TTL", "168h"),
		CacheCleanupInterval:  durationVar("CACHE_CLEANUP_INTERVAL", "1h"),
		AnalysisRetention:     durationVar("ANALYSIS_RETENTION", "720h"),
		MaintenanceSchedule:   getEnvOrDefault("MAINTENANCE_SCHEDULE", "@every 6h"),
		EnableLRU:             boolVar("ENABLE_LRU", "true"),
		EnableSync:            boolVar("ENABLE_SYNC", "true"),
		DefaultPhoneRegion:    strings.ToUpper(getEnvOrDefault("DEFAULT_PHONE_REGION", "BR")),
		ConnectivityProbeTick: durationVar("CONNECTIVITY_PROBE_INTERVAL", "10s"),

		// Sync queue configuration
		SyncMaxRetries:         intVar("SYNC_MAX_RETRIES", "3"),
		SyncRetryDelay:         durationVar("SYNC_RETRY_DELAY", "1s"),
		SyncBatchSize:          intVar("SYNC_BATCH_SIZE", "10"),
		SyncInterval:           durationVar("SYNC_INTERVAL", "30s"),
		SyncConflictResolution: strings.ToLower(getEnvOrDefault("SYNC_CONFLICT_RESOLUTION", "last-write-wins")),
		SyncRemote:             strings.ToLower(getEnvOrDefault("SYNC_REMOTE", RemoteMongo)),
		SyncFailedLog:          strings.ToLower(getEnvOrDefault("SYNC_FAILED_LOG", FailedLogStore)),
		SyncNamespace:          getEnvOrDefault("SYNC_NAMESPACE", "resume"),

		// MongoDB configuration
		MongoURI:      getEnvOrDefault("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnvOrDefault("MONGODB_DATABASE", "resume"),

		// Redis configuration
		RedisURI:      getEnvOrDefault("REDIS_URI", "localhost:6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       intVar("REDIS_DB", "0"),

		// Tracing configuration
		TracingEnabled:     boolVar("TRACING_ENABLED", "false"),
		TracingEndpoint:    getEnvOrDefault("TRACING_ENDPOINT", "localhost:4317"),
		TracingSampleRatio: floatVar("TRACING_SAMPLE_RATIO", "1"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverSQLite:
		if strings.TrimSpace(c.StorePath) == "" {
			return fmt.Errorf("STORE_PATH is required for the sqlite driver")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}

	if c.CacheMaxSizeBytes <= 0 {
		return fmt.Errorf("CACHE_MAX_SIZE_BYTES must be positive")
	}
	if c.CacheMaxItems <= 0 {
		return fmt.Errorf("CACHE_MAX_ITEMS must be positive")
	}
	if c.CacheTTL < 0 || c.AnalysisRetention < 0 {
		return fmt.Errorf("CACHE_TTL and ANALYSIS_RETENTION must not be negative")
	}
	if c.SyncMaxRetries < 0 {
		return fmt.Errorf("SYNC_MAX_RETRIES must not be negative")
	}
	if c.SyncBatchSize <= 0 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be positive")
	}
	if c.SyncRetryDelay <= 0 {
		return fmt.Errorf("SYNC_RETRY_DELAY must be positive")
	}
	if !conflictResolutions[c.SyncConflictResolution] {
		return fmt.Errorf("invalid SYNC_CONFLICT_RESOLUTION %q", c.SyncConflictResolution)
	}
	switch c.SyncRemote {
	case RemoteMongo, RemoteNone:
	default:
		return fmt.Errorf("invalid SYNC_REMOTE %q", c.SyncRemote)
	}
	switch c.SyncFailedLog {
	case FailedLogStore, FailedLogRedis:
	default:
		return fmt.Errorf("invalid SYNC_FAILED_LOG %q", c.SyncFailedLog)
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be between 0 and 1, got %g", c.TracingSampleRatio)
	}
	return nil
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
