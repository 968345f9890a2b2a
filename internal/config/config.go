package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"badgehub/internal/validation"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server  ServerConfig
	Engine  EngineConfig
	Local   LocalStoreConfig
	Remote  RemoteConfig
	Cache   CacheConfig
	Queue   QueueConfig
	Logging LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string        `validate:"required"`
	Host            string        `validate:"required"`
	Environment     string        `validate:"required,oneof=development staging production test"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	IdleTimeout     time.Duration `validate:"gt=0"`
	GracefulTimeout time.Duration `validate:"gt=0"`
	CORSOrigin      string
}

// EngineConfig holds the award engine options.
type EngineConfig struct {
	// UseMockCatalog skips the remote catalog fetch and serves the bundled
	// catalog.
	UseMockCatalog bool
	// RemoteTimeoutMs bounds every remote call made on the award path.
	RemoteTimeoutMs int `validate:"gte=1,lte=600000"`
	// StreakTimezone is the IANA zone whose calendar days streaks count.
	StreakTimezone string `validate:"required,timezone"`
	// SeedFile optionally points at a YAML list of default awards.
	SeedFile string
}

// RemoteTimeout returns RemoteTimeoutMs as a duration.
func (e EngineConfig) RemoteTimeout() time.Duration {
	return time.Duration(e.RemoteTimeoutMs) * time.Millisecond
}

// StreakLocation resolves StreakTimezone.
func (e EngineConfig) StreakLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(e.StreakTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid STREAK_TIMEZONE %q: %w", e.StreakTimezone, err)
	}
	return loc, nil
}

// LocalStoreConfig holds the durable local store configuration
type LocalStoreConfig struct {
	Path        string        `validate:"required"`
	BusyTimeout time.Duration `validate:"gte=0"`
}

// RemoteConfig holds the remote backend configuration. An empty URL is a
// valid, unconfigured remote.
type RemoteConfig struct {
	DatabaseURL     string
	AutoMigrate     bool
	MaxOpenConns    int           `validate:"gte=1"`
	MaxIdleConns    int           `validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `validate:"gt=0"`
	PingInterval    time.Duration `validate:"gt=0"`
}

// Configured reports whether a remote backend URL is set.
func (r RemoteConfig) Configured() bool {
	return strings.TrimSpace(r.DatabaseURL) != ""
}

// CacheConfig holds the shared catalog cache configuration
type CacheConfig struct {
	Provider      string        `validate:"required,oneof=memory redis"`
	TTL           time.Duration `validate:"gt=0"`
	RedisURL      string        `validate:"required_if=Provider redis"`
	RedisPassword string
	RedisDB       int `validate:"gte=0"`
	PoolSize      int `validate:"gte=0"`
}

// QueueConfig holds the offline queue flusher configuration
type QueueConfig struct {
	FlushInterval    time.Duration `validate:"gt=0"`
	MaxBackoff       time.Duration `validate:"gtefield=FlushInterval"`
	BatchSize        int           `validate:"gte=1"`
	OperationTimeout time.Duration `validate:"gt=0"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `validate:"required,oneof=debug info warn error"`
	Format string `validate:"required,oneof=json console"`
}

// Load reads the environment (and an optional .env file) into a validated
// Config.
func Load() (*Config, error) {
	env := getEnv("GO_ENV", "development")
	if env != "production" {
		envFile := fmt.Sprintf(".env.%s", env)
		if _, err := os.Stat(envFile); err == nil {
			_ = godotenv.Load(envFile)
		} else {
			_ = godotenv.Load()
		}
	}

	cfg := &Config{
		Server:  loadServerConfig(env),
		Engine:  loadEngineConfig(),
		Local:   loadLocalStoreConfig(),
		Remote:  loadRemoteConfig(env),
		Cache:   loadCacheConfig(),
		Queue:   loadQueueConfig(),
		Logging: loadLoggingConfig(env),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig(env string) ServerConfig {
	config := ServerConfig{
		Port:            getEnv("PORT", "9000"),
		Host:            getEnv("SERVER_HOST", "0.0.0.0"),
		Environment:     env,
		ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		GracefulTimeout: getDurationEnv("GRACEFUL_TIMEOUT", 30*time.Second),
		CORSOrigin:      getEnv("CORS_ORIGIN", "*"),
	}

	if env == "development" {
		config.GracefulTimeout = getDurationEnv("GRACEFUL_TIMEOUT", 10*time.Second)
	}

	return config
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		UseMockCatalog:  getBoolEnv("USE_MOCK_CATALOG", false),
		RemoteTimeoutMs: getIntEnv("REMOTE_TIMEOUT_MS", 3000),
		StreakTimezone:  getEnv("STREAK_TIMEZONE", "UTC"),
		SeedFile:        getEnv("AWARD_SEED_FILE", ""),
	}
}

func loadLocalStoreConfig() LocalStoreConfig {
	return LocalStoreConfig{
		Path:        getEnv("LOCAL_STORE_PATH", "./data/badgehub.db"),
		BusyTimeout: getDurationEnv("LOCAL_STORE_BUSY_TIMEOUT", 5*time.Second),
	}
}

func loadRemoteConfig(env string) RemoteConfig {
	config := RemoteConfig{
		DatabaseURL:     getEnv("REMOTE_DATABASE_URL", ""),
		AutoMigrate:     getBoolEnv("REMOTE_AUTO_MIGRATE", env != "production"),
		MaxOpenConns:    getIntEnv("REMOTE_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getIntEnv("REMOTE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getDurationEnv("REMOTE_CONN_MAX_LIFETIME", 5*time.Minute),
		PingInterval:    getDurationEnv("REMOTE_PING_INTERVAL", 30*time.Second),
	}

	if env == "production" && config.Configured() && !strings.Contains(config.DatabaseURL, "sslmode=") {
		config.DatabaseURL = withSSLMode(config.DatabaseURL)
	}
	if config.MaxIdleConns > config.MaxOpenConns {
		config.MaxIdleConns = config.MaxOpenConns
	}

	return config
}

// withSSLMode appends sslmode=require in the URL or keyword/value form
func withSSLMode(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if strings.Contains(dsn, "?") {
			return dsn + "&sslmode=require"
		}
		return dsn + "?sslmode=require"
	}
	return dsn + " sslmode=require"
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Provider:      strings.ToLower(getEnv("CACHE_PROVIDER", "memory")),
		TTL:           getDurationEnv("CACHE_TTL", 24*time.Hour),
		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		PoolSize:      getIntEnv("REDIS_POOL_SIZE", 10),
	}
}

func loadQueueConfig() QueueConfig {
	return QueueConfig{
		FlushInterval:    getDurationEnv("QUEUE_FLUSH_INTERVAL", 30*time.Second),
		MaxBackoff:       getDurationEnv("QUEUE_MAX_BACKOFF", 10*time.Minute),
		BatchSize:        getIntEnv("QUEUE_BATCH_SIZE", 500),
		OperationTimeout: getDurationEnv("QUEUE_OPERATION_TIMEOUT", 5*time.Second),
	}
}

func loadLoggingConfig(env string) LoggingConfig {
	return LoggingConfig{
		Level:  strings.ToLower(getEnv("LOG_LEVEL", getDefaultLogLevel(env))),
		Format: strings.ToLower(getEnv("LOG_FORMAT", getDefaultLogFormat(env))),
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    interface{}
	}{
		{"server", &c.Server},
		{"engine", &c.Engine},
		{"local store", &c.Local},
		{"remote", &c.Remote},
		{"cache", &c.Cache},
		{"queue", &c.Queue},
		{"logging", &c.Logging},
	}

	for _, section := range sections {
		if err := validation.ValidateStruct(section.v); err != nil {
			return fmt.Errorf("%s config: %w", section.name, err)
		}
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getDefaultLogLevel(env string) string {
	switch env {
	case "production":
		return "info"
	default:
		return "debug"
	}
}

func getDefaultLogFormat(env string) string {
	switch env {
	case "production":
		return "json"
	default:
		return "console"
	}
}
