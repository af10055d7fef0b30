// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	DBDriver   string `mapstructure:"DB_DRIVER"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`
	DBMaxConns int32  `mapstructure:"DB_MAX_CONNS"`
	SQLitePath string `mapstructure:"DB_SQLITE_PATH"`

	RedisURL string `mapstructure:"REDIS_URL"`

	SearchIndexPath   string `mapstructure:"SEARCH_INDEX_PATH"`
	SearchResultLimit int    `mapstructure:"SEARCH_RESULT_LIMIT"`

	QueueDriver   string        `mapstructure:"QUEUE_DRIVER"`
	QueueStream   string        `mapstructure:"QUEUE_STREAM"`
	QueueGroup    string        `mapstructure:"QUEUE_GROUP"`
	QueueBlock    time.Duration `mapstructure:"QUEUE_BLOCK"`
	QueueMinIdle  time.Duration `mapstructure:"QUEUE_RECLAIM_MIN_IDLE"`
	QueueBatch    int           `mapstructure:"QUEUE_BATCH"`
	IndexWorkers  int           `mapstructure:"INDEX_WORKERS"`
	IndexAttempts int           `mapstructure:"INDEX_MAX_ATTEMPTS"`
	IndexBackoff  time.Duration `mapstructure:"INDEX_RETRY_INITIAL"`

	ReindexBatchSize      int           `mapstructure:"REINDEX_BATCH_SIZE"`
	ReindexRefreshTimeout time.Duration `mapstructure:"REINDEX_REFRESH_TIMEOUT"`
	OutboxRelayInterval   time.Duration `mapstructure:"OUTBOX_RELAY_INTERVAL"`
	OutboxRelayBatch      int           `mapstructure:"OUTBOX_RELAY_BATCH"`

	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSampler  float64 `mapstructure:"TRACING_SAMPLER_RATIO"`

	DevBootstrapRoot bool   `mapstructure:"DEV_BOOTSTRAP_ROOT"`
	DevRootName      string `mapstructure:"DEV_ROOT_NAME"`
	DevRootEmail     string `mapstructure:"DEV_ROOT_EMAIL"`
	DevRootPassword  string `mapstructure:"DEV_ROOT_PASSWORD"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AutomaticEnv()

	// The base config file is optional.
	_ = v.ReadInConfig()

	env := v.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" {
		v.SetConfigName("config." + env)
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if env != "test" || !errors.As(err, &notFound) {
				return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
			}
		} else {
			log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
		}
	}

	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8375")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "postscript")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 25)
	v.SetDefault("DB_SQLITE_PATH", "postscript.db")

	v.SetDefault("REDIS_URL", "localhost:6379")

	v.SetDefault("SEARCH_INDEX_PATH", "")
	v.SetDefault("SEARCH_RESULT_LIMIT", 50)

	v.SetDefault("QUEUE_DRIVER", "redis")
	v.SetDefault("QUEUE_STREAM", "comments:index")
	v.SetDefault("QUEUE_GROUP", "indexer")
	v.SetDefault("QUEUE_BLOCK", 2*time.Second)
	v.SetDefault("QUEUE_RECLAIM_MIN_IDLE", time.Minute)
	v.SetDefault("QUEUE_BATCH", 32)
	v.SetDefault("INDEX_WORKERS", 8)
	v.SetDefault("INDEX_MAX_ATTEMPTS", 5)
	v.SetDefault("INDEX_RETRY_INITIAL", 200*time.Millisecond)

	v.SetDefault("REINDEX_BATCH_SIZE", 100)
	v.SetDefault("REINDEX_REFRESH_TIMEOUT", 30*time.Second)
	v.SetDefault("OUTBOX_RELAY_INTERVAL", 5*time.Second)
	v.SetDefault("OUTBOX_RELAY_BATCH", 100)

	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	v.SetDefault("TRACING_SAMPLER_RATIO", 1.0)

	v.SetDefault("DEV_BOOTSTRAP_ROOT", false)
	v.SetDefault("DEV_ROOT_NAME", "postscript_root")
	v.SetDefault("DEV_ROOT_EMAIL", "root@postscript.local")
	v.SetDefault("DEV_ROOT_PASSWORD", "")
}

// IsProduction reports whether the config targets a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	switch strings.ToLower(c.DBDriver) {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}

	switch strings.ToLower(c.QueueDriver) {
	case "redis", "memory":
	default:
		return fmt.Errorf("QUEUE_DRIVER must be redis or memory, got %q", c.QueueDriver)
	}

	if c.IndexWorkers <= 0 {
		return errors.New("INDEX_WORKERS must be positive")
	}
	if c.IndexAttempts <= 0 {
		return errors.New("INDEX_MAX_ATTEMPTS must be positive")
	}
	if c.ReindexBatchSize <= 0 {
		return errors.New("REINDEX_BATCH_SIZE must be positive")
	}

	if c.IsProduction() {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBDriver == "postgres" && (c.DBPassword == "password" || c.DBPassword == "") {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.QueueDriver == "memory" {
			log.Println("WARNING: QUEUE_DRIVER is 'memory' in production. Index events are lost on restart until the outbox relay redelivers them.")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

// PostgresDSN builds the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	sslMode := c.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, sslMode,
	)
}
