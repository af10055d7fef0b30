package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:              "development",
		JWTSecret:        "secure-secret-at-least-32-chars-long",
		Port:             "8080",
		DBDriver:         "sqlite",
		DBPassword:       "secure-password",
		QueueDriver:      "memory",
		IndexWorkers:     4,
		IndexAttempts:    3,
		ReindexBatchSize: 100,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"valid development config", func(_ *Config) {}, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"unknown db driver", func(c *Config) { c.DBDriver = "mysql" }, true},
		{"unknown queue driver", func(c *Config) { c.QueueDriver = "kafka" }, true},
		{"zero workers", func(c *Config) { c.IndexWorkers = 0 }, true},
		{"zero attempts", func(c *Config) { c.IndexAttempts = 0 }, true},
		{"zero reindex batch", func(c *Config) { c.ReindexBatchSize = 0 }, true},
		{"production with default secret", func(c *Config) {
			c.Env = "production"
			c.JWTSecret = "your-secret-key-change-in-production"
		}, true},
		{"production with short secret", func(c *Config) {
			c.Env = "prod"
			c.JWTSecret = "short"
		}, true},
		{"production postgres with weak password", func(c *Config) {
			c.Env = "production"
			c.DBDriver = "postgres"
			c.DBPassword = "password"
		}, true},
		{"production postgres with strong password", func(c *Config) {
			c.Env = "production"
			c.DBDriver = "postgres"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("QUEUE_DRIVER", "memory")
	t.Setenv("INDEX_WORKERS", "3")
	t.Setenv("INDEX_RETRY_INITIAL", "50ms")

	c, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "test", c.Env)
	assert.Equal(t, "sqlite", c.DBDriver)
	assert.Equal(t, "memory", c.QueueDriver)
	assert.Equal(t, 3, c.IndexWorkers)
	assert.Equal(t, 50*time.Millisecond, c.IndexBackoff)
	assert.Equal(t, 100, c.ReindexBatchSize)
	assert.Equal(t, "comments:index", c.QueueStream)
}

func TestConfig_PostgresDSN(t *testing.T) {
	c := &Config{DBHost: "db", DBPort: "5432", DBUser: "u", DBPassword: "p", DBName: "n"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", c.PostgresDSN())
}
