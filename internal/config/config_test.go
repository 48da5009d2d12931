package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                       "development",
		TerminologyAPIBaseURL:     "https://terminology.example.org/api",
		TerminologyAPITimeout:     30 * time.Second,
		TerminologyAPIReadRetries: 2,
		ErrorSource:               SourcePostgres,
		DatabaseURL:               "postgres://loader@localhost:5432/errors",
		DBMaxConns:                5,
		DBMinConns:                1,
		WorkerConcurrency:         4,
	}
}

func TestLoad_RequiresBaseURL(t *testing.T) {
	t.Setenv("TERMINOLOGY_API_BASE_URL", "")
	_, err := Load()
	assert.ErrorContains(t, err, "TERMINOLOGY_API_BASE_URL is required")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TERMINOLOGY_API_BASE_URL", "https://terminology.example.org/api")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.TerminologyAPITimeout)
	assert.Equal(t, 2, cfg.TerminologyAPIReadRetries)
	assert.Equal(t, SourcePostgres, cfg.ErrorSource)
	assert.Equal(t, int32(5), cfg.DBMaxConns)
	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, "normalization:errors", cfg.ErrorStream)
	assert.Equal(t, "incremental-load", cfg.ReportS3Prefix)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("TERMINOLOGY_API_BASE_URL", "https://terminology.example.org/api")
	t.Setenv("TERMINOLOGY_API_TIMEOUT", "5s")
	t.Setenv("ERROR_SOURCE", " Redis ")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("REPORT_S3_PATH_STYLE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.TerminologyAPITimeout)
	assert.Equal(t, SourceRedis, cfg.ErrorSource)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 8, cfg.WorkerConcurrency)
	assert.True(t, cfg.ReportS3PathStyle)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"valid", func(c *Config) {}, ""},
		{"relative base url", func(c *Config) { c.TerminologyAPIBaseURL = "terminology/api" }, "absolute URL"},
		{"zero timeout", func(c *Config) { c.TerminologyAPITimeout = 0 }, "TERMINOLOGY_API_TIMEOUT"},
		{"negative retries", func(c *Config) { c.TerminologyAPIReadRetries = -1 }, "READ_RETRIES"},
		{"no workers", func(c *Config) { c.WorkerConcurrency = 0 }, "WORKER_CONCURRENCY"},
		{"production without signing key", func(c *Config) { c.Env = "production" }, "SERVICE_AUTH_SIGNING_KEY"},
		{"postgres without url", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"pool bounds", func(c *Config) { c.DBMinConns = 10 }, "DB_MIN_CONNS"},
		{"redis without url", func(c *Config) { c.ErrorSource = SourceRedis }, "REDIS_URL"},
		{"file without path", func(c *Config) { c.ErrorSource = SourceFile }, "ERROR_FILE"},
		{"file", func(c *Config) { c.ErrorSource = SourceFile; c.ErrorFile = "errors.json" }, ""},
		{"unknown source", func(c *Config) { c.ErrorSource = "kafka" }, "ERROR_SOURCE"},
		{"endpoint without bucket", func(c *Config) { c.ReportS3Endpoint = "http://minio:9000" }, "REPORT_S3_BUCKET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	assert.True(t, c.IsDev())
	c.Env = "production"
	assert.False(t, c.IsDev())
}
