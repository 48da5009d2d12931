package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Error sources.
const (
	SourcePostgres = "postgres"
	SourceRedis    = "redis"
	SourceFile     = "file"
)

type Config struct {
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	Port     string `mapstructure:"PORT"`

	TerminologyAPIBaseURL     string        `mapstructure:"TERMINOLOGY_API_BASE_URL"`
	TerminologyAPITimeout     time.Duration `mapstructure:"TERMINOLOGY_API_TIMEOUT"`
	TerminologyAPIReadRetries int           `mapstructure:"TERMINOLOGY_API_READ_RETRIES"`
	ServiceAuthSigningKey     string        `mapstructure:"SERVICE_AUTH_SIGNING_KEY"`
	ServiceAuthIssuer         string        `mapstructure:"SERVICE_AUTH_ISSUER"`
	ServiceAuthAudience       string        `mapstructure:"SERVICE_AUTH_AUDIENCE"`

	ErrorSource string `mapstructure:"ERROR_SOURCE"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	ErrorStream string `mapstructure:"ERROR_STREAM"`
	ErrorFile   string `mapstructure:"ERROR_FILE"`

	WorkerConcurrency            int    `mapstructure:"WORKER_CONCURRENCY"`
	ValueSetVersionDescription   string `mapstructure:"VALUE_SET_VERSION_DESCRIPTION"`
	ConceptMapVersionDescription string `mapstructure:"CONCEPT_MAP_VERSION_DESCRIPTION"`

	PushgatewayURL    string `mapstructure:"PUSHGATEWAY_URL"`
	ReportS3Bucket    string `mapstructure:"REPORT_S3_BUCKET"`
	ReportS3Region    string `mapstructure:"REPORT_S3_REGION"`
	ReportS3Endpoint  string `mapstructure:"REPORT_S3_ENDPOINT"`
	ReportS3PathStyle bool   `mapstructure:"REPORT_S3_PATH_STYLE"`
	ReportS3Prefix    string `mapstructure:"REPORT_S3_PREFIX"`
}

var keys = []string{
	"ENV", "LOG_LEVEL", "PORT",
	"TERMINOLOGY_API_BASE_URL", "TERMINOLOGY_API_TIMEOUT", "TERMINOLOGY_API_READ_RETRIES",
	"SERVICE_AUTH_SIGNING_KEY", "SERVICE_AUTH_ISSUER", "SERVICE_AUTH_AUDIENCE",
	"ERROR_SOURCE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "ERROR_STREAM", "ERROR_FILE",
	"WORKER_CONCURRENCY", "VALUE_SET_VERSION_DESCRIPTION", "CONCEPT_MAP_VERSION_DESCRIPTION",
	"PUSHGATEWAY_URL",
	"REPORT_S3_BUCKET", "REPORT_S3_REGION", "REPORT_S3_ENDPOINT", "REPORT_S3_PATH_STYLE", "REPORT_S3_PREFIX",
}

// Load reads the environment, falling back to a .env file in the working
// directory when present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8000")
	v.SetDefault("TERMINOLOGY_API_TIMEOUT", "30s")
	v.SetDefault("TERMINOLOGY_API_READ_RETRIES", 2)
	v.SetDefault("SERVICE_AUTH_ISSUER", "infx-condition-incremental-load")
	v.SetDefault("ERROR_SOURCE", SourcePostgres)
	v.SetDefault("DB_MAX_CONNS", 5)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("ERROR_STREAM", "normalization:errors")
	v.SetDefault("WORKER_CONCURRENCY", 4)
	v.SetDefault("REPORT_S3_REGION", "us-east-1")
	v.SetDefault("REPORT_S3_PREFIX", "incremental-load")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ErrorSource = strings.ToLower(strings.TrimSpace(cfg.ErrorSource))

	if cfg.TerminologyAPIBaseURL == "" {
		return nil, fmt.Errorf("TERMINOLOGY_API_BASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks settings that depend on each other.
func (c *Config) Validate() error {
	u, err := url.Parse(c.TerminologyAPIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("TERMINOLOGY_API_BASE_URL must be an absolute URL, got %q", c.TerminologyAPIBaseURL)
	}
	if c.TerminologyAPITimeout <= 0 {
		return fmt.Errorf("TERMINOLOGY_API_TIMEOUT must be positive, got %s", c.TerminologyAPITimeout)
	}
	if c.TerminologyAPIReadRetries < 0 {
		return fmt.Errorf("TERMINOLOGY_API_READ_RETRIES must not be negative, got %d", c.TerminologyAPIReadRetries)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	if !c.IsDev() && c.ServiceAuthSigningKey == "" {
		return fmt.Errorf("SERVICE_AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}

	switch c.ErrorSource {
	case SourcePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when ERROR_SOURCE=postgres")
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	case SourceRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when ERROR_SOURCE=redis")
		}
		if c.ErrorStream == "" {
			return fmt.Errorf("ERROR_STREAM is required when ERROR_SOURCE=redis")
		}
	case SourceFile:
		if c.ErrorFile == "" {
			return fmt.Errorf("ERROR_FILE is required when ERROR_SOURCE=file")
		}
	default:
		return fmt.Errorf("ERROR_SOURCE must be \"postgres\", \"redis\", or \"file\", got %q", c.ErrorSource)
	}

	if c.ReportS3Endpoint != "" && c.ReportS3Bucket == "" {
		return fmt.Errorf("REPORT_S3_BUCKET is required when REPORT_S3_ENDPOINT is set")
	}
	return nil
}
