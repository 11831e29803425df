package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/thumbforge/internal/db"
	"github.com/rpattn/thumbforge/internal/tracing"
)

const envPrefix = "THUMBFORGE"

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   db.Config        `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Versioning VersioningConfig `mapstructure:"versioning"`
	Templates  TemplatesConfig  `mapstructure:"templates"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    tracing.Config   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `mapstructure:"backend"`
}

type VersioningConfig struct {
	RecordNoopUpdates bool `mapstructure:"record_noop_updates"`
	RetentionDays     int  `mapstructure:"retention_days"`
}

type TemplatesConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	tracingDefaults := tracing.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.max_conns", 5)

	v.SetDefault("storage.backend", BackendPostgres)

	v.SetDefault("versioning.record_noop_updates", true)
	v.SetDefault("versioning.retention_days", 90)

	v.SetDefault("templates.cache_ttl", 5*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("tracing.enabled", tracingDefaults.Enabled)
	v.SetDefault("tracing.exporter", tracingDefaults.Exporter)
	v.SetDefault("tracing.otlp_endpoint", tracingDefaults.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", tracingDefaults.SampleRate)
	v.SetDefault("tracing.service_name", tracingDefaults.ServiceName)
}

// Load reads config.yaml from configPath (a directory or a file path) and
// applies THUMBFORGE_* environment overrides, e.g. THUMBFORGE_DATABASE_HOST.
// A missing config.yaml in a directory is not an error.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	ext := strings.ToLower(filepath.Ext(configPath))
	if ext == ".yaml" || ext == ".yml" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if configPath == "" {
			configPath = "."
		}
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendPostgres:
		if c.Database.Host == "" || c.Database.DBName == "" {
			errs = append(errs, errors.New("database.host and database.dbname are required for the postgres backend"))
		}
		if c.Database.Port <= 0 {
			errs = append(errs, fmt.Errorf("database.port must be positive, got %d", c.Database.Port))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", BackendPostgres, BackendMemory, c.Storage.Backend))
	}
	if c.Versioning.RetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("versioning.retention_days must be positive, got %d", c.Versioning.RetentionDays))
	}
	if c.Templates.CacheTTL < 0 {
		errs = append(errs, errors.New("templates.cache_ttl cannot be negative"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate must be within [0,1], got %v", c.Tracing.SampleRate))
	}
	return errors.Join(errs...)
}

// splitList flattens comma-separated entries, as env overrides arrive as one string.
func splitList(values []string) []string {
	var out []string
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
