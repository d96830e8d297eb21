package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration loaded from the TOML file.
// Command-line flags in main may override individual values after loading.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	S3         S3Config         `toml:"s3"`
	LocalCache LocalCacheConfig `toml:"local_cache"`
	POP3       POP3Config       `toml:"pop3"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Logging    LoggingConfig    `toml:"logging"`
}

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string `toml:"host"`
	Port            string `toml:"port"`
	User            string `toml:"user"`
	Password        string `toml:"password"`
	Name            string `toml:"name"`
	TLSMode         bool   `toml:"tls"`
	LogQueries      bool   `toml:"log_queries"`
	MaxConns        int    `toml:"max_conns"`          // Maximum number of connections in the pool
	MinConns        int    `toml:"min_conns"`          // Minimum number of connections in the pool
	MaxConnLifetime string `toml:"max_conn_lifetime"`  // Maximum lifetime of a connection
	MaxConnIdleTime string `toml:"max_conn_idle_time"` // Maximum idle time before a connection is closed
}

// GetMaxConnLifetime parses the max connection lifetime duration.
func (d *DatabaseConfig) GetMaxConnLifetime() (time.Duration, error) {
	if d.MaxConnLifetime == "" {
		return time.Hour, nil
	}
	return time.ParseDuration(d.MaxConnLifetime)
}

// GetMaxConnIdleTime parses the max connection idle time duration.
func (d *DatabaseConfig) GetMaxConnIdleTime() (time.Duration, error) {
	if d.MaxConnIdleTime == "" {
		return 30 * time.Minute, nil
	}
	return time.ParseDuration(d.MaxConnIdleTime)
}

// S3Config holds the object storage settings for raw message bodies.
type S3Config struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseTLS    bool   `toml:"tls"`
	Trace     bool   `toml:"trace"` // Trace S3 operations
}

// LocalCacheConfig holds settings for the on-disk message body cache.
type LocalCacheConfig struct {
	Path            string `toml:"path"`
	CapacityMB      int64  `toml:"capacity_mb"`        // Total cache capacity
	MaxObjectSizeMB int64  `toml:"max_object_size_mb"` // Largest body the cache will store
	PurgeInterval   string `toml:"purge_interval"`
}

// GetPurgeInterval parses the cache purge interval.
func (c *LocalCacheConfig) GetPurgeInterval() (time.Duration, error) {
	if c.PurgeInterval == "" {
		return 12 * time.Hour, nil
	}
	return time.ParseDuration(c.PurgeInterval)
}

// POP3Config holds the POP3 listener and maildrop behavior settings.
type POP3Config struct {
	Start    bool   `toml:"start"`
	Addr     string `toml:"addr"`
	Hostname string `toml:"hostname"` // Announced in the greeting banner

	// AllowDelete is a deployment-wide switch. When false, QUIT reports
	// success but marked messages are never deleted from the backend.
	AllowDelete bool `toml:"allow_delete"`

	// RequirePassword disables credential verification when false. Any
	// password is accepted for an existing inbox. Intended for trusted
	// test environments only.
	RequirePassword bool `toml:"require_password"`
}

// MetricsConfig holds the Prometheus/health HTTP endpoint settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// LoggingConfig holds logging output settings.
type LoggingConfig struct {
	Output string `toml:"output"` // "stdout", "stderr", "syslog" or a file path
	Format string `toml:"format"` // "console" or "json"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
}

// NewDefaultConfig returns a configuration with production defaults.
func NewDefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Name:     "dunlin",
			MaxConns: 10,
			MinConns: 2,
		},
		S3: S3Config{
			UseTLS: true,
		},
		LocalCache: LocalCacheConfig{
			Path:            "/var/cache/dunlin",
			CapacityMB:      1024,
			MaxObjectSizeMB: 32,
		},
		POP3: POP3Config{
			Start:           true,
			Addr:            ":110",
			AllowDelete:     true,
			RequirePassword: true,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9090",
		},
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
	}
}

// Load reads the TOML file at path into cfg, leaving defaults in place for
// any keys the file does not set. A missing file is not an error so that
// flag-only deployments keep working.
func Load(path string, cfg *Config) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg.Validate()
}

// Validate checks settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	if _, err := c.Database.GetMaxConnLifetime(); err != nil {
		return fmt.Errorf("invalid database.max_conn_lifetime: %w", err)
	}
	if _, err := c.Database.GetMaxConnIdleTime(); err != nil {
		return fmt.Errorf("invalid database.max_conn_idle_time: %w", err)
	}
	if _, err := c.LocalCache.GetPurgeInterval(); err != nil {
		return fmt.Errorf("invalid local_cache.purge_interval: %w", err)
	}
	if c.POP3.Start && c.POP3.Addr == "" {
		return fmt.Errorf("pop3.addr must be set when pop3.start is enabled")
	}
	return nil
}
