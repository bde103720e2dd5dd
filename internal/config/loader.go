package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rpattn/fieldmap/internal/db"
	"github.com/rpattn/fieldmap/internal/mapping"
	"github.com/rpattn/fieldmap/internal/repository"

	"github.com/spf13/viper"
)

// Store drivers understood by the application wiring.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config is the full application configuration.
type Config struct {
	Database db.Config
	Store    StoreConfig
	Cache    CacheConfig
	Mapping  MappingConfig
	Log      LogConfig
}

// StoreConfig selects the record store.
type StoreConfig struct {
	Driver string
	// Path is the SQLite database file, or the YAML fixture for the memory driver.
	Path string
	// SeedPath optionally names a YAML fixture written into the store at startup.
	SeedPath string
}

type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

type MappingConfig struct {
	MaxPasses int
}

type LogConfig struct {
	Level string
}

// Load reads config.yaml from configPath when present, then applies
// FIELDMAP_* environment overrides (FIELDMAP_STORE_DRIVER, FIELDMAP_CACHE_TTL, ...).
func Load(configPath string) (Config, error) {
	v := newViper(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		slog.Debug("no config.yaml found, using defaults and env vars", "path", configPath)
	} else {
		slog.Debug("loaded config", "file", v.ConfigFileUsed())
	}

	cfg := Config{
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Store: StoreConfig{
			Driver:   strings.ToLower(v.GetString("store.driver")),
			Path:     v.GetString("store.path"),
			SeedPath: v.GetString("store.seedPath"),
		},
		Cache: CacheConfig{
			Enabled: v.GetBool("cache.enabled"),
			TTL:     v.GetDuration("cache.ttl"),
		},
		Mapping: MappingConfig{
			MaxPasses: v.GetInt("mapping.maxPasses"),
		},
		Log: LogConfig{
			Level: strings.ToLower(v.GetString("log.level")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the application cannot start with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres, DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	if c.Mapping.MaxPasses < 0 || c.Mapping.MaxPasses > mapping.MaxPasses {
		return fmt.Errorf("mapping.maxPasses must be between 0 and %d", mapping.MaxPasses)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// LoadDBConfig returns only the database section.
func LoadDBConfig(configPath string) (db.Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return db.Config{}, err
	}
	return cfg.Database, nil
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("FIELDMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := db.DefaultConfig()
	v.SetDefault("database.host", defaults.Host)
	v.SetDefault("database.port", defaults.Port)
	v.SetDefault("database.user", defaults.User)
	v.SetDefault("database.password", defaults.Password)
	v.SetDefault("database.dbname", defaults.DBName)
	v.SetDefault("database.sslmode", defaults.SSLMode)

	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.path", "")
	v.SetDefault("store.seedPath", "")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", repository.DefaultCacheTTL)

	v.SetDefault("mapping.maxPasses", mapping.MaxPasses)
	v.SetDefault("log.level", "info")
	return v
}
