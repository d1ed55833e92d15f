package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Valkey      ValkeyConfig      `mapstructure:"valkey"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Temporal    TemporalConfig    `mapstructure:"temporal"`
	Store       StoreConfig       `mapstructure:"store"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr      string `mapstructure:"addr"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// StoreConfig selects the point data source.
type StoreConfig struct {
	Backend     string `mapstructure:"backend"` // postgres | memory
	DatasetPath string `mapstructure:"dataset_path"`
}

// AggregationConfig tunes the aggregation engine and viewport sessions.
type AggregationConfig struct {
	MaxPointsInMemory    int           `mapstructure:"max_points_in_memory"`
	GridLat              int           `mapstructure:"grid_lat"`
	GridLon              int           `mapstructure:"grid_lon"`
	BufferFraction       float64       `mapstructure:"buffer_fraction"`
	KeepAlive            time.Duration `mapstructure:"keep_alive"`
	IncludeEmptyClusters bool          `mapstructure:"include_empty_clusters"`
	AlwaysCluster        bool          `mapstructure:"always_cluster"`
	CellFailurePolicy    string        `mapstructure:"cell_failure_policy"`
	NativeGrid           bool          `mapstructure:"native_grid"`
	MaxParallelQueries   int           `mapstructure:"max_parallel_queries"`
	CacheTTLSeconds      int           `mapstructure:"cache_ttl_seconds"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "towermap")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "towermap")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("valkey.key_prefix", "towermap:")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "towermap-dataset")
	v.SetDefault("store.backend", "postgres")
	v.SetDefault("store.dataset_path", "")
	v.SetDefault("aggregation.max_points_in_memory", 8000)
	v.SetDefault("aggregation.grid_lat", 8)
	v.SetDefault("aggregation.grid_lon", 8)
	v.SetDefault("aggregation.buffer_fraction", 0.0)
	v.SetDefault("aggregation.keep_alive", 5*time.Second)
	v.SetDefault("aggregation.include_empty_clusters", false)
	v.SetDefault("aggregation.always_cluster", false)
	v.SetDefault("aggregation.cell_failure_policy", "fail")
	v.SetDefault("aggregation.native_grid", false)
	v.SetDefault("aggregation.max_parallel_queries", 16)
	v.SetDefault("aggregation.cache_ttl_seconds", 30)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: TOWERMAP_AGGREGATION_GRID_LAT → aggregation.grid_lat
	v.SetEnvPrefix("TOWERMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	switch c.Store.Backend {
	case "postgres":
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required")
		}
	case "memory":
		if c.Store.DatasetPath == "" {
			errs = append(errs, "store.dataset_path is required for the memory backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend must be postgres or memory, got %q", c.Store.Backend))
	}

	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}

	a := c.Aggregation
	if a.MaxPointsInMemory < 0 {
		errs = append(errs, "aggregation.max_points_in_memory must not be negative")
	}
	if a.GridLat < 1 || a.GridLon < 1 {
		errs = append(errs, fmt.Sprintf("aggregation grid must be at least 1x1, got %dx%d", a.GridLat, a.GridLon))
	}
	if a.BufferFraction < 0 {
		errs = append(errs, "aggregation.buffer_fraction must not be negative")
	}
	if a.KeepAlive < 0 {
		errs = append(errs, "aggregation.keep_alive must not be negative")
	}
	if a.CellFailurePolicy != "fail" && a.CellFailurePolicy != "empty" {
		errs = append(errs, fmt.Sprintf("aggregation.cell_failure_policy must be fail or empty, got %q", a.CellFailurePolicy))
	}
	if a.MaxParallelQueries < 1 {
		errs = append(errs, "aggregation.max_parallel_queries must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
