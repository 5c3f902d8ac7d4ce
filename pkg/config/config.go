package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig holds the complete configuration for the application
type AppConfig struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	ServiceName string         `mapstructure:"service_name"`
	Scrape      ScrapeConfig   `mapstructure:"scrape"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Ingest      IngestConfig   `mapstructure:"ingest"`
	Server      ServerConfig   `mapstructure:"server"`
}

type ScrapeConfig struct {
	PlayerCountURL string        `mapstructure:"player_count_url"`
	WorldsURL      string        `mapstructure:"worlds_url"`
	Interval       time.Duration `mapstructure:"interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

type PostgresConfig struct {
	URI             string        `mapstructure:"uri"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig configures the shared latest-snapshot cache. An empty Addr
// means no Redis; the process falls back to its in-memory cache.
type RedisConfig struct {
	Addr        string `mapstructure:"addr"`
	SnapshotKey string `mapstructure:"snapshot_key"`
}

type IngestConfig struct {
	WorkerCount   int           `mapstructure:"worker_count"`
	SpoolCapacity int           `mapstructure:"spool_capacity"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	ObsAddr string `mapstructure:"obs_addr"`
}

// Load loads configuration from file and environment variables
func Load(path string) (*AppConfig, error) {
	v := viper.New()

	// Default values
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("scrape.player_count_url", "https://www.runescape.com/player_count.js?varname=iPlayerCount&callback=jQuery000000000000000_0000000000&_=0")
	v.SetDefault("scrape.worlds_url", "https://oldschool.runescape.com/slu")
	v.SetDefault("scrape.interval", 5*time.Minute)
	v.SetDefault("scrape.request_timeout", 20*time.Second)
	v.SetDefault("scrape.user_agent", "Mozilla/5.0")
	v.SetDefault("postgres.uri", "")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.snapshot_key", "rscount:latest_worlds")
	v.SetDefault("ingest.worker_count", 2)
	v.SetDefault("ingest.spool_capacity", 100)
	v.SetDefault("ingest.flush_interval", 30*time.Second)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.obs_addr", ":8081")

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	// Bind environment variables explicitly for nested structs to ensure Unmarshal picks them up
	v.BindEnv("service_name", "SERVICE_NAME")
	v.BindEnv("environment", "ENVIRONMENT")
	v.BindEnv("log_level", "LOG_LEVEL")
	v.BindEnv("scrape.player_count_url", "SCRAPE_PLAYER_COUNT_URL")
	v.BindEnv("scrape.worlds_url", "SCRAPE_WORLDS_URL")
	v.BindEnv("scrape.interval", "SCRAPE_INTERVAL")
	v.BindEnv("scrape.request_timeout", "SCRAPE_REQUEST_TIMEOUT")
	v.BindEnv("scrape.user_agent", "SCRAPE_USER_AGENT")
	v.BindEnv("postgres.uri", "POSTGRES_URI")
	v.BindEnv("postgres.max_conns", "POSTGRES_MAX_CONNS")
	v.BindEnv("postgres.min_conns", "POSTGRES_MIN_CONNS")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.snapshot_key", "REDIS_SNAPSHOT_KEY")
	v.BindEnv("ingest.worker_count", "INGEST_WORKER_COUNT")
	v.BindEnv("ingest.spool_capacity", "INGEST_SPOOL_CAPACITY")
	v.BindEnv("ingest.flush_interval", "INGEST_FLUSH_INTERVAL")
	v.BindEnv("server.addr", "SERVER_ADDR")
	v.BindEnv("server.obs_addr", "SERVER_OBS_ADDR")

	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *AppConfig) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service_name is required")
	}
	if c.Postgres.URI == "" {
		return errors.New("postgres.uri is required")
	}
	if c.Scrape.PlayerCountURL == "" {
		return errors.New("scrape.player_count_url is required")
	}
	if c.Scrape.WorldsURL == "" {
		return errors.New("scrape.worlds_url is required")
	}
	if c.Scrape.Interval <= 0 {
		return errors.New("scrape.interval must be positive")
	}
	if c.Ingest.WorkerCount < 1 {
		return errors.New("ingest.worker_count must be at least 1")
	}
	if c.Ingest.SpoolCapacity < 1 {
		return errors.New("ingest.spool_capacity must be at least 1")
	}
	return nil
}
