package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "MATCHSTATS_"

// Config is the top-level application config.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Redis       RedisConfig       `koanf:"redis"`
	Cache       CacheConfig       `koanf:"cache"`
	Aggregation AggregationConfig `koanf:"aggregation"`
	Fallback    FallbackConfig    `koanf:"fallback"`
	Refresh     RefreshConfig     `koanf:"refresh"`
	Batch       BatchConfig       `koanf:"batch"`
}

type ServerConfig struct {
	Port int    `koanf:"port"`
	Host string `koanf:"host"`
	Mode string `koanf:"mode"` // debug | release
}

type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

type RedisConfig struct {
	Addr              string        `koanf:"addr"`
	Password          string        `koanf:"password"`
	DB                int           `koanf:"db"`
	DialTimeout       time.Duration `koanf:"dial_timeout"`
	OpTimeout         time.Duration `koanf:"op_timeout"`
	ReconnectBase     time.Duration `koanf:"reconnect_base"`
	ReconnectMax      time.Duration `koanf:"reconnect_max"`
	ReconnectAttempts int           `koanf:"reconnect_attempts"`
}

type CacheConfig struct {
	Enabled     bool          `koanf:"enabled"`
	KeyPrefix   string        `koanf:"key_prefix"`
	TTLShort    time.Duration `koanf:"ttl_short"`
	TTLLong     time.Duration `koanf:"ttl_long"`
	TTLDegraded time.Duration `koanf:"ttl_degraded"`
	LocalSize   int           `koanf:"local_size"` // 0 disables the in-process tier
	LocalTTL    time.Duration `koanf:"local_ttl"`
}

type AggregationConfig struct {
	MinGames       int64         `koanf:"min_games"`
	RankWindow     int           `koanf:"rank_window"`
	RebuildTimeout time.Duration `koanf:"rebuild_timeout"`
	AllowDiskSpill bool          `koanf:"allow_disk_spill"`

	// PersistSnapshots stores snapshots in postgres; false keeps them in
	// process memory only and every restart starts cold.
	PersistSnapshots bool `koanf:"persist_snapshots"`
}

type FallbackConfig struct {
	SnapshotTimeout time.Duration `koanf:"snapshot_timeout"`
	LiveTimeout     time.Duration `koanf:"live_timeout"`
	SourceCooldown  time.Duration `koanf:"source_cooldown"`
	DefaultsPath    string        `koanf:"defaults_path"`
}

type RefreshConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Interval     time.Duration `koanf:"interval"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	StaleAfter   time.Duration `koanf:"stale_after"`
	Parallelism  int           `koanf:"parallelism"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
}

type BatchConfig struct {
	ChunkSize   int           `koanf:"chunk_size"`
	MaxAttempts int           `koanf:"max_attempts"`
	BackoffBase time.Duration `koanf:"backoff_base"`
	BackoffMax  time.Duration `koanf:"backoff_max"`
}

const redacted = "REDACTED"

// plainConfig has Config's fields without its LogValue method.
type plainConfig Config

// LogValue keeps credentials out of the startup log.
func (c Config) LogValue() slog.Value {
	safe := c
	safe.Database.DSN = redactDSN(c.Database.DSN)
	if safe.Redis.Password != "" {
		safe.Redis.Password = redacted
	}
	return slog.AnyValue(plainConfig(safe))
}

// redactDSN masks the password of a URL-style DSN. Key/value DSNs cannot be
// masked reliably and are dropped whole.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return redacted
	}
	return u.Redacted()
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d (must be 1-65535)", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Mode != "debug" && c.Server.Mode != "release" {
		return fmt.Errorf("invalid server.mode %q (must be debug or release)", c.Server.Mode)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be > 0")
	}
	if c.Database.MaxIdleConns <= 0 {
		return fmt.Errorf("database.max_idle_conns must be > 0")
	}

	if c.Cache.Enabled {
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required when cache.enabled is true")
		}
		if c.Redis.OpTimeout <= 0 {
			return fmt.Errorf("redis.op_timeout must be > 0")
		}
		if c.Redis.ReconnectAttempts <= 0 {
			return fmt.Errorf("redis.reconnect_attempts must be > 0")
		}
		if c.Redis.ReconnectBase <= 0 || c.Redis.ReconnectMax < c.Redis.ReconnectBase {
			return fmt.Errorf("redis.reconnect_base must be > 0 and <= redis.reconnect_max")
		}
	}
	if c.Cache.TTLShort <= 0 || c.Cache.TTLLong <= 0 || c.Cache.TTLDegraded <= 0 {
		return fmt.Errorf("cache.ttl_short, cache.ttl_long and cache.ttl_degraded must be > 0")
	}
	if c.Cache.LocalSize < 0 {
		return fmt.Errorf("cache.local_size must be >= 0")
	}
	if c.Cache.LocalSize > 0 && c.Cache.LocalTTL <= 0 {
		return fmt.Errorf("cache.local_ttl must be > 0 when cache.local_size is set")
	}

	if c.Aggregation.MinGames < 0 {
		return fmt.Errorf("aggregation.min_games must be >= 0")
	}
	if c.Aggregation.RankWindow <= 0 {
		return fmt.Errorf("aggregation.rank_window must be > 0")
	}
	if c.Aggregation.RebuildTimeout <= 0 {
		return fmt.Errorf("aggregation.rebuild_timeout must be > 0")
	}

	if c.Fallback.SnapshotTimeout <= 0 {
		return fmt.Errorf("fallback.snapshot_timeout must be > 0")
	}
	if c.Fallback.LiveTimeout <= 0 {
		return fmt.Errorf("fallback.live_timeout must be > 0")
	}

	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be > 0")
	}
	if c.Refresh.InitialDelay < 0 {
		return fmt.Errorf("refresh.initial_delay must be >= 0")
	}
	if c.Refresh.StaleAfter < 0 {
		return fmt.Errorf("refresh.stale_after must be >= 0")
	}
	if c.Refresh.Parallelism <= 0 {
		return fmt.Errorf("refresh.parallelism must be > 0")
	}
	if c.Refresh.ReadTimeout <= 0 {
		return fmt.Errorf("refresh.read_timeout must be > 0")
	}

	if c.Batch.ChunkSize <= 0 {
		return fmt.Errorf("batch.chunk_size must be > 0")
	}
	if c.Batch.MaxAttempts <= 0 {
		return fmt.Errorf("batch.max_attempts must be > 0")
	}
	if c.Batch.BackoffBase <= 0 || c.Batch.BackoffMax < c.Batch.BackoffBase {
		return fmt.Errorf("batch.backoff_base must be > 0 and <= batch.backoff_max")
	}

	return nil
}

// Load parses config from defaults, file and env, then validates it.
// Env vars use the MATCHSTATS_ prefix with "__" separating sections,
// e.g. MATCHSTATS_REDIS__ADDR.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":                   8080,
		"server.host":                   "0.0.0.0",
		"server.mode":                   "release",
		"database.dsn":                  "postgres://localhost:5432/matchstats?sslmode=disable",
		"database.max_open_conns":       25,
		"database.max_idle_conns":       25,
		"database.auto_migrate":         true,
		"redis.addr":                    "localhost:6379",
		"redis.password":                "",
		"redis.db":                      0,
		"redis.dial_timeout":            "2s",
		"redis.op_timeout":              "200ms",
		"redis.reconnect_base":          "500ms",
		"redis.reconnect_max":           "30s",
		"redis.reconnect_attempts":      10,
		"cache.enabled":                 true,
		"cache.key_prefix":              "matchstats:",
		"cache.ttl_short":               "5m",
		"cache.ttl_long":                "2h",
		"cache.ttl_degraded":            "30s",
		"cache.local_size":              0,
		"cache.local_ttl":               "30s",
		"aggregation.min_games":         50,
		"aggregation.rank_window":       3,
		"aggregation.rebuild_timeout":   "10m",
		"aggregation.allow_disk_spill":  false,
		"aggregation.persist_snapshots": true,
		"fallback.snapshot_timeout":     "2s",
		"fallback.live_timeout":         "10s",
		"fallback.source_cooldown":      "30s",
		"fallback.defaults_path":        "",
		"refresh.enabled":               true,
		"refresh.interval":              "2h",
		"refresh.initial_delay":         "10s",
		"refresh.stale_after":           "0s",
		"refresh.parallelism":           2,
		"refresh.read_timeout":          "2s",
		"batch.chunk_size":              500,
		"batch.max_attempts":            5,
		"batch.backoff_base":            "200ms",
		"batch.backoff_max":             "30s",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
