package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr           = ":8080"
	DefaultRedisAddr      = "localhost:6379"
	DefaultAggregateLimit = 8
)

// Config holds the server settings.
type Config struct {
	Addr      string `yaml:"addr"`
	DSN       string `yaml:"db_dsn"`
	JWTSecret string `yaml:"jwt_secret"`
	RedisAddr string `yaml:"redis_addr"`
	// Broker selects the event transport: "redis" or "memory".
	Broker         string `yaml:"broker"`
	LogLevel       string `yaml:"log_level"`
	AggregateLimit int    `yaml:"aggregate_limit"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Addr:           DefaultAddr,
		RedisAddr:      DefaultRedisAddr,
		Broker:         "redis",
		LogLevel:       "info",
		AggregateLimit: DefaultAggregateLimit,
	}
}

// Load layers, lowest first: defaults, the YAML file at path (skipped when
// path is empty), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"ADDR":       &c.Addr,
		"DB_DSN":     &c.DSN,
		"JWT_SECRET": &c.JWTSecret,
		"REDIS_ADDR": &c.RedisAddr,
		"BROKER":     &c.Broker,
		"LOG_LEVEL":  &c.LogLevel,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("AGGREGATE_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse AGGREGATE_LIMIT: %w", err)
		}
		c.AggregateLimit = n
	}
	return nil
}

// Validate reports every missing or malformed setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.DSN == "" {
		errs = append(errs, errors.New("DB_DSN is not set"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is not set"))
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is empty"))
	}
	switch c.Broker {
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is not set"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown broker %q", c.Broker))
	}
	if c.AggregateLimit <= 0 {
		errs = append(errs, fmt.Errorf("aggregate_limit must be > 0, got %d", c.AggregateLimit))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
