// Package config loads server and CLI settings from defaults, an optional
// TOML file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"
)

// Rate cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheSQLite = "sqlite"
)

type Config struct {
	// HTTP server
	Port string

	// Database
	DBPath string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// Rates
	RateSourceURL         string
	RateFetchTimeout      time.Duration
	RateCacheTTL          time.Duration
	RateCache             string
	RateRequestsPerSecond float64
	BreakerMaxFailures    uint32
	BreakerCooldown       time.Duration
	RedisAddr             string

	// AMQP; an empty URL disables deferred-rate messages.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Logging
	LogLevel  string
	LogFormat string
}

// fileConfig mirrors Config in a TOML file. Durations are Go duration strings.
type fileConfig struct {
	Port                  string  `toml:"port"`
	DBPath                string  `toml:"db_path"`
	JWTSecret             string  `toml:"jwt_secret"`
	TokenTTL              string  `toml:"token_ttl"`
	RateSourceURL         string  `toml:"rate_source_url"`
	RateFetchTimeout      string  `toml:"rate_fetch_timeout"`
	RateCacheTTL          string  `toml:"rate_cache_ttl"`
	RateCache             string  `toml:"rate_cache"`
	RateRequestsPerSecond float64 `toml:"rate_requests_per_second"`
	BreakerMaxFailures    uint32  `toml:"breaker_max_failures"`
	BreakerCooldown       string  `toml:"breaker_cooldown"`
	RedisAddr             string  `toml:"redis_addr"`
	AMQPURL               string  `toml:"amqp_url"`
	AMQPExchange          string  `toml:"amqp_exchange"`
	AMQPQueue             string  `toml:"amqp_queue"`
	LogLevel              string  `toml:"log_level"`
	LogFormat             string  `toml:"log_format"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:                  "8080",
		DBPath:                "./data/ledger.db",
		TokenTTL:              24 * time.Hour,
		RateSourceURL:         "https://open.er-api.com/v6/latest",
		RateFetchTimeout:      5 * time.Second,
		RateCacheTTL:          120 * time.Hour,
		RateCache:             CacheSQLite,
		RateRequestsPerSecond: 1,
		BreakerMaxFailures:    5,
		BreakerCooldown:       time.Minute,
		RedisAddr:             "localhost:6379",
		AMQPExchange:          "groupledger",
		AMQPQueue:             "rate_deferred",
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// Load reads a .env file if present, then CONFIG_FILE, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var f fileConfig
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Port, f.Port)
	setString(&c.DBPath, f.DBPath)
	setString(&c.JWTSecret, f.JWTSecret)
	setString(&c.RateSourceURL, f.RateSourceURL)
	setString(&c.RateCache, f.RateCache)
	setString(&c.RedisAddr, f.RedisAddr)
	setString(&c.AMQPURL, f.AMQPURL)
	setString(&c.AMQPExchange, f.AMQPExchange)
	setString(&c.AMQPQueue, f.AMQPQueue)
	setString(&c.LogLevel, f.LogLevel)
	setString(&c.LogFormat, f.LogFormat)
	if f.RateRequestsPerSecond != 0 {
		c.RateRequestsPerSecond = f.RateRequestsPerSecond
	}
	if f.BreakerMaxFailures != 0 {
		c.BreakerMaxFailures = f.BreakerMaxFailures
	}

	var errs []error
	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"token_ttl", f.TokenTTL, &c.TokenTTL},
		{"rate_fetch_timeout", f.RateFetchTimeout, &c.RateFetchTimeout},
		{"rate_cache_ttl", f.RateCacheTTL, &c.RateCacheTTL},
		{"breaker_cooldown", f.BreakerCooldown, &c.BreakerCooldown},
	} {
		if err := setDuration(d.dst, d.key, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.Port, os.Getenv("PORT"))
	setString(&c.DBPath, os.Getenv("DB_PATH"))
	setString(&c.JWTSecret, os.Getenv("JWT_SECRET"))
	setString(&c.RateSourceURL, os.Getenv("RATE_SOURCE_URL"))
	setString(&c.RateCache, os.Getenv("RATE_CACHE"))
	setString(&c.RedisAddr, os.Getenv("REDIS_ADDR"))
	setString(&c.AMQPURL, os.Getenv("AMQP_URL"))
	setString(&c.AMQPExchange, os.Getenv("AMQP_EXCHANGE"))
	setString(&c.AMQPQueue, os.Getenv("AMQP_QUEUE"))
	setString(&c.LogLevel, os.Getenv("LOG_LEVEL"))
	setString(&c.LogFormat, os.Getenv("LOG_FORMAT"))

	var errs []error
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"TOKEN_TTL", &c.TokenTTL},
		{"RATE_FETCH_TIMEOUT", &c.RateFetchTimeout},
		{"RATE_CACHE_TTL", &c.RateCacheTTL},
		{"BREAKER_COOLDOWN", &c.BreakerCooldown},
	} {
		if err := setDuration(d.dst, d.key, os.Getenv(d.key)); err != nil {
			errs = append(errs, err)
		}
	}
	if v := os.Getenv("RATE_REQUESTS_PER_SECOND"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_REQUESTS_PER_SECOND: %w", err))
		} else {
			c.RateRequestsPerSecond = rps
		}
	}
	if v := os.Getenv("BREAKER_MAX_FAILURES"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("BREAKER_MAX_FAILURES: %w", err))
		} else {
			c.BreakerMaxFailures = uint32(n)
		}
	}
	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.DBPath == "" {
		problems = append(problems, "database path cannot be empty")
	}

	if u, err := url.Parse(c.RateSourceURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		problems = append(problems, fmt.Sprintf("invalid rate source URL '%s'", c.RateSourceURL))
	}
	if c.RateFetchTimeout <= 0 {
		problems = append(problems, "rate fetch timeout must be positive")
	}
	if c.RateCacheTTL <= 0 {
		problems = append(problems, "rate cache TTL must be positive")
	}
	if c.RateRequestsPerSecond <= 0 {
		problems = append(problems, "rate requests per second must be positive")
	}
	if c.BreakerCooldown <= 0 {
		problems = append(problems, "breaker cooldown must be positive")
	}

	switch c.RateCache {
	case CacheMemory, CacheSQLite:
	case CacheRedis:
		if c.RedisAddr == "" {
			problems = append(problems, "redis address is required when using the redis rate cache")
		}
	default:
		problems = append(problems, fmt.Sprintf("invalid rate cache '%s': must be one of %v",
			c.RateCache, []string{CacheMemory, CacheRedis, CacheSQLite}))
	}

	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQPExchange == "" {
			problems = append(problems, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			problems = append(problems, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// Secret returns the JWT signing secret.
func (c *Config) Secret() (string, error) {
	if c.JWTSecret == "" {
		return "", errors.New("JWT_SECRET is not set")
	}
	return c.JWTSecret, nil
}
