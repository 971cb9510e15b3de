package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the hiveroute daemon.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DatabaseURL    string // Postgres DSN of the shared cluster directory
	HTTPPort       int
	SwitchHostname string // hostname this switch is registered under in the switch table
	RingbackDir    string // root directory under which ringback file names resolve
	MaxDepth       int    // discovery recursion bound
	CacheTTL       int    // route cache entry lifetime in minutes
	APIToken       string // shared bearer token for the routing API; empty disables auth
	LogLevel       string
	LogFormat      string // "text" or "json"
}

// defaults
const (
	defaultHTTPPort    = 9042
	defaultRingbackDir = "/var/lib/hiveroute/ringback"
	defaultMaxDepth    = 10
	defaultCacheTTL    = 10
	defaultLogLevel    = "info"
	defaultLogFormat   = "text"
)

// envPrefix is the prefix for all hiveroute environment variables.
const envPrefix = "HIVEROUTE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("hiveroute", flag.ContinueOnError)

	fs.StringVar(&cfg.DatabaseURL, "db-url", "", "Postgres URL of the cluster directory database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.SwitchHostname, "switch-hostname", "", "hostname of this switch in the cluster switch table (defaults to os.Hostname)")
	fs.StringVar(&cfg.RingbackDir, "ringback-dir", defaultRingbackDir, "directory under which ringback media files are resolved")
	fs.IntVar(&cfg.MaxDepth, "max-depth", defaultMaxDepth, "maximum depth of routing graph discovery")
	fs.IntVar(&cfg.CacheTTL, "cache-ttl", defaultCacheTTL, "route cache entry lifetime in minutes")
	fs.StringVar(&cfg.APIToken, "api-token", "", "shared bearer token required by the routing API (empty disables auth)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg)

	if cfg.SwitchHostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("determining hostname: %w", err)
		}
		cfg.SwitchHostname = hostname
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"db-url":          envPrefix + "DB_URL",
		"http-port":       envPrefix + "HTTP_PORT",
		"switch-hostname": envPrefix + "SWITCH_HOSTNAME",
		"ringback-dir":    envPrefix + "RINGBACK_DIR",
		"max-depth":       envPrefix + "MAX_DEPTH",
		"cache-ttl":       envPrefix + "CACHE_TTL",
		"api-token":       envPrefix + "API_TOKEN",
		"log-level":       envPrefix + "LOG_LEVEL",
		"log-format":      envPrefix + "LOG_FORMAT",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "db-url":
			cfg.DatabaseURL = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "switch-hostname":
			cfg.SwitchHostname = val
		case "ringback-dir":
			cfg.RingbackDir = val
		case "max-depth":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MaxDepth = v
			}
		case "cache-ttl":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.CacheTTL = v
			}
		case "api-token":
			cfg.APIToken = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("db-url is required")
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("max-depth must be at least 1, got %d", c.MaxDepth)
	}
	if c.CacheTTL < 1 {
		return fmt.Errorf("cache-ttl must be at least 1 minute, got %d", c.CacheTTL)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	return nil
}

// CacheTTLDuration returns the route cache lifetime as a duration.
func (c *Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Minute
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
