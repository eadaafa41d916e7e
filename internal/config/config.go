// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment variable read into Config.
const EnvPrefix = "COAP_GATEWAY_"

// MinPort is the lowest port accepted for the two listeners.
const MinPort = 1025

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/coap-gateway/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	HTTPPort int `kong:"arg,name='http-port',help='HTTP listen port (> 1024).'"`
	CoAPPort int `kong:"arg,name='coap-port',help='CoAP listen port (> 1024).'"`

	Config     string           `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host       string           `kong:"help='HTTP listen host (overrides config).',env='HOST'"`
	TargetHost string           `kong:"help='Fixed CoAP target host; defaults to the client host (overrides config).',env='TARGET_HOST'"`
	TargetPort int              `kong:"help='CoAP target port (overrides config).',env='TARGET_PORT'"`
	LogLevel   string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Version    kong.VersionFlag `kong:"short='v',help='Print version and exit.'"`
}

// Validate is called by Kong after parsing. Both ports must be above 1024.
func (c *CLI) Validate() error {
	if err := validatePort("http-port", c.HTTPPort); err != nil {
		return err
	}
	return validatePort("coap-port", c.CoAPPort)
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server" envPrefix:"SERVER_"`
	Target    TargetConfig    `toml:"target" envPrefix:"TARGET_"`
	CoAP      CoAPConfig      `toml:"coap" envPrefix:"COAP_"`
	Cache     CacheConfig     `toml:"cache" envPrefix:"CACHE_"`
	Admission AdmissionConfig `toml:"admission" envPrefix:"ADMISSION_"`
	Log       LogConfig       `toml:"log" envPrefix:"LOG_"`
	Metrics   MetricsConfig   `toml:"metrics" envPrefix:"METRICS_"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host" env:"HOST"`
	Port         int             `toml:"-"` // from the command line only
	BodyMaxBytes int64           `toml:"body_max_bytes" env:"BODY_MAX_BYTES"`
	RateLimit    RateLimitConfig `toml:"rate_limit" envPrefix:"RATE_LIMIT_"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" env:"ENABLED"`
	RequestsPerSecond float64 `toml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

// TargetConfig describes where translated CoAP requests are sent.
type TargetConfig struct {
	// Host is the fixed CoAP host. Empty means the requesting client's host.
	Host           string `toml:"host" env:"HOST"`
	Port           int    `toml:"port" env:"PORT"`
	TimeoutSeconds int    `toml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
}

// CoAPConfig holds the inbound CoAP listener settings.
type CoAPConfig struct {
	Host string `toml:"host" env:"HOST"`
	Port int    `toml:"-"` // from the command line only
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled    *bool `toml:"enabled" env:"ENABLED"` // nil means enabled
	TTLSeconds int   `toml:"ttl_seconds" env:"TTL_SECONDS"`
	MaxEntries int   `toml:"max_entries" env:"MAX_ENTRIES"`
}

// AdmissionConfig holds admission-control settings.
type AdmissionConfig struct {
	MaxInFlight       int     `toml:"max_in_flight" env:"MAX_IN_FLIGHT"`
	RequestsPerSecond float64 `toml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	Burst             int     `toml:"burst" env:"BURST"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Path    string `toml:"path" env:"PATH"`
}

// Load reads the TOML config file, overlays COAP_GATEWAY_* environment
// variables and then CLI flags. When no explicit path is given (via --config
// or CONFIG_PATH), it searches /etc/coap-gateway/config.toml then
// configs/config.toml, and runs on defaults if neither exists.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	c.Server.Port = cli.HTTPPort
	c.CoAP.Port = cli.CoAPPort
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.TargetHost != "" {
		c.Target.Host = cli.TargetHost
	}
	if cli.TargetPort != 0 {
		c.Target.Port = cli.TargetPort
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if err := validatePort("http-port", c.Server.Port); err != nil {
		return err
	}
	if err := validatePort("coap-port", c.CoAP.Port); err != nil {
		return err
	}

	// Numeric bounds.
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Target.Port < 0 || c.Target.Port > 65535 {
		return fmt.Errorf("target.port must be between 0 and 65535; got %d", c.Target.Port)
	}
	if c.Target.TimeoutSeconds < 0 {
		return fmt.Errorf("target.timeout_seconds must be non-negative; got %d", c.Target.TimeoutSeconds)
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache.ttl_seconds must be non-negative; got %d", c.Cache.TTLSeconds)
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must be non-negative; got %d", c.Cache.MaxEntries)
	}
	if c.Admission.MaxInFlight < 0 {
		return fmt.Errorf("admission.max_in_flight must be non-negative; got %d", c.Admission.MaxInFlight)
	}
	if c.Admission.RequestsPerSecond < 0 {
		return fmt.Errorf("admission.requests_per_second must be non-negative; got %v", c.Admission.RequestsPerSecond)
	}
	if c.Admission.Burst < 0 {
		return fmt.Errorf("admission.burst must be non-negative; got %d", c.Admission.Burst)
	}

	if h := c.Target.Host; strings.ContainsAny(h, " /?#@") {
		return fmt.Errorf("target.host must be a bare host name or address; got %q", h)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		if p == "/" {
			return errors.New("metrics.path must not be the root path")
		}
		for _, reserved := range []string{"/healthz", "/gateway/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB
	}
	if c.Target.Port == 0 {
		c.Target.Port = 5683
	}
	if c.Target.TimeoutSeconds == 0 {
		c.Target.TimeoutSeconds = 10
	}
	if c.CoAP.Host == "" {
		c.CoAP.Host = "0.0.0.0"
	}
	if c.Cache.Enabled == nil {
		enabled := true
		c.Cache.Enabled = &enabled
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 60
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 10000
	}
	if c.Admission.MaxInFlight == 0 {
		c.Admission.MaxInFlight = 64
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func validatePort(name string, port int) error {
	if port < MinPort || port > 65535 {
		return fmt.Errorf("%s must be a port number greater than 1024 and at most 65535; got %d", name, port)
	}
	return nil
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the HTTP listen address as host:port.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Addr returns the CoAP listen address as host:port.
func (c *CoAPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Timeout returns the CoAP exchange timeout.
func (c *TargetConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IsEnabled reports whether the response cache is on. Unset means on.
func (c *CacheConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TTL returns the default freshness of cached responses.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// FilePath returns the config file that was loaded, or "" when running on defaults.
func (c *Config) FilePath() string { return c.filePath }

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
