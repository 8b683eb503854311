// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every component of the
// rate limiting service.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, store, rate_limit, etc.)
// - Defaults that work out of the box with no external services
// - Validation that catches misconfiguration at startup, never at request time
package models

import (
	"errors"
	"fmt"
	"time"
)

// Store type constants
const (
	StoreTypeMemory   = "memory"
	StoreTypeRedis    = "redis"
	StoreTypePostgres = "postgres"
	StoreTypeSQLite   = "sqlite"
)

// Failure policy constants. They decide what happens to a request when the
// counter store cannot be reached.
const (
	FailOpen   = "fail-open"
	FailClosed = "fail-closed"
)

// Key strategy constants select how a bucket key is derived from a request.
const (
	KeyStrategyClientPath = "client_path"
	KeyStrategyClient     = "client"
	KeyStrategyPath       = "path"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Store: Counter store backend
// - RateLimit: Window, budget, key derivation and failure policy
// - Admin: Operator endpoints for inspecting and resetting buckets
// - Logging: Structured logging and output configuration
// - Metrics / Observability: Prometheus and OpenTelemetry
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Store         StoreConfig         `yaml:"store" json:"store"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Admin         AdminConfig         `yaml:"admin" json:"admin"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

type StoreConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Database DatabaseConfig `yaml:"database" json:"database"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// RateLimitConfig configures the fixed-window limiter.
//
// Window and MaxRequests define the budget: MaxRequests requests per key per
// Window. SweepInterval of zero disables the background purge of expired
// counters; expired entries are then only replaced lazily by the next request
// for the same key. StoreTimeout bounds each call to the counter store; when it
// elapses the FailurePolicy decides the outcome.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	Window            time.Duration `yaml:"window" json:"window"`
	MaxRequests       int           `yaml:"max_requests" json:"max_requests"`
	KeyStrategy       string        `yaml:"key_strategy" json:"key_strategy"`
	FailurePolicy     string        `yaml:"failure_policy" json:"failure_policy"`
	SweepInterval     time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	StoreTimeout      time.Duration `yaml:"store_timeout" json:"store_timeout"`
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers" json:"trust_proxy_headers"`
	ExposeHeaders     bool          `yaml:"expose_headers" json:"expose_headers"`
	ExemptPaths       []string      `yaml:"exempt_paths" json:"exempt_paths"`
}

type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Token   string `yaml:"token" json:"token"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults.
//
// Default Values Rationale:
// - Port 8080: Standard non-privileged HTTP port
// - Memory store: No external dependencies for a single instance
// - 100 requests per minute per client and route
// - Fail-open: a limiter outage must not become a full outage
// - Sweep every minute so idle buckets do not accumulate
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
		},
		Store: StoreConfig{
			Type: StoreTypeMemory,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "ratelimit:",
			},
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			Window:            time.Minute,
			MaxRequests:       100,
			KeyStrategy:       KeyStrategyClientPath,
			FailurePolicy:     FailOpen,
			SweepInterval:     time.Minute,
			StoreTimeout:      250 * time.Millisecond,
			TrustProxyHeaders: false,
			ExposeHeaders:     true,
			ExemptPaths:       []string{"/health", "/api/v1/health"},
		},
		Admin: AdminConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "ratelimiter",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("invalid admin config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 {
		return errors.New("read timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}

	if sc.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StoreConfig) Validate() error {
	switch stc.Type {
	case StoreTypeMemory:
		return nil
	case StoreTypeRedis:
		if stc.Redis.Addr == "" {
			return errors.New("redis address is required for redis store")
		}
		if stc.Redis.DB < 0 {
			return errors.New("redis db cannot be negative")
		}
		return nil
	case StoreTypePostgres, StoreTypeSQLite:
		if stc.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s store", stc.Type)
		}
		if stc.Database.MaxOpenConns < 0 || stc.Database.MaxIdleConns < 0 {
			return errors.New("connection limits cannot be negative")
		}
		return nil
	default:
		return fmt.Errorf("invalid store type: %s", stc.Type)
	}
}

func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}

	if rc.Window <= 0 {
		return errors.New("window must be positive")
	}
	if rc.MaxRequests <= 0 {
		return errors.New("max requests must be positive")
	}

	switch rc.KeyStrategy {
	case KeyStrategyClientPath, KeyStrategyClient, KeyStrategyPath:
	default:
		return fmt.Errorf("invalid key strategy: %s", rc.KeyStrategy)
	}

	switch rc.FailurePolicy {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("invalid failure policy: %s", rc.FailurePolicy)
	}

	if rc.SweepInterval < 0 {
		return errors.New("sweep interval cannot be negative")
	}
	if rc.StoreTimeout < 0 {
		return errors.New("store timeout cannot be negative")
	}

	return nil
}

func (ac *AdminConfig) Validate() error {
	if ac.Enabled && len(ac.Token) < 16 {
		return errors.New("admin token must be at least 16 characters when admin endpoints are enabled")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	found := false
	for _, vl := range validLevels {
		if lc.Level == vl {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	validFormats := []string{"json", "text"}
	found = false
	for _, vf := range validFormats {
		if lc.Format == vf {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	found = false
	for _, vo := range validOutputs {
		if lc.Output == vo {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	if oc.ServiceName == "" {
		return errors.New("service name is required when tracing is enabled")
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("otlp endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}
