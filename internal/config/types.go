package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/l0p7/swkit/internal/runtime/environment"
)

// Dispatch modes for fetch middleware.
const (
	DispatchListeners = "listeners"
	DispatchChain     = "chain"
)

// Config holds the server options and the worker definition.
type Config struct {
	Server ServerConfig `koanf:"server"`
	Worker WorkerConfig `koanf:"worker"`

	// Warnings collects validation problems found in worker.options. They
	// are reported, never fatal.
	Warnings []error `koanf:"-"`
}

// ServerConfig collects the process-level knobs.
type ServerConfig struct {
	Listen  ListenConfig      `koanf:"listen"`
	Logging LoggingConfig     `koanf:"logging"`
	Cache   ServerCacheConfig `koanf:"cache"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and optional file rotation.
type LoggingConfig struct {
	Level             string            `koanf:"level"`
	Format            string            `koanf:"format"`
	CorrelationHeader string            `koanf:"correlationHeader"`
	File              LoggingFileConfig `koanf:"file"`
}

// LoggingFileConfig enables a rotating log file next to stdout.
type LoggingFileConfig struct {
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"maxSizeMB"`
	MaxBackups int    `koanf:"maxBackups"`
	MaxAgeDays int    `koanf:"maxAgeDays"`
	Compress   bool   `koanf:"compress"`
}

// ServerCacheConfig selects the cache storage backend and naming.
type ServerCacheConfig struct {
	Backend     string                 `koanf:"backend"`
	Prefix      string                 `koanf:"prefix"`
	Delimiter   string                 `koanf:"delimiter"`
	DefaultName string                 `koanf:"defaultName"`
	Redis       ServerRedisCacheConfig `koanf:"redis"`
}

type ServerRedisCacheConfig struct {
	Address   string               `koanf:"address"`
	Username  string               `koanf:"username"`
	Password  string               `koanf:"password"`
	DB        int                  `koanf:"db"`
	Namespace string               `koanf:"namespace"`
	TLS       ServerRedisTLSConfig `koanf:"tls"`
}

type ServerRedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// WorkerConfig describes the worker the server hosts.
type WorkerConfig struct {
	Origin       string            `koanf:"origin"`
	Upstream     string            `koanf:"upstream"`
	FetchTimeout string            `koanf:"fetchTimeout"`
	Dispatch     string            `koanf:"dispatch"`
	Offline      bool              `koanf:"offline"`
	Flags        environment.Flags `koanf:"flags"`
	Precache     []string          `koanf:"precache"`
	Routes       []RouteConfig     `koanf:"routes"`
	Expiration   ExpirationConfig  `koanf:"expiration"`
	AppShell     AppShellConfig    `koanf:"appShell"`
	Manifest     ManifestConfig    `koanf:"manifest"`
	EscapeHatch  EscapeHatchConfig `koanf:"escapeHatch"`
	KeepCaches   []string          `koanf:"keepCaches"`
	Templates    TemplatesConfig   `koanf:"templates"`
	// Options is the free-form option bag validated by ValidateInput.
	Options map[string]any `koanf:"options"`
}

// RouteConfig declares one cache router. Exactly one of Pattern and
// Expression should be set.
type RouteConfig struct {
	Name       string `koanf:"name"`
	CacheName  string `koanf:"cacheName"`
	Pattern    string `koanf:"pattern"`
	Expression string `koanf:"expression"`

	// RespectCacheControl leaves no-store and private responses uncached.
	RespectCacheControl bool `koanf:"respectCacheControl"`
}

type ExpirationConfig struct {
	Enabled bool   `koanf:"enabled"`
	MaxAge  string `koanf:"maxAge"`
}

type AppShellConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Route     string `koanf:"route"`
	CacheName string `koanf:"cacheName"`
}

type ManifestConfig struct {
	Enabled      bool           `koanf:"enabled"`
	Route        string         `koanf:"route"`
	Values       map[string]any `koanf:"values"`
	TemplateFile string         `koanf:"templateFile"`
}

type EscapeHatchConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Route      string `koanf:"route"`
	ClearCache bool   `koanf:"clearCache"`
	Status     int    `koanf:"status"`
}

// TemplatesConfig captures the template sandbox root.
type TemplatesConfig struct {
	Folder     string   `koanf:"folder"`
	AllowedEnv []string `koanf:"allowedEnv"`
}

// FetchTimeoutDuration parses FetchTimeout, returning zero when unset.
func (w WorkerConfig) FetchTimeoutDuration() time.Duration {
	return parseDuration(w.FetchTimeout)
}

// MaxAgeDuration parses MaxAge, returning zero when unset.
func (e ExpirationConfig) MaxAgeDuration() time.Duration {
	return parseDuration(e.MaxAge)
}

func parseDuration(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

// Validate rejects configurations the runtime cannot serve.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis", "valkey":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: server.cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: server.cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	switch strings.TrimSpace(strings.ToLower(c.Worker.Dispatch)) {
	case "", DispatchListeners, DispatchChain:
	default:
		return fmt.Errorf("config: worker.dispatch unsupported: %s", c.Worker.Dispatch)
	}
	for _, field := range []struct{ key, value string }{
		{"worker.fetchTimeout", c.Worker.FetchTimeout},
		{"worker.expiration.maxAge", c.Worker.Expiration.MaxAge},
	} {
		if strings.TrimSpace(field.value) == "" {
			continue
		}
		if d, err := time.ParseDuration(strings.TrimSpace(field.value)); err != nil || d < 0 {
			return fmt.Errorf("config: %s invalid: %q", field.key, field.value)
		}
	}
	seen := make(map[string]int, len(c.Worker.Routes))
	for i, route := range c.Worker.Routes {
		hasPattern := strings.TrimSpace(route.Pattern) != ""
		hasExpr := strings.TrimSpace(route.Expression) != ""
		if hasPattern == hasExpr {
			return fmt.Errorf("config: worker.routes[%d] requires exactly one of pattern or expression", i)
		}
		if route.Name == "" {
			continue
		}
		if prev, ok := seen[route.Name]; ok {
			return fmt.Errorf("config: worker.routes[%d] duplicates name %q from routes[%d]", i, route.Name, prev)
		}
		seen[route.Name] = i
	}
	if status := c.Worker.EscapeHatch.Status; status != 0 && (status < 200 || status > 599) {
		return fmt.Errorf("config: worker.escapeHatch.status invalid: %d", status)
	}
	return nil
}

// DefaultConfig returns the baseline values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
				File: LoggingFileConfig{
					MaxSizeMB:  100,
					MaxBackups: 3,
					MaxAgeDays: 28,
				},
			},
			Cache: ServerCacheConfig{
				Backend:     "memory",
				Prefix:      "__sw",
				Delimiter:   "/",
				DefaultName: "one-cache",
			},
		},
		Worker: WorkerConfig{
			Origin:       "http://localhost:8080",
			FetchTimeout: "30s",
			Dispatch:     DispatchListeners,
			Flags:        environment.DefaultFlags(),
			Expiration: ExpirationConfig{
				Enabled: true,
				MaxAge:  "672h",
			},
			Templates: TemplatesConfig{
				Folder: "./templates",
			},
		},
	}
}
