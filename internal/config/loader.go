package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "SWKIT"

// canonicalSegments restores the camelCase spelling of key segments that
// arrive lower-cased from the environment.
var canonicalSegments = map[string]string{
	"correlationheader": "correlationHeader",
	"maxsizemb":         "maxSizeMB",
	"maxbackups":        "maxBackups",
	"maxagedays":        "maxAgeDays",
	"defaultname":       "defaultName",
	"cafile":            "caFile",
	"fetchtimeout":      "fetchTimeout",
	"nonstandard":       "nonStandard",
	"navigationpreload": "navigationPreload",
	"maxage":            "maxAge",
	"appshell":          "appShell",
	"cachename":         "cacheName",
	"templatefile":      "templateFile",
	"escapehatch":       "escapeHatch",
	"clearcache":        "clearCache",
	"keepcaches":        "keepCaches",
	"allowedenv":        "allowedEnv",
}

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator. Files load in order, later files
// overriding earlier ones.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Files lists the configured file sources, skipping empty entries.
func (l *Loader) Files() []string {
	out := make([]string, 0, len(l.files))
	for _, path := range l.files {
		if path != "" {
			out = append(out, path)
		}
	}
	return out
}

// Load assembles the effective snapshot.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.Files() {
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		if err := k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.Warnings = ValidateInput(cfg.Worker.Options, nil)
	applyOptions(&cfg.Worker)
	return cfg, nil
}

// envKey maps SWKIT_WORKER__FLAGS__EVENTS to worker.flags.events.
func (l *Loader) envKey(s string) string {
	key := strings.TrimPrefix(s, l.envPrefix+"_")
	segments := strings.Split(key, "__")
	for i, segment := range segments {
		// Single underscores are dropped so FETCH_TIMEOUT reads as fetchtimeout.
		lower := strings.ToLower(strings.ReplaceAll(segment, "_", ""))
		if mapped, ok := canonicalSegments[lower]; ok {
			lower = mapped
		}
		segments[i] = lower
	}
	return strings.Join(segments, ".")
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file type %s", path)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
				"file": map[string]any{
					"path":       cfg.Server.Logging.File.Path,
					"maxSizeMB":  cfg.Server.Logging.File.MaxSizeMB,
					"maxBackups": cfg.Server.Logging.File.MaxBackups,
					"maxAgeDays": cfg.Server.Logging.File.MaxAgeDays,
					"compress":   cfg.Server.Logging.File.Compress,
				},
			},
			"cache": map[string]any{
				"backend":     cfg.Server.Cache.Backend,
				"prefix":      cfg.Server.Cache.Prefix,
				"delimiter":   cfg.Server.Cache.Delimiter,
				"defaultName": cfg.Server.Cache.DefaultName,
				"redis": map[string]any{
					"address":   cfg.Server.Cache.Redis.Address,
					"username":  cfg.Server.Cache.Redis.Username,
					"password":  cfg.Server.Cache.Redis.Password,
					"db":        cfg.Server.Cache.Redis.DB,
					"namespace": cfg.Server.Cache.Redis.Namespace,
					"tls": map[string]any{
						"enabled": cfg.Server.Cache.Redis.TLS.Enabled,
						"caFile":  cfg.Server.Cache.Redis.TLS.CAFile,
					},
				},
			},
		},
		"worker": map[string]any{
			"origin":       cfg.Worker.Origin,
			"upstream":     cfg.Worker.Upstream,
			"fetchTimeout": cfg.Worker.FetchTimeout,
			"dispatch":     cfg.Worker.Dispatch,
			"offline":      cfg.Worker.Offline,
			"flags": map[string]any{
				"development":       cfg.Worker.Flags.Development,
				"events":            cfg.Worker.Flags.Events,
				"nonStandard":       cfg.Worker.Flags.NonStandard,
				"navigationPreload": cfg.Worker.Flags.NavigationPreload,
			},
			"expiration": map[string]any{
				"enabled": cfg.Worker.Expiration.Enabled,
				"maxAge":  cfg.Worker.Expiration.MaxAge,
			},
			"templates": map[string]any{
				"folder": cfg.Worker.Templates.Folder,
			},
		},
	}
}
