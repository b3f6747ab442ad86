package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/swkit/internal/swerr"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name:  "returns defaults when no overrides",
			setup: func(t *testing.T) []string { return nil },
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8080, cfg.Server.Listen.Port)
				require.Equal(t, "__sw", cfg.Server.Cache.Prefix)
				require.Equal(t, "/", cfg.Server.Cache.Delimiter)
				require.Equal(t, "one-cache", cfg.Server.Cache.DefaultName)
				require.Equal(t, DispatchListeners, cfg.Worker.Dispatch)
				require.True(t, cfg.Worker.Flags.Events)
				require.True(t, cfg.Worker.Flags.NavigationPreload)
				require.False(t, cfg.Worker.Flags.Development)
				require.Equal(t, 28*24*time.Hour, cfg.Worker.Expiration.MaxAgeDuration())
				require.Equal(t, 30*time.Second, cfg.Worker.FetchTimeoutDuration())
			},
		},
		{
			name: "merges yaml overrides",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "server.yaml", "server:\n  listen:\n    port: 9090\nworker:\n  upstream: http://app:3000\n  routes:\n    - name: images\n      cacheName: img\n      pattern: \\.png$\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Listen.Port)
				require.Equal(t, "http://app:3000", cfg.Worker.Upstream)
				require.Len(t, cfg.Worker.Routes, 1)
				require.Equal(t, RouteConfig{Name: "images", CacheName: "img", Pattern: `\.png$`}, cfg.Worker.Routes[0])
			},
		},
		{
			name: "parses toml by extension",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "server.toml", "[server.listen]\nport = 7070\n\n[worker.flags]\nevents = false\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 7070, cfg.Server.Listen.Port)
				require.False(t, cfg.Worker.Flags.Events)
			},
		},
		{
			name: "parses json by extension",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "server.json", `{"worker": {"dispatch": "chain", "precache": ["/index.html", "/app.js"]}}`)}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, DispatchChain, cfg.Worker.Dispatch)
				require.Equal(t, []string{"/index.html", "/app.js"}, cfg.Worker.Precache)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				path := writeFile(t, "server.yaml", "server:\n  listen:\n    port: 9090\n")
				t.Setenv("SWKIT_SERVER__LISTEN__PORT", "9091")
				t.Setenv("SWKIT_WORKER__FLAGS__NAVIGATION_PRELOAD", "false")
				t.Setenv("SWKIT_WORKER__FETCHTIMEOUT", "5s")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Listen.Port)
				require.False(t, cfg.Worker.Flags.NavigationPreload)
				require.Equal(t, 5*time.Second, cfg.Worker.FetchTimeoutDuration())
			},
		},
		{
			name: "folds valid options and reports invalid ones",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "server.yaml", "worker:\n  options:\n    shell: /shell.html\n    maxAge: 60000\n    precache:\n      - /offline.html\n    bogus: 1\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.True(t, cfg.Worker.AppShell.Enabled)
				require.Equal(t, "/shell.html", cfg.Worker.AppShell.Route)
				require.Equal(t, time.Minute, cfg.Worker.Expiration.MaxAgeDuration())
				require.Equal(t, []string{"/offline.html"}, cfg.Worker.Precache)
				require.Len(t, cfg.Warnings, 1)
				require.True(t, swerr.IsKind(cfg.Warnings[0], swerr.KindInvalid))
			},
		},
		{
			name: "fails when file missing",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "missing.yaml")}
			},
			wantErr: true,
		},
		{
			name: "fails on unsupported extension",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "server.ini", "port=1\n")}
			},
			wantErr: true,
		},
		{
			name: "fails validation",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "server.yaml", "worker:\n  dispatch: broadcast\n")}
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			files := tc.setup(t)
			cfg, err := NewLoader(DefaultEnvPrefix, files...).Load(context.Background())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.assert != nil {
				tc.assert(t, cfg)
			}
		})
	}
}

func TestLoaderHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := writeFile(t, "server.yaml", "server:\n  listen:\n    port: 9090\n")
	_, err := NewLoader(DefaultEnvPrefix, path).Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEnvKeyCanonicalisesSegments(t *testing.T) {
	l := NewLoader("SWKIT")
	cases := map[string]string{
		"SWKIT_SERVER__LISTEN__PORT":               "server.listen.port",
		"SWKIT_SERVER__CACHE__DEFAULT_NAME":        "server.cache.defaultName",
		"SWKIT_SERVER__CACHE__REDIS__TLS__CAFILE":  "server.cache.redis.tls.caFile",
		"SWKIT_WORKER__APP_SHELL__CACHE_NAME":      "worker.appShell.cacheName",
		"SWKIT_WORKER__FLAGS__NONSTANDARD":         "worker.flags.nonStandard",
		"SWKIT_SERVER__LOGGING__FILE__MAX_SIZE_MB": "server.logging.file.maxSizeMB",
	}
	for in, want := range cases {
		if got := l.envKey(in); got != want {
			t.Fatalf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}
