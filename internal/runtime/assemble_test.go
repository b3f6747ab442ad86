package runtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/swkit/internal/cache"
	"github.com/l0p7/swkit/internal/config"
	"github.com/l0p7/swkit/internal/events"
	"github.com/l0p7/swkit/internal/fetch"
	"github.com/l0p7/swkit/internal/runtime/environment"
	"github.com/l0p7/swkit/internal/runtime/pipeline"
	"github.com/l0p7/swkit/internal/storage"
)

type assembled struct {
	worker *Worker
	store  *cache.Store
	bus    *events.Bus
	env    *environment.Environment
	hits   *atomic.Int32
}

func assemble(t *testing.T, mutate func(*config.WorkerConfig), flags environment.Flags) assembled {
	t.Helper()
	hits := &atomic.Int32{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "upstream:"+r.URL.Path)
	}))
	t.Cleanup(upstream.Close)

	fetcher, err := fetch.NewHTTPFetcher(nil, "http://localhost", upstream.URL)
	require.NoError(t, err)
	store, err := cache.New(storage.NewMemory(), cache.Options{Fetcher: fetcher})
	require.NoError(t, err)
	env := environment.New(environment.Worker(), flags)
	bus := events.New(env.IsEventsEnabled)

	cfg := config.DefaultConfig().Worker
	if mutate != nil {
		mutate(&cfg)
	}
	w, err := Assemble(Assembly{Config: cfg, Store: store, Fetcher: fetcher, Env: env, Bus: bus})
	require.NoError(t, err)
	return assembled{worker: w, store: store, bus: bus, env: env, hits: hits}
}

func (a assembled) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.worker.Close(ctx))
}

func TestAssembleDispatchModes(t *testing.T) {
	modes := map[string]struct {
		dispatch      string
		flags         environment.Flags
		wantChain     bool
		wantListeners bool
	}{
		"listeners":             {dispatch: config.DispatchListeners, flags: environment.DefaultFlags(), wantListeners: true},
		"chain":                 {dispatch: config.DispatchChain, flags: environment.DefaultFlags(), wantChain: true},
		"listeners without bus": {dispatch: config.DispatchListeners, flags: environment.Flags{}, wantChain: true},
	}

	for name, tc := range modes {
		t.Run(name, func(t *testing.T) {
			a := assemble(t, func(c *config.WorkerConfig) {
				c.Dispatch = tc.dispatch
				c.Routes = []config.RouteConfig{{Name: "scripts", CacheName: "assets", Pattern: `\.js$`}}
			}, tc.flags)

			require.Equal(t, tc.wantChain, a.worker.Chain(pipeline.EventFetch) != nil)
			require.Equal(t, tc.wantListeners, a.bus.Listeners(pipeline.EventFetch) > 0)

			e := newExpect(t, a.worker)
			e.GET("/app.js").Expect().Status(http.StatusOK).Body().IsEqual("upstream:/app.js")
			a.settle(t)
			e.GET("/app.js").Expect().Status(http.StatusOK).Body().IsEqual("upstream:/app.js")
			require.Equal(t, int32(1), a.hits.Load())
			require.Empty(t, a.bus.History(pipeline.EventFetch))

			resp, err := a.store.Match(context.Background(), fetch.URL("/app.js"), cache.WithCacheName(a.store.CacheName("assets")))
			require.NoError(t, err)
			require.NotNil(t, resp)

			// A handled router stops the chain before expiration runs.
			meta, err := cache.NewMetaStore(a.store).GetMetaData(context.Background(), cache.MetaQuery{
				URL:       "/app.js",
				CacheName: a.store.CacheName("assets"),
			})
			require.NoError(t, err)
			_, tracked := meta["expires"]
			require.Equal(t, tc.wantListeners, tracked)
		})
	}
}

func TestAssembleExpressionRoute(t *testing.T) {
	a := assemble(t, func(c *config.WorkerConfig) {
		c.Routes = []config.RouteConfig{{Name: "api", CacheName: "api", Expression: `request.path.startsWith("/api/")`}}
	}, environment.DefaultFlags())

	e := newExpect(t, a.worker)
	e.GET("/api/items").Expect().Status(http.StatusOK)
	a.settle(t)

	resp, err := a.store.Match(context.Background(), fetch.URL("/api/items"), cache.WithCacheName(a.store.CacheName("api")))
	require.NoError(t, err)
	require.NotNil(t, resp)
}

func TestAssembleRejectsBadRoutes(t *testing.T) {
	store, err := cache.New(storage.NewMemory(), cache.Options{})
	require.NoError(t, err)
	env := environment.New(environment.Worker(), environment.DefaultFlags())

	for name, route := range map[string]config.RouteConfig{
		"pattern":    {Pattern: "("},
		"expression": {Expression: "request.path +"},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := config.DefaultConfig().Worker
			cfg.Routes = []config.RouteConfig{route}
			_, err := Assemble(Assembly{Config: cfg, Store: store, Env: env, Bus: events.New(nil)})
			require.Error(t, err)
		})
	}
}

func TestAssembleInstallPrecachesAndActivates(t *testing.T) {
	a := assemble(t, func(c *config.WorkerConfig) {
		c.Precache = []string{"/index.html", "/app.css"}
	}, environment.DefaultFlags())

	ctx := context.Background()
	require.NoError(t, a.worker.Install(ctx))
	require.True(t, a.worker.SkipWaitingRequested())
	require.NoError(t, a.worker.Activate(ctx))
	require.True(t, a.worker.Claimed())
	require.True(t, a.worker.NavigationPreloadEnabled())

	keys, err := a.store.Keys(ctx, cache.WithCacheName(a.store.CacheName("")))
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, int32(2), a.hits.Load())
}

func TestAssembleActivateBustsUnknownCaches(t *testing.T) {
	a := assemble(t, func(c *config.WorkerConfig) {
		c.KeepCaches = []string{"legacy"}
	}, environment.DefaultFlags())

	ctx := context.Background()
	for _, name := range []string{"legacy", "stale", a.store.CacheName("")} {
		require.NoError(t, a.store.Put(ctx, fetch.URL("/x"), fetch.NewResponse(http.StatusOK, nil, nil), cache.WithCacheName(name)))
	}
	require.NoError(t, a.worker.Install(ctx))
	require.NoError(t, a.worker.Activate(ctx))

	for name, want := range map[string]bool{"legacy": true, "stale": false, a.store.CacheName(""): true} {
		has, err := a.store.Has(ctx, name)
		require.NoError(t, err)
		if has != want {
			t.Fatalf("cache %q present = %t, want %t", name, has, want)
		}
	}
}

func TestAssembleMessageResolvers(t *testing.T) {
	a := assemble(t, nil, environment.DefaultFlags())
	received := make(chan any, 1)
	a.bus.On("custom", func(payload any, _ *pipeline.Context) { received <- payload })

	ctx := context.Background()
	require.NoError(t, a.store.Put(ctx, fetch.URL("/a"), fetch.NewResponse(http.StatusOK, nil, nil), cache.WithCacheName(a.store.CacheName("keep"))))
	require.NoError(t, a.store.Put(ctx, fetch.URL("/b"), fetch.NewResponse(http.StatusOK, nil, nil), cache.WithCacheName(a.store.CacheName("drop"))))

	e := newExpect(t, http.HandlerFunc(a.worker.ServeMessage))
	e.POST("/").WithBytes([]byte(`{"id":"emit","event":"custom","payload":"hello"}`)).Expect().Status(http.StatusAccepted)
	e.POST("/").WithBytes([]byte(`{"id":"clear-cache","cacheName":"drop"}`)).Expect().Status(http.StatusAccepted)
	a.settle(t)

	require.Equal(t, "hello", <-received)
	has, err := a.store.Has(ctx, a.store.CacheName("drop"))
	require.NoError(t, err)
	require.False(t, has)
	has, err = a.store.Has(ctx, a.store.CacheName("keep"))
	require.NoError(t, err)
	require.True(t, has)
}

func TestAssembleEscapeHatchAndManifest(t *testing.T) {
	a := assemble(t, func(c *config.WorkerConfig) {
		c.EscapeHatch = config.EscapeHatchConfig{Enabled: true, ClearCache: true}
		c.Manifest = config.ManifestConfig{Enabled: true, Values: map[string]any{"name": "demo", "start_url": "{{ .origin }}/"}}
	}, environment.DefaultFlags())

	e := newExpect(t, a.worker)
	manifest := e.GET("/manifest.webmanifest").Expect().Status(http.StatusOK).JSON().Object()
	manifest.Value("name").IsEqual("demo")
	manifest.Value("start_url").IsEqual("http://localhost/")

	e.GET("/__sw/__escape").Expect().Status(http.StatusAccepted)
	a.settle(t)
	require.False(t, a.worker.Registered())
	require.Equal(t, StateRedundant, a.worker.State())
	require.Zero(t, a.hits.Load())
}
