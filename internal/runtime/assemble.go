package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"

	"github.com/l0p7/swkit/internal/cache"
	"github.com/l0p7/swkit/internal/config"
	"github.com/l0p7/swkit/internal/events"
	"github.com/l0p7/swkit/internal/expr"
	"github.com/l0p7/swkit/internal/fetch"
	"github.com/l0p7/swkit/internal/metrics"
	"github.com/l0p7/swkit/internal/runtime/caching"
	"github.com/l0p7/swkit/internal/runtime/environment"
	"github.com/l0p7/swkit/internal/runtime/expiration"
	"github.com/l0p7/swkit/internal/runtime/lifecycle"
	"github.com/l0p7/swkit/internal/runtime/manifest"
	"github.com/l0p7/swkit/internal/runtime/messenger"
	"github.com/l0p7/swkit/internal/runtime/navpreload"
	"github.com/l0p7/swkit/internal/runtime/pipeline"
	"github.com/l0p7/swkit/internal/runtime/shell"
	"github.com/l0p7/swkit/internal/templates"
)

// Built-in message resolver ids.
const (
	ResolverClearCache = "clear-cache"
	ResolverEmit       = "emit"
)

// Assembly is everything needed to build a worker from configuration.
type Assembly struct {
	Config  config.WorkerConfig
	Store   *cache.Store
	Meta    *cache.MetaStore
	Fetcher fetch.Fetcher
	Env     *environment.Environment
	Bus     *events.Bus
	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// Assemble builds a worker and installs the default middleware for every
// lifecycle event. Fetch handlers become bus listeners in listeners mode and
// a short-circuit chain in chain mode. Invalid worker options are logged,
// never fatal.
func Assemble(a Assembly) (*Worker, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("agent", "assembly"))
	if a.Meta == nil && a.Store != nil {
		a.Meta = cache.NewMetaStore(a.Store)
	}
	config.ValidateInput(a.Config.Options, logger)

	w := NewWorker(WorkerOptions{
		Env:     a.Env,
		Bus:     a.Bus,
		Store:   a.Store,
		Fetcher: a.Fetcher,
		Metrics: a.Metrics,
		Logger:  a.Logger,
	})
	deps := caching.Deps{Store: a.Store, Fetcher: a.Fetcher, Env: a.Env, Logger: a.Logger}

	if err := w.Use(pipeline.EventInstall, installHandlers(a, w, deps)...); err != nil {
		return nil, fmt.Errorf("runtime: install middleware: %w", err)
	}
	if err := w.Use(pipeline.EventActivate, activateHandlers(a, w, deps)...); err != nil {
		return nil, fmt.Errorf("runtime: activate middleware: %w", err)
	}
	if err := w.Use(pipeline.EventMessage, messageHandlers(a)...); err != nil {
		return nil, fmt.Errorf("runtime: message middleware: %w", err)
	}

	fetchHandlers, err := fetchHandlers(a, w, deps)
	if err != nil {
		return nil, err
	}
	mode := strings.ToLower(strings.TrimSpace(a.Config.Dispatch))
	if mode == "" {
		mode = config.DispatchListeners
	}
	if mode == config.DispatchListeners && !a.Bus.Enabled() {
		logger.Warn("events disabled, fetch middleware falls back to chain dispatch")
		mode = config.DispatchChain
	}
	a.Bus.Transient(pipeline.EventFetch, pipeline.EventMessage, pipeline.EventPush, pipeline.EventSync)
	switch mode {
	case config.DispatchChain:
		if err := w.Use(pipeline.EventFetch, fetchHandlers...); err != nil {
			return nil, fmt.Errorf("runtime: fetch middleware: %w", err)
		}
	default:
		listeners := make([]events.Listener, 0, len(fetchHandlers))
		for _, h := range w.instrument(pipeline.EventFetch, fetchHandlers) {
			listeners = append(listeners, events.Adapt(h))
		}
		a.Bus.On(pipeline.EventFetch, listeners...)
	}

	props := make([]string, 0, len(pipeline.LifecycleEvents))
	for _, typ := range pipeline.LifecycleEvents {
		props = append(props, "on"+typ)
	}
	a.Bus.Emitter(props, w)

	logger.Info("worker assembled",
		slog.String("dispatch", mode),
		slog.Int("fetch_handlers", len(fetchHandlers)),
		slog.Int("routes", len(a.Config.Routes)),
	)
	return w, nil
}

func installHandlers(a Assembly, w *Worker, deps caching.Deps) []pipeline.Handler {
	requests := make([]fetch.Requestable, 0, len(a.Config.Precache))
	for _, raw := range a.Config.Precache {
		requests = append(requests, fetch.URL(raw))
	}
	return []pipeline.Handler{
		caching.Precache(deps, requests, ""),
		lifecycle.SkipWaiting(w, a.Env),
	}
}

func activateHandlers(a Assembly, w *Worker, deps caching.Deps) []pipeline.Handler {
	handlers := []pipeline.Handler{
		lifecycle.ClientsClaim(w, a.Env),
		navpreload.Activation(w, a.Env),
	}
	if len(a.Config.KeepCaches) > 0 && a.Store != nil {
		keep := knownCaches(a)
		handlers = append(handlers, caching.Busting(deps,
			func(*fetch.Request, string) bool { return false },
			func(name string) bool { return !slices.Contains(keep, name) },
		))
	}
	return handlers
}

// knownCaches lists every cache the configured middleware writes to, plus
// the configured keepCaches.
func knownCaches(a Assembly) []string {
	known := append([]string(nil), a.Config.KeepCaches...)
	known = append(known, a.Store.CacheName(""), a.Store.CacheName(caching.RouterCacheName))
	if a.Meta != nil {
		known = append(known, a.Meta.MetaCacheName())
	}
	for _, route := range a.Config.Routes {
		if route.CacheName != "" {
			known = append(known, a.Store.CacheName(route.CacheName))
		}
	}
	if a.Config.AppShell.Enabled {
		known = append(known, coalesce(a.Config.AppShell.CacheName, shell.DefaultCacheName))
	}
	return known
}

func messageHandlers(a Assembly) []pipeline.Handler {
	resolvers := map[string]messenger.Resolver{
		ResolverClearCache: clearCacheResolver(a.Store),
		ResolverEmit:       emitResolver(a.Bus),
	}
	return []pipeline.Handler{
		messenger.MessageContext(messenger.ContextOptions{}),
		messenger.Messenger(resolvers),
	}
}

// clearCacheResolver empties the cache named by the cacheName field, or
// every cache when the message names none.
func clearCacheResolver(store *cache.Store) messenger.Resolver {
	if store == nil {
		return nil
	}
	return func(ctx context.Context, data any, _ *pipeline.Event, _ *pipeline.Context) error {
		var caches cache.CachePredicate
		if fields, ok := data.(map[string]any); ok {
			if name, _ := fields["cacheName"].(string); name != "" {
				target := store.CacheName(name)
				caches = func(candidate string) bool { return candidate == target }
			}
		}
		var requests cache.RequestPredicate
		if caches != nil {
			requests = func(*fetch.Request, string) bool { return false }
		}
		_, err := store.Clear(ctx, requests, caches)
		return err
	}
}

// emitResolver republishes {"event": name, "payload": value} on the bus.
func emitResolver(bus *events.Bus) messenger.Resolver {
	return func(_ context.Context, data any, _ *pipeline.Event, _ *pipeline.Context) error {
		fields, _ := data.(map[string]any)
		name, _ := fields["event"].(string)
		if strings.TrimSpace(name) == "" {
			return errors.New("runtime: emit message requires an event name")
		}
		bus.Emit(name, fields["payload"])
		return nil
	}
}

func fetchHandlers(a Assembly, w *Worker, deps caching.Deps) ([]pipeline.Handler, error) {
	cfg := a.Config
	var handlers []pipeline.Handler

	if cfg.EscapeHatch.Enabled && a.Store != nil {
		opts := lifecycle.EscapeHatchOptions{Route: cfg.EscapeHatch.Route, ClearCache: cfg.EscapeHatch.ClearCache}
		if cfg.EscapeHatch.Status != 0 {
			opts.Response = fetch.NewResponse(cfg.EscapeHatch.Status, nil, nil)
			opts.Response.StatusText = http.StatusText(cfg.EscapeHatch.Status)
		}
		h, err := lifecycle.EscapeHatch(a.Store, w, opts, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("runtime: escape hatch: %w", err)
		}
		handlers = append(handlers, h)
	}

	if cfg.Manifest.Enabled {
		h, err := manifestHandler(a, w)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}

	if a.Fetcher != nil {
		handlers = append(handlers, navpreload.Response(a.Env, navpreload.NetworkFallback(a.Fetcher)))
	}

	if cfg.AppShell.Enabled {
		h, err := shell.New(a.Store, a.Fetcher, a.Env, shell.Options{
			Route:     cfg.AppShell.Route,
			CacheName: cfg.AppShell.CacheName,
		}, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("runtime: app shell: %w", err)
		}
		handlers = append(handlers, h)
	}

	routers, err := routeHandlers(a, deps)
	if err != nil {
		return nil, err
	}
	handlers = append(handlers, routers...)

	if cfg.Expiration.Enabled {
		handlers = append(handlers, expiration.New(a.Store, a.Meta, a.Env, expiration.Options{
			MaxAge: cfg.Expiration.MaxAgeDuration(),
			Logger: a.Logger,
		}))
	}

	handlers = append(handlers, caching.Strategy(deps))

	out := handlers[:0]
	for _, h := range handlers {
		if !pipeline.IsNoop(h) {
			out = append(out, h)
		}
	}
	return out, nil
}

func manifestHandler(a Assembly, w *Worker) (pipeline.Handler, error) {
	cfg := a.Config
	opts := manifest.Options{
		Origin: w.origin,
		Route:  cfg.Manifest.Route,
		Values: cfg.Manifest.Values,
	}
	var sandbox *templates.Sandbox
	if cfg.Manifest.TemplateFile != "" || len(cfg.Manifest.Values) > 0 {
		if folder := strings.TrimSpace(cfg.Templates.Folder); folder != "" {
			sb, err := templates.NewSandbox(folder, cfg.Templates.AllowedEnv)
			if err != nil && cfg.Manifest.TemplateFile != "" {
				return nil, fmt.Errorf("runtime: manifest sandbox: %w", err)
			}
			sandbox = sb
		}
		opts.Renderer = templates.NewRenderer(sandbox)
		opts.TemplateFile = cfg.Manifest.TemplateFile
		origin := ""
		if w.origin != nil {
			origin = w.origin.String()
		}
		opts.Data = map[string]any{
			"origin": origin,
			"env":    sandbox.Environment(),
		}
	}
	h, err := manifest.New(a.Env, opts)
	if err != nil {
		return nil, fmt.Errorf("runtime: manifest: %w", err)
	}
	return h, nil
}

func routeHandlers(a Assembly, deps caching.Deps) ([]pipeline.Handler, error) {
	if len(a.Config.Routes) == 0 {
		return nil, nil
	}
	var celEnv *expr.Environment
	handlers := make([]pipeline.Handler, 0, len(a.Config.Routes))
	for i, route := range a.Config.Routes {
		var match caching.Match
		switch {
		case strings.TrimSpace(route.Pattern) != "":
			re, err := regexp.Compile(route.Pattern)
			if err != nil {
				return nil, fmt.Errorf("runtime: route %d pattern: %w", i, err)
			}
			match = caching.Pattern(re)
		default:
			if celEnv == nil {
				env, err := expr.NewEnvironment()
				if err != nil {
					return nil, fmt.Errorf("runtime: expression environment: %w", err)
				}
				celEnv = env
			}
			program, err := celEnv.Compile(route.Expression)
			if err != nil {
				return nil, fmt.Errorf("runtime: route %d expression: %w", i, err)
			}
			match = caching.Expression(program, a.Env, a.Logger)
		}
		handlers = append(handlers, caching.Router(deps, caching.RouterOptions{
			Name:                route.Name,
			CacheName:           route.CacheName,
			Match:               match,
			RespectCacheControl: route.RespectCacheControl,
		}))
	}
	return handlers, nil
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
