// Package caching holds the cache routing middleware: routers that answer
// matching fetch events from the cache or the network, a cache-first
// strategy, cache busting and precaching.
package caching

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/l0p7/swkit/internal/cache"
	"github.com/l0p7/swkit/internal/fetch"
	"github.com/l0p7/swkit/internal/runtime/environment"
	"github.com/l0p7/swkit/internal/runtime/pipeline"
)

// RouterCacheName is the suffix used when a router names no cache.
const RouterCacheName = "router"

// Deps are the collaborators shared by every caching handler.
type Deps struct {
	Store   *cache.Store
	Fetcher fetch.Fetcher
	Env     *environment.Environment
	Logger  *slog.Logger
}

func (d Deps) supported() bool {
	return d.Store != nil && d.Env.IsCacheWorker()
}

func (d Deps) logger(name string) *slog.Logger {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("agent", name))
}

// RouterOptions configure one router.
type RouterOptions struct {
	Name         string
	CacheName    string
	Match        Match
	FetchOptions fetch.Options

	// RespectCacheControl skips storing responses marked no-store or
	// private.
	RespectCacheControl bool
}

type router struct {
	name      string
	cacheName string
	test      func(*pipeline.Event) bool
	fetchOpts fetch.Options
	respectCC bool
	deps      Deps
	logger    *slog.Logger
}

// Router answers matching fetch events with the cached response, falling
// back to the network and storing what it fetched. It records the chosen
// cache and a copy of the request in the context for later handlers. Only
// GET requests are routed.
func Router(deps Deps, opts RouterOptions) pipeline.Handler {
	if !deps.supported() {
		return pipeline.Noop
	}
	cacheName := deps.Store.CacheName(RouterCacheName)
	if opts.CacheName != "" {
		cacheName = deps.Store.CacheName(opts.CacheName)
	}
	name := opts.Name
	if name == "" {
		name = "cache-router"
	}
	return &router{
		name:      name,
		cacheName: cacheName,
		test:      opts.Match.resolve(),
		fetchOpts: opts.FetchOptions,
		respectCC: opts.RespectCacheControl,
		deps:      deps,
		logger:    deps.logger(name),
	}
}

func (r *router) Name() string { return r.name }

func (r *router) Handle(e *pipeline.Event, c *pipeline.Context) pipeline.Outcome {
	if !e.Request.Cacheable() || !r.test(e) {
		return pipeline.Continue
	}
	req := e.Request.Clone()
	c.SetCacheName(r.cacheName)
	c.SetRequest(req.Clone())

	e.RespondWith(func(ctx context.Context) (*fetch.Response, error) {
		cached, err := r.deps.Store.Match(ctx, req.Clone())
		if err != nil {
			r.logger.Warn("cache lookup failed", slog.String("url", req.URL), slog.Any("error", err))
		}
		if cached != nil {
			return cached, nil
		}
		if r.deps.Fetcher == nil {
			return nil, fmt.Errorf("caching: no fetcher for %s", req.URL)
		}
		resp, err := r.deps.Fetcher.Fetch(ctx, req.Clone(), r.fetchOpts)
		if err != nil {
			return nil, err
		}
		if r.respectCC && !resp.CacheControl().Storable() {
			r.logger.Debug("response not stored", slog.String("url", req.URL), slog.String("cache_control", resp.Header.Get("Cache-Control")))
			return resp, nil
		}
		stored := resp.Clone()
		e.WaitUntil(func(ctx context.Context) error {
			return r.deps.Store.Put(ctx, req.Clone(), stored, cache.WithCacheName(r.cacheName))
		})
		return resp, nil
	})
	return pipeline.Handled
}

type strategy struct {
	deps   Deps
	logger *slog.Logger
}

// Strategy answers GET fetch events from whichever cache holds the
// request, falling back to the network on a miss. Other methods pass
// through.
func Strategy(deps Deps) pipeline.Handler {
	if !deps.supported() {
		return pipeline.Noop
	}
	return &strategy{deps: deps, logger: deps.logger("cache-strategy")}
}

func (s *strategy) Name() string { return "cache-strategy" }

func (s *strategy) Handle(e *pipeline.Event, _ *pipeline.Context) pipeline.Outcome {
	if !e.Request.Cacheable() {
		return pipeline.Continue
	}
	req := e.Request.Clone()
	e.RespondWith(func(ctx context.Context) (*fetch.Response, error) {
		cached, err := s.deps.Store.Match(ctx, req.Clone())
		if err != nil {
			s.logger.Warn("cache lookup failed", slog.String("url", req.URL), slog.Any("error", err))
		}
		if cached != nil {
			return cached, nil
		}
		if s.deps.Fetcher == nil {
			return nil, nil
		}
		return s.deps.Fetcher.Fetch(ctx, req.Clone(), fetch.Options{})
	})
	return pipeline.Handled
}

type busting struct {
	deps       Deps
	requestsFn cache.RequestPredicate
	cachesFn   cache.CachePredicate
}

// Busting sweeps the caches in the background on every event it sees.
// Nil predicates match everything.
func Busting(deps Deps, requests cache.RequestPredicate, caches cache.CachePredicate) pipeline.Handler {
	if !deps.supported() {
		return pipeline.Noop
	}
	return &busting{deps: deps, requestsFn: requests, cachesFn: caches}
}

func (b *busting) Name() string { return "cache-busting" }

func (b *busting) Handle(e *pipeline.Event, _ *pipeline.Context) pipeline.Outcome {
	e.WaitUntil(func(ctx context.Context) error {
		_, err := b.deps.Store.Clear(ctx, b.requestsFn, b.cachesFn)
		return err
	})
	return pipeline.Continue
}

type precache struct {
	deps      Deps
	requests  []fetch.Requestable
	cacheName string
}

// Precache fetches and stores requests into CacheName(cacheName) in the
// background. An empty list yields the inert handler.
func Precache(deps Deps, requests []fetch.Requestable, cacheName string) pipeline.Handler {
	if !deps.supported() || len(requests) == 0 {
		return pipeline.Noop
	}
	return &precache{
		deps:      deps,
		requests:  append([]fetch.Requestable(nil), requests...),
		cacheName: deps.Store.CacheName(cacheName),
	}
}

func (p *precache) Name() string { return "precache" }

func (p *precache) Handle(e *pipeline.Event, _ *pipeline.Context) pipeline.Outcome {
	e.WaitUntil(func(ctx context.Context) error {
		_, err := p.deps.Store.AddAll(ctx, p.requests, cache.WithCacheName(p.cacheName))
		return err
	})
	return pipeline.Continue
}
