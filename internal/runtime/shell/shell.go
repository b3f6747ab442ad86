// Package shell keeps an app shell document cached and serves it for
// navigations while offline.
package shell

import (
	"context"
	"log/slog"

	"github.com/l0p7/swkit/internal/cache"
	"github.com/l0p7/swkit/internal/fetch"
	"github.com/l0p7/swkit/internal/runtime/environment"
	"github.com/l0p7/swkit/internal/runtime/pipeline"
)

const (
	DefaultRoute     = "/index.html"
	DefaultCacheName = "offline"
)

// Options configure the app shell.
type Options struct {
	Route     string
	CacheName string
}

type appShell struct {
	store     *cache.Store
	fetcher   fetch.Fetcher
	env       *environment.Environment
	request   *fetch.Request
	cacheName string
	logger    *slog.Logger
}

// New returns the app shell handler. While offline it answers navigations
// with the cached shell; while online it refreshes the cached shell in the
// background whenever the shell route itself is requested.
func New(store *cache.Store, fetcher fetch.Fetcher, env *environment.Environment, opts Options, logger *slog.Logger) (pipeline.Handler, error) {
	if store == nil || !env.IsServiceWorker() {
		return pipeline.Noop, nil
	}
	route := opts.Route
	if route == "" {
		route = DefaultRoute
	}
	req, err := store.Normalize(fetch.URL(route))
	if err != nil {
		return nil, err
	}
	cacheName := opts.CacheName
	if cacheName == "" {
		cacheName = DefaultCacheName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &appShell{
		store:     store,
		fetcher:   fetcher,
		env:       env,
		request:   req,
		cacheName: cacheName,
		logger:    logger.With(slog.String("agent", "app-shell")),
	}, nil
}

func (s *appShell) Name() string { return "app-shell" }

func (s *appShell) Handle(e *pipeline.Event, _ *pipeline.Context) pipeline.Outcome {
	if e.Request == nil {
		return pipeline.Continue
	}
	if s.env.IsOffline() {
		if !e.Request.IsNavigate() {
			return pipeline.Continue
		}
		e.RespondWith(func(ctx context.Context) (*fetch.Response, error) {
			return s.store.Match(ctx, s.request.Clone(), cache.WithCacheName(s.cacheName))
		})
		return pipeline.Handled
	}
	if e.Request.URL == s.request.URL && s.fetcher != nil {
		e.WaitUntil(func(ctx context.Context) error {
			resp, err := s.fetcher.Fetch(ctx, s.request.Clone(), fetch.Options{})
			if err != nil {
				s.logger.Debug("app shell refresh failed", slog.Any("error", err))
				return nil
			}
			if !resp.OK() {
				return nil
			}
			return s.store.Put(ctx, s.request.Clone(), resp, cache.WithCacheName(s.cacheName))
		})
	}
	return pipeline.Continue
}
