// Package expiration evicts cached requests whose metadata says they have
// outlived their maximum age.
package expiration

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/l0p7/swkit/internal/cache"
	"github.com/l0p7/swkit/internal/runtime/environment"
	"github.com/l0p7/swkit/internal/runtime/pipeline"
)

const (
	OneDay   = 24 * time.Hour
	OneWeek  = 7 * OneDay
	OneMonth = 4 * OneWeek

	// Key is the metadata field holding the expiry in epoch milliseconds.
	Key = "expires"
)

// Options configure the middleware.
type Options struct {
	MaxAge time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

type expiration struct {
	store  *cache.Store
	meta   *cache.MetaStore
	maxAge int64
	now    func() time.Time
	logger *slog.Logger
}

// New returns the expiration handler. It works on the request a router left
// in the context and the cache the router chose, or the default cache.
func New(store *cache.Store, meta *cache.MetaStore, env *environment.Environment, opts Options) pipeline.Handler {
	if store == nil || meta == nil || !env.IsCacheWorker() {
		return pipeline.Noop
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = OneMonth
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &expiration{
		store:  store,
		meta:   meta,
		maxAge: maxAge.Milliseconds(),
		now:    now,
		logger: logger.With(slog.String("agent", "expiration")),
	}
}

func (x *expiration) Name() string { return "expiration" }

func (x *expiration) Handle(e *pipeline.Event, c *pipeline.Context) pipeline.Outcome {
	req := c.Request()
	if req == nil {
		return pipeline.Continue
	}
	cacheName := c.CacheName()
	if cacheName == "" {
		cacheName = x.store.DefaultCacheName()
	}
	now := x.now().UnixMilli()
	expired := now - x.maxAge
	query := cache.MetaQuery{URL: req.URL, CacheName: cacheName}

	e.WaitUntil(func(ctx context.Context) error {
		meta, err := x.meta.GetMetaData(ctx, query)
		if err != nil {
			return err
		}
		if raw, present := meta[Key]; present && millis(raw) < expired {
			if _, err := x.meta.DeleteMetaData(ctx, query); err != nil {
				return err
			}
			removed, err := x.store.Remove(ctx, req.Clone(), cache.WithCacheName(cacheName))
			if err != nil {
				return err
			}
			x.logger.Debug("cache entry expired",
				slog.String("url", req.URL),
				slog.String("cache", cacheName),
				slog.Bool("removed", removed),
			)
			return nil
		}

		updated := make(cache.Metadata, len(meta)+1)
		for k, v := range meta {
			updated[k] = v
		}
		updated[Key] = now + x.maxAge
		_, err = x.meta.SetMetaData(ctx, query, updated)
		return err
	})
	return pipeline.Continue
}

// millis reads a stored expiry. A null or non-numeric value counts as
// zero, which is always in the past.
func millis(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
