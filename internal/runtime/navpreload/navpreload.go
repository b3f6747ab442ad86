// Package navpreload enables navigation preload on activation and answers
// navigations with the preloaded response.
package navpreload

import (
	"context"

	"github.com/l0p7/swkit/internal/fetch"
	"github.com/l0p7/swkit/internal/runtime/environment"
	"github.com/l0p7/swkit/internal/runtime/pipeline"
)

// Preloader is the registration surface that turns preloading on.
type Preloader interface {
	EnableNavigationPreload(ctx context.Context) error
}

type activation struct {
	reg Preloader
	env *environment.Environment
}

// Activation enables navigation preload while the flag is on.
func Activation(reg Preloader, env *environment.Environment) pipeline.Handler {
	if reg == nil || !env.IsServiceWorker() {
		return pipeline.Noop
	}
	return &activation{reg: reg, env: env}
}

func (a *activation) Name() string { return "navigation-preload-activation" }

func (a *activation) Handle(e *pipeline.Event, _ *pipeline.Context) pipeline.Outcome {
	if a.env.IsNavigationPreloadEnabled() {
		e.WaitUntil(a.reg.EnableNavigationPreload)
	}
	return pipeline.Continue
}

// Fallback produces a response when no preload is available.
type Fallback func(ctx context.Context, e *pipeline.Event) (*fetch.Response, error)

// NetworkFallback fetches the event request.
func NetworkFallback(f fetch.Fetcher) Fallback {
	return func(ctx context.Context, e *pipeline.Event) (*fetch.Response, error) {
		return f.Fetch(ctx, e.Request.Clone(), fetch.Options{})
	}
}

type response struct {
	env      *environment.Environment
	fallback Fallback
}

// Response answers online navigations with the preload response, or the
// fallback when preloading produced nothing.
func Response(env *environment.Environment, fallback Fallback) pipeline.Handler {
	if !env.IsServiceWorker() || fallback == nil {
		return pipeline.Noop
	}
	return &response{env: env, fallback: fallback}
}

func (r *response) Name() string { return "navigation-preload-response" }

func (r *response) Handle(e *pipeline.Event, _ *pipeline.Context) pipeline.Outcome {
	if !r.env.IsNavigationPreloadEnabled() || r.env.IsOffline() || !e.Request.IsNavigate() {
		return pipeline.Continue
	}
	e.RespondWith(func(ctx context.Context) (*fetch.Response, error) {
		preloaded, err := e.PreloadResponse(ctx)
		if err == nil && preloaded != nil {
			return preloaded, nil
		}
		return r.fallback(ctx, e)
	})
	return pipeline.Handled
}
