// Package lifecycle holds the install/activate helpers and the escape hatch
// route that tears the worker down from a single URL.
package lifecycle

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/l0p7/swkit/internal/cache"
	"github.com/l0p7/swkit/internal/fetch"
	"github.com/l0p7/swkit/internal/runtime/environment"
	"github.com/l0p7/swkit/internal/runtime/pipeline"
)

// DefaultEscapeRoute is the path of the escape hatch.
const DefaultEscapeRoute = "/__sw/__escape"

// Registration is the worker registration the handlers act on.
type Registration interface {
	SkipWaiting(ctx context.Context) error
	ClaimClients(ctx context.Context) error
	Unregister(ctx context.Context) (bool, error)
}

type registrationTask struct {
	name string
	env  *environment.Environment
	run  func(ctx context.Context) error
}

func (t *registrationTask) Name() string { return t.name }

func (t *registrationTask) Handle(e *pipeline.Event, _ *pipeline.Context) pipeline.Outcome {
	if t.env.IsServiceWorker() {
		e.WaitUntil(t.run)
	}
	return pipeline.Continue
}

// SkipWaiting activates a freshly installed worker without waiting for old
// clients to close.
func SkipWaiting(reg Registration, env *environment.Environment) pipeline.Handler {
	if reg == nil {
		return pipeline.Noop
	}
	return &registrationTask{name: "skip-waiting", env: env, run: reg.SkipWaiting}
}

// ClientsClaim takes control of open clients once activated.
func ClientsClaim(reg Registration, env *environment.Environment) pipeline.Handler {
	if reg == nil {
		return pipeline.Noop
	}
	return &registrationTask{name: "clients-claim", env: env, run: reg.ClaimClients}
}

// EscapeHatchOptions configure the escape hatch. A nil Response answers
// 202 with an empty body.
type EscapeHatchOptions struct {
	Route      string
	Response   *fetch.Response
	ClearCache bool
}

type escapeHatch struct {
	url        string
	response   *fetch.Response
	clearCache bool
	store      *cache.Store
	reg        Registration
	logger     *slog.Logger
}

// EscapeHatch answers requests for the route, optionally empties every
// cache and unregisters the worker.
func EscapeHatch(store *cache.Store, reg Registration, opts EscapeHatchOptions, logger *slog.Logger) (pipeline.Handler, error) {
	route := opts.Route
	if route == "" {
		route = DefaultEscapeRoute
	}
	req, err := store.Normalize(fetch.URL(route))
	if err != nil {
		return nil, err
	}
	resp := opts.Response
	if resp == nil {
		resp = fetch.NewResponse(http.StatusAccepted, nil, nil)
		resp.StatusText = "OK"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &escapeHatch{
		url:        req.URL,
		response:   resp,
		clearCache: opts.ClearCache,
		store:      store,
		reg:        reg,
		logger:     logger.With(slog.String("agent", "escape-hatch")),
	}, nil
}

func (h *escapeHatch) Name() string { return "escape-hatch" }

func (h *escapeHatch) Handle(e *pipeline.Event, _ *pipeline.Context) pipeline.Outcome {
	if e.Request == nil || e.Request.URL != h.url {
		return pipeline.Continue
	}
	resp := h.response.Clone()
	e.RespondWith(func(context.Context) (*fetch.Response, error) { return resp, nil })
	if h.clearCache {
		e.WaitUntil(func(ctx context.Context) error {
			_, err := h.store.Clear(ctx, nil, nil)
			return err
		})
	}
	if h.reg != nil {
		e.WaitUntil(func(ctx context.Context) error {
			ok, err := h.reg.Unregister(ctx)
			h.logger.Info("escape hatch triggered", slog.Bool("unregistered", ok))
			return err
		})
	}
	return pipeline.Handled
}
