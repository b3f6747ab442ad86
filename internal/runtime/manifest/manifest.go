// Package manifest serves the web app manifest from the worker.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/l0p7/swkit/internal/fetch"
	"github.com/l0p7/swkit/internal/runtime/environment"
	"github.com/l0p7/swkit/internal/runtime/pipeline"
	"github.com/l0p7/swkit/internal/templates"
)

const (
	DefaultRoute    = "/manifest.webmanifest"
	DefaultStartURL = "/index.html"
)

// DefaultManifest is served when no values are configured.
func DefaultManifest() map[string]any {
	return map[string]any{
		"name":       "one_service_worker_app",
		"short_name": "app",
		"start_url":  DefaultStartURL,
	}
}

// Options configure the manifest handler. TemplateFile, when set, is
// rendered through the sandboxed renderer and must produce a JSON object;
// otherwise Values are used with template actions in strings rendered.
type Options struct {
	Origin       *url.URL
	Route        string
	Values       map[string]any
	TemplateFile string
	Data         any
	Renderer     *templates.Renderer
}

type handler struct {
	url  string
	body []byte
}

// New renders the manifest once and returns the handler serving it.
func New(env *environment.Environment, opts Options) (pipeline.Handler, error) {
	if !env.IsServiceWorker() {
		return pipeline.Noop, nil
	}
	route := opts.Route
	if route == "" {
		route = DefaultRoute
	}
	req, err := fetch.Resolve(opts.Origin, fetch.URL(route))
	if err != nil {
		return nil, fmt.Errorf("manifest: route %q: %w", route, err)
	}
	values, err := render(opts)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	return &handler{url: req.URL, body: body}, nil
}

func render(opts Options) (map[string]any, error) {
	if opts.TemplateFile != "" {
		if opts.Renderer == nil {
			return nil, errors.New("manifest: template file requires a renderer")
		}
		tmpl, err := opts.Renderer.CompileFile(opts.TemplateFile)
		if err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
		out, err := tmpl.Render(opts.Data)
		if err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
		values := map[string]any{}
		if err := json.Unmarshal([]byte(out), &values); err != nil {
			return nil, fmt.Errorf("manifest: template %s is not a JSON object: %w", opts.TemplateFile, err)
		}
		return values, nil
	}

	values := opts.Values
	if len(values) == 0 {
		values = DefaultManifest()
	}
	if opts.Renderer == nil {
		return values, nil
	}
	rendered, err := opts.Renderer.RenderValue("manifest", values, opts.Data)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return rendered.(map[string]any), nil
}

func (h *handler) Name() string { return "manifest" }

func (h *handler) Handle(e *pipeline.Event, _ *pipeline.Context) pipeline.Outcome {
	if e.Request == nil || e.Request.URL != h.url {
		return pipeline.Continue
	}
	body := h.body
	url := e.Request.URL
	e.RespondWith(func(context.Context) (*fetch.Response, error) {
		header := http.Header{}
		header.Set("Content-Type", "application/json")
		resp := fetch.NewResponse(http.StatusOK, append([]byte(nil), body...), header)
		resp.URL = url
		return resp, nil
	})
	return pipeline.Handled
}
