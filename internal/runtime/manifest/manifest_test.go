package manifest

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/swkit/internal/fetch"
	"github.com/l0p7/swkit/internal/runtime/environment"
	"github.com/l0p7/swkit/internal/runtime/pipeline"
	"github.com/l0p7/swkit/internal/templates"
)

var origin = &url.URL{Scheme: "https", Host: "example.com"}

func worker() *environment.Environment {
	return environment.New(environment.Worker(), environment.DefaultFlags())
}

func serve(t *testing.T, h pipeline.Handler, target string) (*fetch.Response, pipeline.Outcome) {
	t.Helper()
	e := pipeline.NewFetchEvent(context.Background(), fetch.NewRequest(target))
	outcome := h.Handle(e, pipeline.NewContext(nil))
	resp, err := e.Respond(context.Background())
	require.NoError(t, err)
	return resp, outcome
}

func TestDefaultManifest(t *testing.T) {
	h, err := New(worker(), Options{Origin: origin})
	require.NoError(t, err)

	resp, outcome := serve(t, h, "https://example.com/manifest.webmanifest")
	require.Equal(t, pipeline.Handled, outcome)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.JSONEq(t, `{"name":"one_service_worker_app","short_name":"app","start_url":"/index.html"}`, resp.Text())

	resp, outcome = serve(t, h, "https://example.com/index.html")
	require.Equal(t, pipeline.Continue, outcome)
	require.Nil(t, resp)
}

func TestManifestValuesAreRendered(t *testing.T) {
	h, err := New(worker(), Options{
		Origin:   origin,
		Route:    "/app.webmanifest",
		Values:   map[string]any{"name": "{{ .name | upper }}", "display": "standalone"},
		Data:     map[string]any{"name": "notes"},
		Renderer: templates.NewRenderer(nil),
	})
	require.NoError(t, err)

	resp, _ := serve(t, h, "https://example.com/app.webmanifest")
	require.JSONEq(t, `{"name":"NOTES","display":"standalone"}`, resp.Text())
}

func TestManifestFromTemplateFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json.tmpl"),
		[]byte(`{"name": "{{ .name }}", "start_url": "/"}`), 0o600))
	sandbox, err := templates.NewSandbox(dir, nil)
	require.NoError(t, err)

	h, err := New(worker(), Options{
		Origin:       origin,
		TemplateFile: "manifest.json.tmpl",
		Data:         map[string]any{"name": "Notes"},
		Renderer:     templates.NewRenderer(sandbox),
	})
	require.NoError(t, err)
	resp, _ := serve(t, h, "https://example.com/manifest.webmanifest")
	require.JSONEq(t, `{"name":"Notes","start_url":"/"}`, resp.Text())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.tmpl"), []byte(`not json`), 0o600))
	_, err = New(worker(), Options{Origin: origin, TemplateFile: "broken.tmpl", Renderer: templates.NewRenderer(sandbox)})
	require.Error(t, err)

	_, err = New(worker(), Options{Origin: origin, TemplateFile: "manifest.json.tmpl"})
	require.Error(t, err)
}

func TestManifestInertOutsideWorker(t *testing.T) {
	h, err := New(environment.New(environment.Capabilities{}, environment.DefaultFlags()), Options{})
	require.NoError(t, err)
	require.True(t, pipeline.IsNoop(h))
}
