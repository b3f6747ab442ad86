package shell

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/swkit/internal/cache"
	"github.com/l0p7/swkit/internal/fetch"
	"github.com/l0p7/swkit/internal/runtime/environment"
	"github.com/l0p7/swkit/internal/runtime/pipeline"
	"github.com/l0p7/swkit/internal/storage"
)

func setup(t *testing.T, status int) (pipeline.Handler, *cache.Store, *environment.Environment) {
	t.Helper()
	store, err := cache.New(storage.NewMemory(), cache.Options{Origin: "https://example.com"})
	require.NoError(t, err)
	env := environment.New(environment.Worker(), environment.DefaultFlags())
	fetcher := fetch.FetcherFunc(func(_ context.Context, req *fetch.Request, _ fetch.Options) (*fetch.Response, error) {
		return fetch.NewResponse(status, []byte("shell:"+req.URL), nil), nil
	})
	h, err := New(store, fetcher, env, Options{}, nil)
	require.NoError(t, err)
	return h, store, env
}

func navigation(url string) *pipeline.Event {
	req := fetch.NewRequest(url)
	req.Mode = fetch.ModeNavigate
	return pipeline.NewFetchEvent(context.Background(), req)
}

func TestOnlineShellRequestRefreshesCache(t *testing.T) {
	h, store, _ := setup(t, http.StatusOK)

	e := navigation("https://example.com/index.html")
	require.Equal(t, pipeline.Continue, h.Handle(e, pipeline.NewContext(nil)))
	require.NoError(t, e.Wait())

	resp, err := store.Match(context.Background(), fetch.URL("/index.html"), cache.WithCacheName("offline"))
	require.NoError(t, err)
	require.Equal(t, "shell:https://example.com/index.html", resp.Text())
}

func TestOnlineFailedRefreshStoresNothing(t *testing.T) {
	h, store, _ := setup(t, http.StatusInternalServerError)

	e := navigation("https://example.com/index.html")
	h.Handle(e, pipeline.NewContext(nil))
	require.NoError(t, e.Wait())

	resp, err := store.Match(context.Background(), fetch.URL("/index.html"), cache.WithCacheName("offline"))
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestOfflineNavigationServesShell(t *testing.T) {
	h, store, env := setup(t, http.StatusOK)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, fetch.URL("/index.html"), fetch.NewResponse(http.StatusOK, []byte("cached shell"), nil), cache.WithCacheName("offline")))
	env.SetOffline(true)

	e := navigation("https://example.com/some/page")
	require.Equal(t, pipeline.Handled, h.Handle(e, pipeline.NewContext(nil)))
	resp, err := e.Respond(ctx)
	require.NoError(t, err)
	require.Equal(t, "cached shell", resp.Text())

	asset := pipeline.NewFetchEvent(ctx, fetch.NewRequest("https://example.com/app.js"))
	require.Equal(t, pipeline.Continue, h.Handle(asset, pipeline.NewContext(nil)))
}

func TestInertOutsideWorker(t *testing.T) {
	store, err := cache.New(storage.NewMemory(), cache.Options{})
	require.NoError(t, err)
	h, err := New(store, nil, environment.New(environment.Capabilities{}, environment.DefaultFlags()), Options{}, nil)
	require.NoError(t, err)
	require.True(t, pipeline.IsNoop(h))
}
