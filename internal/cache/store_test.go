package cache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/swkit/internal/fetch"
	"github.com/l0p7/swkit/internal/storage"
	"github.com/l0p7/swkit/internal/swerr"
)

type stubFetcher struct {
	mu     sync.Mutex
	status int
	calls  []string
}

func (s *stubFetcher) Fetch(_ context.Context, req *fetch.Request, _ fetch.Options) (*fetch.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req.URL)
	status := s.status
	if status == 0 {
		status = http.StatusOK
	}
	resp := fetch.NewResponse(status, []byte("body:"+req.URL), nil)
	resp.URL = req.URL
	return resp, nil
}

type recordingObserver struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingObserver) ObserveCacheOperation(op, result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op+":"+result)
}

func newTestStore(t *testing.T, fetcher fetch.Fetcher) *Store {
	t.Helper()
	store, err := New(storage.NewMemory(), Options{Origin: "https://example.com", Fetcher: fetcher})
	require.NoError(t, err)
	return store
}

func text(body string) *fetch.Response {
	return fetch.NewResponse(http.StatusOK, []byte(body), nil)
}

func TestStoreNaming(t *testing.T) {
	store := newTestStore(t, nil)
	require.Equal(t, "__sw/router", store.CacheName("router"))
	require.Equal(t, "__sw/one-cache", store.CacheName(""))
	require.Equal(t, "one-cache", store.DefaultCacheName())

	custom, err := New(storage.NewMemory(), Options{Prefix: "app", Delimiter: ":", DefaultName: "main"})
	require.NoError(t, err)
	require.Equal(t, "app:assets", custom.CacheName("assets"))
	require.Equal(t, "main", custom.DefaultCacheName())
	require.Equal(t, DefaultOrigin, custom.Origin().String())
}

func TestNewRejectsRelativeOrigin(t *testing.T) {
	_, err := New(storage.NewMemory(), Options{Origin: "/relative"})
	require.Error(t, err)

	_, err = New(nil, Options{})
	require.Error(t, err)
}

func TestStorePutMatchRemoveRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	require.NoError(t, store.Put(ctx, fetch.URL("/app.js"), text("console.log(1)")))

	resp, err := store.Match(ctx, fetch.URL("/app.js"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, "console.log(1)", resp.Text())

	// A request value with the same absolute URL hits the same entry.
	resp, err = store.Match(ctx, fetch.NewRequest("https://example.com/app.js"), WithCacheName(DefaultCacheName))
	require.NoError(t, err)
	require.NotNil(t, resp)

	deleted, err := store.Remove(ctx, fetch.URL("/app.js"))
	require.NoError(t, err)
	require.True(t, deleted)

	resp, err = store.Match(ctx, fetch.URL("/app.js"))
	require.NoError(t, err)
	require.Nil(t, resp)

	deleted, err = store.Remove(ctx, fetch.URL("/app.js"))
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestStorePutOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	require.NoError(t, store.Put(ctx, fetch.URL("/a"), text("one")))
	require.NoError(t, store.Put(ctx, fetch.URL("/a"), text("two")))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	resp, err := store.Match(ctx, fetch.URL("/a"))
	require.NoError(t, err)
	require.Equal(t, "two", resp.Text())
}

func TestStoreScopedMatchMissesOtherCaches(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	require.NoError(t, store.Put(ctx, fetch.URL("/a"), text("a"), WithCacheName("assets")))

	resp, err := store.Match(ctx, fetch.URL("/a"), WithCacheName("pages"))
	require.NoError(t, err)
	require.Nil(t, resp)

	resp, err = store.Match(ctx, fetch.URL("/a"))
	require.NoError(t, err)
	require.NotNil(t, resp)
}

func TestStoreMatchAllPreservesOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	require.NoError(t, store.Put(ctx, fetch.URL("/b"), text("b")))

	out, err := store.MatchAll(ctx, []fetch.Requestable{fetch.URL("/a"), fetch.URL("/b")})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Nil(t, out[0])
	require.Equal(t, "b", out[1].Text())
}

func TestStoreAddAllEmptyAndInvalid(t *testing.T) {
	ctx := context.Background()
	fetcher := &stubFetcher{}
	store := newTestStore(t, fetcher)

	out, err := store.AddAll(ctx, []fetch.Requestable{})
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Empty(t, out)

	_, err = store.Add(ctx, nil)
	require.ErrorIs(t, err, fetch.ErrInvalidURL)

	_, err = store.Add(ctx, fetch.URL(""))
	require.ErrorIs(t, err, fetch.ErrInvalidURL)

	_, err = store.AddAll(ctx, []fetch.Requestable{fetch.URL("/ok"), fetch.URL("")})
	require.ErrorIs(t, err, fetch.ErrInvalidURL)
	require.Empty(t, fetcher.calls)
}

func TestStoreAddFetchesAndStores(t *testing.T) {
	ctx := context.Background()
	fetcher := &stubFetcher{}
	store := newTestStore(t, fetcher)

	out, err := store.AddAll(ctx, []fetch.Requestable{fetch.URL("/one"), fetch.URL("/two")}, WithCacheName("precache"))
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, []string{"https://example.com/one", "https://example.com/two"}, fetcher.calls)

	keys, err := store.Keys(ctx, WithCacheName("precache"))
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, "https://example.com/one", keys[0].URL)
}

func TestStoreAddRejectsErrorStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, &stubFetcher{status: http.StatusNotFound})

	_, err := store.Add(ctx, fetch.URL("/missing"))
	require.Error(t, err)
	require.True(t, swerr.IsKind(err, swerr.KindFailure))

	resp, err := store.Match(ctx, fetch.URL("/missing"))
	require.NoError(t, err)
	require.Nil(t, resp)
}

func TestStoreAddWithoutFetcher(t *testing.T) {
	store := newTestStore(t, nil)
	_, err := store.Add(context.Background(), fetch.URL("/x"))
	require.True(t, swerr.IsKind(err, swerr.KindNotSupported))
}

func TestStoreOnlyCachesGetRequests(t *testing.T) {
	ctx := context.Background()
	fetcher := &stubFetcher{}
	store := newTestStore(t, fetcher)
	require.NoError(t, store.Put(ctx, fetch.URL("/api/orders"), text("cached-get")))

	post := fetch.NewRequest("/api/orders")
	post.Method = http.MethodPost

	resp, err := store.Match(ctx, post)
	require.NoError(t, err)
	require.Nil(t, resp, "a POST must never be answered from cache")
	resp, err = store.Match(ctx, post, WithCacheName(store.DefaultCacheName()))
	require.NoError(t, err)
	require.Nil(t, resp)

	err = store.Put(ctx, post, text("posted"))
	require.True(t, swerr.IsKind(err, swerr.KindFailure))
	_, err = store.Add(ctx, post)
	require.True(t, swerr.IsKind(err, swerr.KindFailure))
	_, err = store.AddAll(ctx, []fetch.Requestable{fetch.URL("/a"), post})
	require.True(t, swerr.IsKind(err, swerr.KindFailure))
	require.Empty(t, fetcher.calls, "rejected requests must not reach the network")

	resp, err = store.Match(ctx, fetch.URL("/api/orders"))
	require.NoError(t, err)
	require.Equal(t, "cached-get", resp.Text())

	head := fetch.NewRequest("/api/orders")
	head.Method = "get"
	resp, err = store.Match(ctx, head)
	require.NoError(t, err)
	require.NotNil(t, resp)
}

func TestStoreRemoveAll(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	require.NoError(t, store.Put(ctx, fetch.URL("/a"), text("a")))

	out, err := store.RemoveAll(ctx, []fetch.Requestable{fetch.URL("/missing"), fetch.URL("/a")})
	require.NoError(t, err)
	require.Equal(t, []bool{false, true}, out)
}

func seedTwoCaches(t *testing.T, store *Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, fetch.URL("/a"), text("a"), WithCacheName("first")))
	require.NoError(t, store.Put(ctx, fetch.URL("/b"), text("b"), WithCacheName("first")))
	require.NoError(t, store.Put(ctx, fetch.URL("/c"), text("c"), WithCacheName("second")))
}

func TestStoreEntries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	seedTwoCaches(t, store)

	entries, err := store.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "first", entries[0].Name)
	require.Len(t, entries[0].Requests, 2)
	require.Equal(t, "second", entries[1].Name)
	require.Equal(t, "second", entries[1].Cache.Name())

	entries, err = store.Entries(ctx, "second")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Requests, 1)
}

func TestStoreClearNoop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	seedTwoCaches(t, store)

	before, err := store.Entries(ctx)
	require.NoError(t, err)

	results, err := store.Clear(ctx,
		func(*fetch.Request, string) bool { return false },
		func(string) bool { return false },
	)
	require.NoError(t, err)
	require.NotNil(t, results)
	require.Empty(t, results)

	after, err := store.Entries(ctx)
	require.NoError(t, err)
	require.Equal(t, len(before), len(after))
	for i := range before {
		require.Equal(t, before[i].Name, after[i].Name)
		require.Equal(t, before[i].Requests, after[i].Requests)
	}
}

func TestStoreClearRequestsOnlyKeepsCaches(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	seedTwoCaches(t, store)

	results, err := store.Clear(ctx,
		func(*fetch.Request, string) bool { return true },
		func(string) bool { return false },
	)
	require.NoError(t, err)
	require.Equal(t, []bool{true, true, true}, results)

	entries, err := store.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		require.Empty(t, entry.Requests, entry.Name)
	}
}

func TestStoreClearCachePredicateWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	seedTwoCaches(t, store)

	results, err := store.Clear(ctx,
		func(*fetch.Request, string) bool { return false },
		func(name string) bool { return name == "first" },
	)
	require.NoError(t, err)
	require.Equal(t, []bool{true}, results)

	has, err := store.Has(ctx, "first")
	require.NoError(t, err)
	require.False(t, has)

	has, err = store.Has(ctx, "second")
	require.NoError(t, err)
	require.True(t, has)
}

func TestStoreClearDefaultsDeleteEverything(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)
	seedTwoCaches(t, store)

	results, err := store.Clear(ctx, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []bool{true, true}, results)

	entries, err := store.Entries(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestStoreObservesOperations(t *testing.T) {
	ctx := context.Background()
	observer := &recordingObserver{}
	store, err := New(storage.NewMemory(), Options{Observer: observer})
	require.NoError(t, err)

	_, err = store.Match(ctx, fetch.URL("/missing"))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, fetch.URL("/a"), text("a")))
	_, err = store.Match(ctx, fetch.URL("/a"))
	require.NoError(t, err)
	_, err = store.Match(ctx, fetch.URL(""))
	require.True(t, errors.Is(err, fetch.ErrInvalidURL))

	require.Equal(t, []string{"match_miss:ok", "put:ok", "match:ok", "match:error"}, observer.ops)
}
