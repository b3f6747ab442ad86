package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/swkit/internal/fetch"
)

func TestEventIDsAreUnique(t *testing.T) {
	a := NewEvent(context.Background(), EventInstall)
	b := NewEvent(context.Background(), EventInstall)
	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
}

func TestEventWaitJoinsTaskErrors(t *testing.T) {
	e := NewEvent(context.Background(), EventActivate)
	var ran atomic.Int32
	boom := errors.New("boom")

	e.WaitUntil(func(context.Context) error { ran.Add(1); return nil })
	e.WaitUntil(func(context.Context) error { ran.Add(1); return boom })
	e.WaitUntil(nil)

	err := e.Wait()
	require.ErrorIs(t, err, boom)
	require.Equal(t, int32(2), ran.Load())
}

func TestEventTasksOutliveCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEvent(ctx, EventFetch)
	cancel()

	e.WaitUntil(func(ctx context.Context) error { return ctx.Err() })
	require.NoError(t, e.Wait())
}

func TestEventFirstResponderWins(t *testing.T) {
	e := NewFetchEvent(context.Background(), fetch.NewRequest("https://example.com/"))
	require.False(t, e.Responded())

	resp, err := e.Respond(context.Background())
	require.NoError(t, err)
	require.Nil(t, resp)

	first := fetch.NewResponse(http.StatusOK, []byte("first"), nil)
	second := fetch.NewResponse(http.StatusOK, []byte("second"), nil)
	require.True(t, e.RespondWith(func(context.Context) (*fetch.Response, error) { return first, nil }))
	require.False(t, e.RespondWith(func(context.Context) (*fetch.Response, error) { return second, nil }))
	require.False(t, e.RespondWith(nil))
	require.True(t, e.Responded())

	resp, err = e.Respond(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", resp.Text())
}

func TestEventPreloadResponse(t *testing.T) {
	e := NewFetchEvent(context.Background(), fetch.NewRequest("https://example.com/"))
	resp, err := e.PreloadResponse(context.Background())
	require.NoError(t, err)
	require.Nil(t, resp)

	e.SetPreload(func(context.Context) (*fetch.Response, error) {
		return fetch.NewResponse(http.StatusOK, []byte("preloaded"), nil), nil
	})
	resp, err = e.PreloadResponse(context.Background())
	require.NoError(t, err)
	require.Equal(t, "preloaded", resp.Text())
}
