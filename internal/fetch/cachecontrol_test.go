package fetch

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseCacheControl(t *testing.T) {
	tests := map[string]struct {
		header   string
		storable bool
		ttl      time.Duration
		known    bool
	}{
		"empty":         {header: "", storable: true},
		"max-age":       {header: "max-age=300", storable: true, ttl: 5 * time.Minute, known: true},
		"quoted":        {header: `max-age="60"`, storable: true, ttl: time.Minute, known: true},
		"negative":      {header: "max-age=-1", storable: true},
		"no-cache":      {header: "no-cache", storable: true, known: true},
		"no-store":      {header: "public, No-Store", storable: false, known: true},
		"private":       {header: "private, max-age=60", storable: false, known: true},
		"unknown":       {header: "immutable, stale-while-revalidate=30", storable: true},
		"trailing junk": {header: "max-age=10,,", storable: true, ttl: 10 * time.Second, known: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cc := ParseCacheControl(tc.header)
			require.Equal(t, tc.storable, cc.Storable())
			ttl, known := cc.TTL()
			require.Equal(t, tc.known, known)
			require.Equal(t, tc.ttl, ttl)
		})
	}
}

func TestResponseCacheControl(t *testing.T) {
	header := http.Header{}
	header.Add("Cache-Control", "max-age=5")
	header.Add("Cache-Control", "no-store")
	resp := NewResponse(http.StatusOK, nil, header)
	require.False(t, resp.CacheControl().Storable())

	var missing *Response
	require.True(t, missing.CacheControl().Storable())
}
