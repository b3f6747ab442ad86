package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/l0p7/swkit/internal/swerr"
)

const defaultTimeout = 30 * time.Second

// Options tune a single fetch.
type Options struct {
	Header  http.Header
	Timeout time.Duration
}

// Fetcher performs network requests.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request, opts Options) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request, opts Options) (*Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request, opts Options) (*Response, error) {
	return f(ctx, req, opts)
}

// HTTPFetcher fetches over net/http. Requests addressed to the worker's
// origin are sent to the upstream instead, keeping path and query.
type HTTPFetcher struct {
	client   *http.Client
	origin   *url.URL
	upstream *url.URL
}

// NewHTTPFetcher builds a fetcher. An empty upstream sends requests to the
// URL they name.
func NewHTTPFetcher(client *http.Client, origin, upstream string) (*HTTPFetcher, error) {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	f := &HTTPFetcher{client: client}
	if strings.TrimSpace(origin) != "" {
		u, err := url.Parse(origin)
		if err != nil {
			return nil, fmt.Errorf("fetch: parse origin: %w", err)
		}
		f.origin = u
	}
	if strings.TrimSpace(upstream) != "" {
		u, err := url.Parse(upstream)
		if err != nil {
			return nil, fmt.Errorf("fetch: parse upstream: %w", err)
		}
		if !u.IsAbs() {
			return nil, fmt.Errorf("fetch: upstream %q must be absolute", upstream)
		}
		f.upstream = u
	}
	return f, nil
}

// Fetch sends req and buffers the response. Transport failures are
// reported as swerr.Failure("Fetch", cause); HTTP error statuses are not
// errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request, opts Options) (*Response, error) {
	if req == nil {
		return nil, ErrInvalidURL
	}
	target, err := f.target(req.URL)
	if err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body *bytes.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	var httpReq *http.Request
	if body != nil {
		httpReq, err = http.NewRequestWithContext(ctx, method, target, body)
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, method, target, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	for name, values := range opts.Header {
		httpReq.Header.Del(name)
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, swerr.Failure("Fetch", err)
	}
	out, err := ReadResponse(resp, req.URL)
	if err != nil {
		return nil, swerr.Failure("Fetch", err)
	}
	return out, nil
}

func (f *HTTPFetcher) target(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	if !u.IsAbs() {
		if f.origin == nil {
			return "", fmt.Errorf("%w: %q is relative", ErrInvalidURL, raw)
		}
		u = f.origin.ResolveReference(u)
	}
	if f.upstream == nil || f.origin == nil || !strings.EqualFold(u.Host, f.origin.Host) {
		return u.String(), nil
	}
	rewritten := *u
	rewritten.Scheme = f.upstream.Scheme
	rewritten.Host = f.upstream.Host
	if base := strings.TrimSuffix(f.upstream.Path, "/"); base != "" {
		rewritten.Path = base + u.Path
		rewritten.RawPath = ""
	}
	return rewritten.String(), nil
}
