package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/l0p7/swkit/internal/fetch"
	"github.com/l0p7/swkit/internal/storage"
	"github.com/l0p7/swkit/internal/swerr"
)

const (
	DefaultPrefix    = "__sw"
	DefaultDelimiter = "/"
	DefaultCacheName = "one-cache"
	DefaultOrigin    = "http://localhost"
)

// Observer receives one call per completed cache operation.
type Observer interface {
	ObserveCacheOperation(operation, result string, duration time.Duration)
}

// Options configure a Store.
type Options struct {
	Origin      string
	Prefix      string
	Delimiter   string
	DefaultName string
	Fetcher     fetch.Fetcher
	Observer    Observer
	Logger      *slog.Logger
}

// Store is the cache facade used by middleware. Every method accepts
// either a URL string or a *fetch.Request and compares entries by the
// normalised URL.
type Store struct {
	storage     storage.Storage
	fetcher     fetch.Fetcher
	observer    Observer
	logger      *slog.Logger
	origin      *url.URL
	prefix      string
	delimiter   string
	defaultName string
}

// Entry describes one cache as returned by Entries.
type Entry struct {
	Requests []*fetch.Request
	Cache    storage.Cache
	Name     string
}

// RequestPredicate selects individual entries during Clear.
type RequestPredicate func(req *fetch.Request, cacheName string) bool

// CachePredicate selects whole caches during Clear.
type CachePredicate func(cacheName string) bool

// Option scopes a single call.
type Option func(*callOptions)

type callOptions struct {
	cacheName string
	scoped    bool
}

// WithCacheName scopes a call to the named cache.
func WithCacheName(name string) Option {
	return func(o *callOptions) {
		o.cacheName = name
		o.scoped = true
	}
}

// New builds a Store over st.
func New(st storage.Storage, opts Options) (*Store, error) {
	if st == nil {
		return nil, errors.New("cache: storage required")
	}
	rawOrigin := strings.TrimSpace(opts.Origin)
	if rawOrigin == "" {
		rawOrigin = DefaultOrigin
	}
	origin, err := url.Parse(rawOrigin)
	if err != nil {
		return nil, fmt.Errorf("cache: parse origin: %w", err)
	}
	if !origin.IsAbs() {
		return nil, fmt.Errorf("cache: origin %q must be absolute", rawOrigin)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		storage:     st,
		fetcher:     opts.Fetcher,
		observer:    opts.Observer,
		logger:      logger.With(slog.String("agent", "cache_store")),
		origin:      origin,
		prefix:      coalesce(opts.Prefix, DefaultPrefix),
		delimiter:   coalesce(opts.Delimiter, DefaultDelimiter),
		defaultName: coalesce(opts.DefaultName, DefaultCacheName),
	}
	return s, nil
}

// Origin returns the URL relative requests resolve against.
func (s *Store) Origin() *url.URL {
	u := *s.origin
	return &u
}

// CacheName namespaces name under the library prefix. An empty name uses
// the default cache name.
func (s *Store) CacheName(name string) string {
	if name == "" {
		name = s.defaultName
	}
	return s.prefix + s.delimiter + name
}

// DefaultCacheName is the cache used when a call names none.
func (s *Store) DefaultCacheName() string { return s.defaultName }

// Normalize resolves r into a request with an absolute URL.
func (s *Store) Normalize(r fetch.Requestable) (*fetch.Request, error) {
	return fetch.Resolve(s.origin, r)
}

func (s *Store) resolveOptions(opts []Option) callOptions {
	o := callOptions{cacheName: s.defaultName}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.cacheName == "" {
		o.cacheName = s.defaultName
	}
	return o
}

func (s *Store) observe(operation string, start time.Time, err error) {
	if s.observer == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.observer.ObserveCacheOperation(operation, result, time.Since(start))
}

// Open returns the named cache, creating it when missing.
func (s *Store) Open(ctx context.Context, name string) (storage.Cache, error) {
	if name == "" {
		name = s.defaultName
	}
	c, err := s.storage.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", name, err)
	}
	return c, nil
}

// Has reports whether the named cache exists.
func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	if name == "" {
		name = s.defaultName
	}
	return s.storage.Has(ctx, name)
}

// Match looks the request up. Without WithCacheName every cache is
// searched; with it only that cache is. A miss returns nil, nil, and so
// does any request that is not a GET.
func (s *Store) Match(ctx context.Context, r fetch.Requestable, opts ...Option) (resp *fetch.Response, err error) {
	start := time.Now()
	defer func() { s.observe(matchOperation(resp, err), start, err) }()

	req, err := s.Normalize(r)
	if err != nil {
		return nil, err
	}
	if !req.Cacheable() {
		return nil, nil
	}
	o := s.resolveOptions(opts)
	if !o.scoped {
		return s.storage.Match(ctx, req)
	}
	c, err := s.Open(ctx, o.cacheName)
	if err != nil {
		return nil, err
	}
	return c.Match(ctx, req)
}

func matchOperation(resp *fetch.Response, err error) string {
	if err == nil && resp == nil {
		return "match_miss"
	}
	return "match"
}

// MatchAll resolves each request independently against one cache and
// returns the responses in input order, nil for misses.
func (s *Store) MatchAll(ctx context.Context, requests []fetch.Requestable, opts ...Option) ([]*fetch.Response, error) {
	o := s.resolveOptions(opts)
	scoped := WithCacheName(o.cacheName)
	out := make([]*fetch.Response, 0, len(requests))
	for _, r := range requests {
		resp, err := s.Match(ctx, r, scoped)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// Keys lists the requests stored in a cache.
func (s *Store) Keys(ctx context.Context, opts ...Option) ([]*fetch.Request, error) {
	o := s.resolveOptions(opts)
	c, err := s.Open(ctx, o.cacheName)
	if err != nil {
		return nil, err
	}
	return c.Keys(ctx)
}

// Add fetches the request and stores the response.
func (s *Store) Add(ctx context.Context, r fetch.Requestable, opts ...Option) (*fetch.Response, error) {
	req, err := s.Normalize(r)
	if err != nil {
		return nil, err
	}
	o := s.resolveOptions(opts)
	c, err := s.Open(ctx, o.cacheName)
	if err != nil {
		return nil, err
	}
	return s.add(ctx, c, req)
}

func (s *Store) add(ctx context.Context, c storage.Cache, req *fetch.Request) (resp *fetch.Response, err error) {
	start := time.Now()
	defer func() { s.observe("add", start, err) }()

	if err := requireCacheable(req); err != nil {
		return nil, err
	}
	if s.fetcher == nil {
		return nil, swerr.NotSupported("Fetch", nil)
	}
	resp, err = s.fetcher.Fetch(ctx, req.Clone(), fetch.Options{})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, swerr.Failure("Cache", fmt.Errorf("fetch %s: unexpected status %d", req.URL, resp.Status))
	}
	if err := c.Put(ctx, req, resp); err != nil {
		return nil, fmt.Errorf("cache: put %s: %w", req.URL, err)
	}
	return resp, nil
}

// AddAll fetches and stores every request. Requests are validated before
// any network traffic happens; an empty list is a successful no-op.
func (s *Store) AddAll(ctx context.Context, requests []fetch.Requestable, opts ...Option) ([]*fetch.Response, error) {
	normalized := make([]*fetch.Request, 0, len(requests))
	for _, r := range requests {
		req, err := s.Normalize(r)
		if err != nil {
			return nil, err
		}
		if err := requireCacheable(req); err != nil {
			return nil, err
		}
		normalized = append(normalized, req)
	}
	out := make([]*fetch.Response, 0, len(normalized))
	if len(normalized) == 0 {
		return out, nil
	}
	o := s.resolveOptions(opts)
	c, err := s.Open(ctx, o.cacheName)
	if err != nil {
		return nil, err
	}
	for _, req := range normalized {
		resp, err := s.add(ctx, c, req)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

// Put stores resp for the request, replacing any previous entry.
func (s *Store) Put(ctx context.Context, r fetch.Requestable, resp *fetch.Response, opts ...Option) (err error) {
	start := time.Now()
	defer func() { s.observe("put", start, err) }()

	req, err := s.Normalize(r)
	if err != nil {
		return err
	}
	if err := requireCacheable(req); err != nil {
		return err
	}
	if resp == nil {
		return errors.New("cache: put requires a response")
	}
	o := s.resolveOptions(opts)
	c, err := s.Open(ctx, o.cacheName)
	if err != nil {
		return err
	}
	return c.Put(ctx, req, resp)
}

// Remove deletes the entry and reports whether one existed.
func (s *Store) Remove(ctx context.Context, r fetch.Requestable, opts ...Option) (deleted bool, err error) {
	start := time.Now()
	defer func() { s.observe("remove", start, err) }()

	req, err := s.Normalize(r)
	if err != nil {
		return false, err
	}
	o := s.resolveOptions(opts)
	c, err := s.Open(ctx, o.cacheName)
	if err != nil {
		return false, err
	}
	return c.Delete(ctx, req)
}

// RemoveAll deletes each request independently, preserving input order in
// the result.
func (s *Store) RemoveAll(ctx context.Context, requests []fetch.Requestable, opts ...Option) ([]bool, error) {
	out := make([]bool, 0, len(requests))
	for _, r := range requests {
		deleted, err := s.Remove(ctx, r, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, deleted)
	}
	return out, nil
}

// Entries lists caches with their current keys. Without names every cache
// is listed; named caches are opened if they do not exist yet.
func (s *Store) Entries(ctx context.Context, names ...string) ([]Entry, error) {
	if len(names) == 0 {
		all, err := s.storage.Names(ctx)
		if err != nil {
			return nil, fmt.Errorf("cache: list caches: %w", err)
		}
		names = all
	}
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		c, err := s.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		keys, err := c.Keys(ctx)
		if err != nil {
			return nil, fmt.Errorf("cache: keys %s: %w", name, err)
		}
		out = append(out, Entry{Requests: keys, Cache: c, Name: name})
	}
	return out, nil
}

// Clear sweeps every cache. A cache whose name satisfies cachePredicate is
// deleted whole; otherwise each entry satisfying requestPredicate is
// deleted. The result holds one bool per deletion attempted. Nil
// predicates match everything. There is no rollback on partial failure.
func (s *Store) Clear(ctx context.Context, requestPredicate RequestPredicate, cachePredicate CachePredicate) (results []bool, err error) {
	start := time.Now()
	defer func() { s.observe("clear", start, err) }()

	if requestPredicate == nil {
		requestPredicate = func(*fetch.Request, string) bool { return true }
	}
	if cachePredicate == nil {
		cachePredicate = func(string) bool { return true }
	}
	entries, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}
	results = make([]bool, 0)
	var errs []error
	for _, entry := range entries {
		if cachePredicate(entry.Name) {
			deleted, err := s.storage.Delete(ctx, entry.Name)
			if err != nil {
				errs = append(errs, fmt.Errorf("cache: delete %s: %w", entry.Name, err))
				continue
			}
			results = append(results, deleted)
			continue
		}
		for _, req := range entry.Requests {
			if !requestPredicate(req, entry.Name) {
				continue
			}
			deleted, err := entry.Cache.Delete(ctx, req)
			if err != nil {
				errs = append(errs, fmt.Errorf("cache: delete %s in %s: %w", req.URL, entry.Name, err))
				continue
			}
			results = append(results, deleted)
		}
	}
	if len(errs) > 0 {
		s.logger.Warn("cache clear finished with errors", slog.Int("errors", len(errs)))
		return results, errors.Join(errs...)
	}
	return results, nil
}

func requireCacheable(req *fetch.Request) error {
	if req.Cacheable() {
		return nil
	}
	return swerr.Failure("Cache", fmt.Errorf("%s %s: only GET requests can be cached", req.Method, req.URL))
}

func coalesce(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
