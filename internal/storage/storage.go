// Package storage provides the named request/response cache primitive the
// cache layer wraps: a set of named caches, each mapping a request URL to
// one stored response.
package storage

import (
	"context"

	"github.com/l0p7/swkit/internal/fetch"
)

// Storage is the collection of named caches.
type Storage interface {
	// Open returns the named cache, creating it when missing.
	Open(ctx context.Context, name string) (Cache, error)
	Has(ctx context.Context, name string) (bool, error)
	// Delete removes the named cache and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Names lists caches in creation order.
	Names(ctx context.Context) ([]string, error)
	// Match searches every cache in creation order and returns the first
	// hit, or nil.
	Match(ctx context.Context, req *fetch.Request) (*fetch.Response, error)
	Close(ctx context.Context) error
}

// Cache is a single named cache. Requests are keyed by their URL; callers
// are expected to pass normalised requests.
type Cache interface {
	Name() string
	// Match returns the stored response or nil on a miss.
	Match(ctx context.Context, req *fetch.Request) (*fetch.Response, error)
	// Keys lists stored requests in insertion order.
	Keys(ctx context.Context) ([]*fetch.Request, error)
	// Put overwrites any response stored for the request URL.
	Put(ctx context.Context, req *fetch.Request, resp *fetch.Response) error
	// Delete reports whether an entry existed and was removed.
	Delete(ctx context.Context, req *fetch.Request) (bool, error)
}

// record is the persisted shape of one cache entry.
type record struct {
	Seq      int64           `json:"seq"`
	Request  *fetch.Request  `json:"request"`
	Response *fetch.Response `json:"response"`
}
