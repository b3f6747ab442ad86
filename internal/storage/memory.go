package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/l0p7/swkit/internal/fetch"
)

type memoryStorage struct {
	mu     sync.RWMutex
	order  []string
	caches map[string]*memoryCache
}

// NewMemory returns a process-local Storage.
func NewMemory() Storage {
	return &memoryStorage{caches: make(map[string]*memoryCache)}
}

func (s *memoryStorage) Open(_ context.Context, name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[name]; ok {
		return c, nil
	}
	c := &memoryCache{name: name, entries: make(map[string]record)}
	s.caches[name] = c
	s.order = append(s.order, name)
	return c, nil
}

func (s *memoryStorage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.caches[name]
	return ok, nil
}

func (s *memoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		return false, nil
	}
	delete(s.caches, name)
	for i, existing := range s.order {
		if existing == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (s *memoryStorage) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

func (s *memoryStorage) Match(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	s.mu.RLock()
	caches := make([]*memoryCache, 0, len(s.order))
	for _, name := range s.order {
		caches = append(caches, s.caches[name])
	}
	s.mu.RUnlock()
	for _, c := range caches {
		resp, err := c.Match(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}

func (s *memoryStorage) Close(context.Context) error {
	return nil
}

type memoryCache struct {
	name string

	mu      sync.RWMutex
	seq     int64
	entries map[string]record
}

func (c *memoryCache) Name() string { return c.name }

func (c *memoryCache) Match(_ context.Context, req *fetch.Request) (*fetch.Response, error) {
	if req == nil {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[req.URL]
	if !ok {
		return nil, nil
	}
	return entry.Response.Clone(), nil
}

func (c *memoryCache) Keys(context.Context) ([]*fetch.Request, error) {
	c.mu.RLock()
	records := make([]record, 0, len(c.entries))
	for _, entry := range c.entries {
		records = append(records, entry)
	}
	c.mu.RUnlock()
	return sortedRequests(records), nil
}

func (c *memoryCache) Put(_ context.Context, req *fetch.Request, resp *fetch.Response) error {
	if req == nil || resp == nil {
		return errors.New("storage: put requires request and response")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.entries[req.URL] = record{Seq: c.seq, Request: req.Clone(), Response: resp.Clone()}
	return nil
}

func (c *memoryCache) Delete(_ context.Context, req *fetch.Request) (bool, error) {
	if req == nil {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[req.URL]; !ok {
		return false, nil
	}
	delete(c.entries, req.URL)
	return true, nil
}
