package pipeline

import (
	"sync"

	"github.com/l0p7/swkit/internal/fetch"
)

// Context keys shared between handlers.
const (
	KeyRequest   = "request"
	KeyCacheName = "cacheName"
	KeyID        = "id"
	KeyData      = "data"
)

// Context is the scratchpad handed to every handler of one traversal. It is
// discarded when the traversal ends.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewContext returns a Context seeded with a copy of seed.
func NewContext(seed map[string]any) *Context {
	return &Context{values: cloneAnyMap(seed)}
}

// Get returns the value stored under key, or nil.
func (c *Context) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// Values returns a snapshot of every stored value.
func (c *Context) Values() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneAnyMap(c.values)
}

// Set stores value under key on the shared context and returns a snapshot of
// all values. Writes to the returned map do not reach the context; use Set.
func (c *Context) Set(key string, value any) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return cloneAnyMap(c.values)
}

// Request returns the request a router recorded, or nil.
func (c *Context) Request() *fetch.Request {
	req, _ := c.Get(KeyRequest).(*fetch.Request)
	return req
}

func (c *Context) SetRequest(req *fetch.Request) { c.Set(KeyRequest, req) }

// CacheName returns the cache a router selected, or "".
func (c *Context) CacheName() string {
	name, _ := c.Get(KeyCacheName).(string)
	return name
}

func (c *Context) SetCacheName(name string) { c.Set(KeyCacheName, name) }

func cloneAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
