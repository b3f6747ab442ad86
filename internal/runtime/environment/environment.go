// Package environment reports the runtime flags and host capabilities the
// middleware consult before doing any work.
package environment

import (
	"sync"
	"sync/atomic"
)

// Flags are the runtime switches that may change while the worker runs.
type Flags struct {
	Development       bool `koanf:"development"`
	Events            bool `koanf:"events"`
	NonStandard       bool `koanf:"nonStandard"`
	NavigationPreload bool `koanf:"navigationPreload"`
}

// DefaultFlags enables every feature except development mode.
func DefaultFlags() Flags {
	return Flags{
		Events:            true,
		NonStandard:       true,
		NavigationPreload: true,
	}
}

// Capabilities describe what the host provides. They are fixed for the
// lifetime of an Environment.
type Capabilities struct {
	ServiceWorker  bool
	CacheStorage   bool
	Push           bool
	Notification   bool
	BackgroundSync bool
	IndexedDB      bool
	Permissions    bool
}

// Worker reports a worker host with cache storage but no client-only
// features such as notifications UI or indexedDB.
func Worker() Capabilities {
	return Capabilities{
		ServiceWorker:  true,
		CacheStorage:   true,
		Push:           true,
		BackgroundSync: true,
	}
}

// Environment answers capability questions. The zero value reports no
// capabilities and all flags off.
type Environment struct {
	mu      sync.RWMutex
	flags   Flags
	caps    Capabilities
	offline atomic.Bool
}

// New returns an Environment with the given capabilities and flags.
func New(caps Capabilities, flags Flags) *Environment {
	return &Environment{caps: caps, flags: flags}
}

// Configure replaces the runtime flags.
func (e *Environment) Configure(flags Flags) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.flags = flags
	e.mu.Unlock()
}

// Flags returns a snapshot of the runtime flags.
func (e *Environment) Flags() Flags {
	if e == nil {
		return Flags{}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.flags
}

// Capabilities returns the host capabilities.
func (e *Environment) Capabilities() Capabilities {
	if e == nil {
		return Capabilities{}
	}
	return e.caps
}

// SetOffline records whether the upstream network is reachable.
func (e *Environment) SetOffline(offline bool) {
	if e == nil {
		return
	}
	e.offline.Store(offline)
}

func (e *Environment) IsOffline() bool { return e != nil && e.offline.Load() }
func (e *Environment) IsDevelopment() bool { return e.Flags().Development }
func (e *Environment) IsEventsEnabled() bool { return e.Flags().Events }
func (e *Environment) IsNonStandardEnabled() bool { return e.Flags().NonStandard }
func (e *Environment) IsNavigationPreloadEnabled() bool { return e.Flags().NavigationPreload }

func (e *Environment) IsServiceWorker() bool { return e.Capabilities().ServiceWorker }
func (e *Environment) IsCacheStorageSupported() bool { return e.Capabilities().CacheStorage }
func (e *Environment) IsPushSupported() bool { return e.Capabilities().Push }
func (e *Environment) IsNotificationSupported() bool { return e.Capabilities().Notification }
func (e *Environment) IsBackgroundSyncSupported() bool { return e.Capabilities().BackgroundSync }
func (e *Environment) IsIndexedDBSupported() bool { return e.Capabilities().IndexedDB }
func (e *Environment) IsPermissionsSupported() bool { return e.Capabilities().Permissions }

// IsCacheWorker reports both a worker host and cache storage, the
// precondition for every caching middleware.
func (e *Environment) IsCacheWorker() bool {
	caps := e.Capabilities()
	return caps.ServiceWorker && caps.CacheStorage
}
