// Package events is a named publish/subscribe registry with a short replay
// history so observers attached late still see recent events.
package events

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/l0p7/swkit/internal/runtime/pipeline"
)

// ReplayLimit is how many payloads are kept per event name.
const ReplayLimit = 3

// Listener receives an event payload and the context shared by every
// listener of one emission.
type Listener func(payload any, ctx *pipeline.Context)

// Subscription identifies one registered listener.
type Subscription struct {
	bus  *Bus
	name string
	fn   Listener
}

// Name returns the event name the subscription listens on.
func (s *Subscription) Name() string { return s.name }

// Cancel unregisters the listener.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.Off(s.name, s)
}

// Target is an object exposing on<event> properties and native listeners.
type Target interface {
	// EventProperty reports whether prop exists on the target and whether
	// it is already assigned.
	EventProperty(prop string) (present, assigned bool)
	AddEventListener(event string, fn func(payload any))
}

// Observer is told about every delivered emission.
type Observer interface {
	ObserveEvent(name string, listeners int)
}

// Option configures a Bus.
type Option func(*Bus)

// WithObserver reports emissions to o.
func WithObserver(o Observer) Option {
	return func(b *Bus) { b.observer = o }
}

// WithLogger sets the logger used for debug traces.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Bus is the event registry. Every method is a no-op while the enabled
// predicate reports false; the predicate is read on each call.
type Bus struct {
	enabled  func() bool
	observer Observer
	logger   *slog.Logger

	mu        sync.Mutex
	listeners map[string][]*Subscription
	history   map[string][]any
	transient map[string]bool
}

// New returns an empty Bus. A nil enabled predicate means always enabled.
func New(enabled func() bool, opts ...Option) *Bus {
	if enabled == nil {
		enabled = func() bool { return true }
	}
	b := &Bus{
		enabled:   enabled,
		logger:    slog.Default(),
		listeners: make(map[string][]*Subscription),
		history:   make(map[string][]any),
		transient: make(map[string]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.logger = b.logger.With(slog.String("agent", "events"))
	return b
}

// Enabled reports whether the bus currently accepts calls.
func (b *Bus) Enabled() bool { return b != nil && b.enabled() }

// On registers listeners for name and immediately replays the buffered
// history, oldest first, to each of them.
func (b *Bus) On(name string, listeners ...Listener) []*Subscription {
	if !b.Enabled() {
		return nil
	}
	subs := make([]*Subscription, 0, len(listeners))
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		subs = append(subs, &Subscription{bus: b, name: name, fn: fn})
	}
	if len(subs) == 0 {
		return subs
	}

	b.mu.Lock()
	b.listeners[name] = append(b.listeners[name], subs...)
	history := append([]any(nil), b.history[name]...)
	b.mu.Unlock()

	for _, sub := range subs {
		for _, payload := range history {
			sub.fn(payload, pipeline.NewContext(nil))
		}
	}
	return subs
}

// Off removes sub. When no listener remains for name the replay history is
// dropped as well.
func (b *Bus) Off(name string, sub *Subscription) {
	if !b.Enabled() || sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	current, ok := b.listeners[name]
	if !ok {
		return
	}
	kept := make([]*Subscription, 0, len(current))
	for _, s := range current {
		if s != sub {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.listeners, name)
		delete(b.history, name)
		return
	}
	b.listeners[name] = kept
}

// Once registers a listener that unregisters itself before its first and
// only invocation.
func (b *Bus) Once(name string, fn Listener) *Subscription {
	if !b.Enabled() || fn == nil {
		return nil
	}
	var fired atomic.Bool
	var sub *Subscription
	wrapper := func(payload any, ctx *pipeline.Context) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		b.Off(name, sub)
		fn(payload, ctx)
	}
	sub = &Subscription{bus: b, name: name, fn: wrapper}

	b.mu.Lock()
	b.listeners[name] = append(b.listeners[name], sub)
	history := append([]any(nil), b.history[name]...)
	b.mu.Unlock()

	if len(history) > 0 {
		wrapper(history[0], pipeline.NewContext(nil))
	}
	return sub
}

// Transient marks names whose emissions are delivered but never buffered, so
// late listeners do not replay them. Existing history for those names is
// dropped.
func (b *Bus) Transient(names ...string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range names {
		b.transient[name] = true
		delete(b.history, name)
	}
}

// Emit buffers payload, unless name is transient, and calls every listener
// registered for name, in registration order, with one fresh Context shared
// between them.
func (b *Bus) Emit(name string, payload any) {
	if !b.Enabled() {
		return
	}
	b.mu.Lock()
	if !b.transient[name] {
		history := append(b.history[name], payload)
		if len(history) > ReplayLimit {
			history = append([]any(nil), history[len(history)-ReplayLimit:]...)
		}
		b.history[name] = history
	}
	snapshot := append([]*Subscription(nil), b.listeners[name]...)
	b.mu.Unlock()

	if b.observer != nil {
		b.observer.ObserveEvent(name, len(snapshot))
	}
	b.logger.Debug("event emitted", slog.String("event", name), slog.Int("listeners", len(snapshot)))

	ctx := pipeline.NewContext(nil)
	for _, sub := range snapshot {
		sub.fn(payload, ctx)
	}
}

// Emitter forwards native events of target onto the bus. Only properties
// named on<event> that exist on the target and are unassigned are wired.
func (b *Bus) Emitter(properties []string, target Target) {
	if !b.Enabled() || target == nil {
		return
	}
	for _, prop := range properties {
		present, assigned := target.EventProperty(prop)
		if !present || assigned || !strings.HasPrefix(prop, "on") {
			continue
		}
		name := strings.TrimPrefix(prop, "on")
		target.AddEventListener(name, func(payload any) { b.Emit(name, payload) })
	}
}

// Listeners reports how many listeners are registered for name.
func (b *Bus) Listeners(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[name])
}

// History returns the buffered payloads for name, oldest first.
func (b *Bus) History(name string) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]any(nil), b.history[name]...)
}

// Reset drops every listener and the whole replay history. Transient names
// stay transient.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[string][]*Subscription)
	b.history = make(map[string][]any)
}

// Adapt turns a handler into a listener for *pipeline.Event payloads. Other
// payloads are ignored.
func Adapt(h pipeline.Handler) Listener {
	if h == nil {
		return nil
	}
	return func(payload any, ctx *pipeline.Context) {
		e, ok := payload.(*pipeline.Event)
		if !ok {
			return
		}
		h.Handle(e, ctx)
	}
}
