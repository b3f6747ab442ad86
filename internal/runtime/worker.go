package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l0p7/swkit/internal/cache"
	"github.com/l0p7/swkit/internal/events"
	"github.com/l0p7/swkit/internal/fetch"
	"github.com/l0p7/swkit/internal/metrics"
	"github.com/l0p7/swkit/internal/runtime/environment"
	"github.com/l0p7/swkit/internal/runtime/pipeline"
	"github.com/l0p7/swkit/internal/swerr"
)

// Registration states, in the order a worker moves through them.
const (
	StateParsed     = "parsed"
	StateInstalling = "installing"
	StateInstalled  = "installed"
	StateActivating = "activating"
	StateActivated  = "activated"
	StateRedundant  = "redundant"
)

// Bus event names the worker emits besides forwarded lifecycle events.
const (
	EventRegister    = "register"
	EventUnregister  = "unregister"
	EventStateChange = "statechange"
)

// PreloadHeader marks navigation requests issued by preloading.
const PreloadHeader = "Service-Worker-Navigation-Preload"

// StateChange is the payload of statechange emissions.
type StateChange struct {
	From string
	To   string
}

// WorkerOptions collects the worker's collaborators.
type WorkerOptions struct {
	Env     *environment.Environment
	Bus     *events.Bus
	Store   *cache.Store
	Fetcher fetch.Fetcher
	Metrics *metrics.Recorder
	Logger  *slog.Logger
	// Origin is where inbound requests are addressed. Defaults to the
	// store's origin.
	Origin *url.URL
}

// Worker hosts the per-event chains and native listeners, and plays the
// registration the lifecycle middleware talk to.
type Worker struct {
	env     *environment.Environment
	bus     *events.Bus
	store   *cache.Store
	fetcher fetch.Fetcher
	metrics *metrics.Recorder
	logger  *slog.Logger
	origin  *url.URL

	mu        sync.RWMutex
	chains    map[string]*pipeline.Chain
	listeners map[string][]func(any)
	state     string

	registered  atomic.Bool
	skipWaiting atomic.Bool
	claimed     atomic.Bool
	preload     atomic.Bool
	background  sync.WaitGroup
}

// NewWorker registers a worker and announces it on the bus.
func NewWorker(opts WorkerOptions) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origin := opts.Origin
	if origin == nil && opts.Store != nil {
		origin = opts.Store.Origin()
	}
	w := &Worker{
		env:       opts.Env,
		bus:       opts.Bus,
		store:     opts.Store,
		fetcher:   opts.Fetcher,
		metrics:   opts.Metrics,
		logger:    logger.With(slog.String("agent", "worker")),
		origin:    origin,
		chains:    make(map[string]*pipeline.Chain),
		listeners: make(map[string][]func(any)),
		state:     StateParsed,
	}
	w.registered.Store(true)
	w.bus.Emit(EventRegister, w)
	return w
}

// Use installs the chain for a lifecycle event, replacing any previous one.
func (w *Worker) Use(eventType string, handlers ...pipeline.Handler) error {
	factory, ok := pipeline.FactoryFor(eventType)
	if !ok {
		return swerr.UnknownEventName(eventType, pipeline.LifecycleEvents)
	}
	if _, err := pipeline.NewChain(handlers, nil); err != nil {
		return err
	}
	chain, err := factory.Build(w.instrument(eventType, handlers)...)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.chains[eventType] = chain
	w.mu.Unlock()
	return nil
}

// Chain returns the chain installed for eventType, if any.
func (w *Worker) Chain(eventType string) *pipeline.Chain {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.chains[eventType]
}

// EventProperty reports on<event> properties for the lifecycle events. A
// property is assigned once a chain was installed with Use.
func (w *Worker) EventProperty(prop string) (present, assigned bool) {
	for _, typ := range pipeline.LifecycleEvents {
		if prop == "on"+typ {
			return true, w.Chain(typ) != nil
		}
	}
	return false, false
}

// AddEventListener registers a native listener for event.
func (w *Worker) AddEventListener(event string, fn func(payload any)) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners[event] = append(w.listeners[event], fn)
	w.mu.Unlock()
}

// Dispatch hands e to the native listeners and then to the chain for its
// type. Without a chain the outcome is Handled when a listener responded.
func (w *Worker) Dispatch(ctx context.Context, e *pipeline.Event) pipeline.Outcome {
	start := time.Now()
	w.mu.RLock()
	listeners := slices.Clone(w.listeners[e.Type])
	chain := w.chains[e.Type]
	w.mu.RUnlock()

	for _, fn := range listeners {
		fn(e)
	}

	outcome := pipeline.Continue
	handledBy := ""
	if chain != nil {
		res := chain.Run(e)
		outcome = res.Outcome
		handledBy = res.HandledBy
	}
	if outcome == pipeline.Continue && e.Responded() {
		outcome = pipeline.Handled
	}

	duration := time.Since(start)
	w.metrics.ObserveDispatch(e.Type, outcome.String(), duration)
	w.logger.LogAttrs(ctx, slog.LevelDebug, "event dispatched",
		slog.String("event", e.Type),
		slog.String("event_id", e.ID),
		slog.String("outcome", outcome.String()),
		slog.String("handled_by", handledBy),
		slog.Int("listeners", len(listeners)),
		slog.Float64("latency_ms", float64(duration)/float64(time.Millisecond)),
	)
	return outcome
}

// settle waits for e's background work off the request path. Close waits
// for every settle in flight.
func (w *Worker) settle(e *pipeline.Event) {
	w.background.Add(1)
	go func() {
		defer w.background.Done()
		err := e.Wait()
		w.metrics.ObserveBackground(e.Type, err)
		if err != nil {
			w.logger.Warn("background task failed",
				slog.String("event", e.Type),
				slog.String("event_id", e.ID),
				slog.Any("error", err),
			)
		}
	}()
}

// Install runs the install event and waits for its background work. Any
// failure leaves the worker redundant.
func (w *Worker) Install(ctx context.Context) error {
	w.setState(StateInstalling)
	e := pipeline.NewEvent(ctx, pipeline.EventInstall)
	w.Dispatch(ctx, e)
	if err := e.Wait(); err != nil {
		w.metrics.ObserveBackground(e.Type, err)
		w.setState(StateRedundant)
		return swerr.FailedToInstall("", err)
	}
	w.metrics.ObserveBackground(e.Type, nil)
	w.setState(StateInstalled)
	return nil
}

// Activate runs the activate event and waits for its background work. The
// worker is activated even when a task failed; the failure is returned.
func (w *Worker) Activate(ctx context.Context) error {
	if state := w.State(); state != StateInstalled {
		return swerr.Failure("Activate", fmt.Errorf("worker is %s", state))
	}
	w.setState(StateActivating)
	e := pipeline.NewEvent(ctx, pipeline.EventActivate)
	w.Dispatch(ctx, e)
	err := e.Wait()
	w.metrics.ObserveBackground(e.Type, err)
	w.setState(StateActivated)
	if err != nil {
		return swerr.Failure("Activate", err)
	}
	return nil
}

// State reports the registration state.
func (w *Worker) State() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(next string) {
	w.mu.Lock()
	prev := w.state
	w.state = next
	w.mu.Unlock()
	if prev == next {
		return
	}
	w.logger.Info("worker state changed", slog.String("from", prev), slog.String("to", next))
	w.bus.Emit(EventStateChange, StateChange{From: prev, To: next})
}

// SkipWaiting records that the worker wants to activate without waiting
// for old clients.
func (w *Worker) SkipWaiting(context.Context) error {
	w.skipWaiting.Store(true)
	return nil
}

// SkipWaitingRequested reports whether SkipWaiting was called.
func (w *Worker) SkipWaitingRequested() bool { return w.skipWaiting.Load() }

// ClaimClients makes the worker the controller of every client.
func (w *Worker) ClaimClients(context.Context) error {
	if !w.registered.Load() {
		return swerr.Failure("Clients", errors.New("worker is not registered"))
	}
	w.claimed.Store(true)
	return nil
}

// Claimed reports whether ClaimClients succeeded.
func (w *Worker) Claimed() bool { return w.claimed.Load() }

// Unregister retires the worker. Only the first call reports true.
func (w *Worker) Unregister(context.Context) (bool, error) {
	if !w.registered.CompareAndSwap(true, false) {
		return false, nil
	}
	w.claimed.Store(false)
	w.setState(StateRedundant)
	w.bus.Emit(EventUnregister, w)
	return true, nil
}

// Registered reports whether the worker is still registered.
func (w *Worker) Registered() bool { return w.registered.Load() }

// EnableNavigationPreload turns on preloading for navigations.
func (w *Worker) EnableNavigationPreload(context.Context) error {
	w.preload.Store(true)
	return nil
}

// NavigationPreloadEnabled reports whether navigations are preloaded.
func (w *Worker) NavigationPreloadEnabled() bool { return w.preload.Load() }

// Close waits for background work started by served events, bounded by ctx.
func (w *Worker) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runtime: close: %w", ctx.Err())
	}
}

func (w *Worker) writeError(rw http.ResponseWriter, status int, message string) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(status)
	if _, err := rw.Write([]byte(message)); err != nil {
		w.logger.Error("error response write failed", slog.Any("error", err))
	}
}
