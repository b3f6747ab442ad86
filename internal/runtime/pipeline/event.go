package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/l0p7/swkit/internal/fetch"
)

// Lifecycle event types. Each one owns a chain on the worker.
const (
	EventInstall  = "install"
	EventActivate = "activate"
	EventMessage  = "message"
	EventPush     = "push"
	EventSync     = "sync"
	EventFetch    = "fetch"
)

// LifecycleEvents lists the event types dispatched through chains.
var LifecycleEvents = []string{EventInstall, EventActivate, EventMessage, EventPush, EventSync, EventFetch}

// Responder produces the answer to a fetch event. It runs after the
// traversal has decided the outcome.
type Responder func(ctx context.Context) (*fetch.Response, error)

// Task is background work the event waits for before it is fully settled.
type Task func(ctx context.Context) error

// Event is one lifecycle or network event travelling through handlers.
type Event struct {
	ID      string
	Type    string
	Request *fetch.Request
	Data    []byte
	Tag     string
	Source  string

	ctx     context.Context
	tasks   sync.WaitGroup
	mu      sync.Mutex
	errs    []error
	respond Responder
	preload Responder
}

// NewEvent builds an event of the given type. Background tasks inherit the
// values of ctx but not its cancellation.
func NewEvent(ctx context.Context, typ string) *Event {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Event{
		ID:   uuid.NewString(),
		Type: typ,
		ctx:  context.WithoutCancel(ctx),
	}
}

// NewFetchEvent builds a fetch event for req.
func NewFetchEvent(ctx context.Context, req *fetch.Request) *Event {
	e := NewEvent(ctx, EventFetch)
	e.Request = req
	return e
}

// Context returns the context background tasks run with.
func (e *Event) Context() context.Context { return e.ctx }

// WaitUntil schedules task in the background. Its error, if any, is
// reported by Wait.
func (e *Event) WaitUntil(task Task) {
	if task == nil {
		return
	}
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		if err := task(e.ctx); err != nil {
			e.mu.Lock()
			e.errs = append(e.errs, err)
			e.mu.Unlock()
		}
	}()
}

// Wait blocks until every background task finished and joins their errors.
func (e *Event) Wait() error {
	e.tasks.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(e.errs...)
}

// RespondWith registers the responder for the event. Only the first call
// wins; later calls report false.
func (e *Event) RespondWith(r Responder) bool {
	if r == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.respond != nil {
		return false
	}
	e.respond = r
	return true
}

// Responded reports whether a responder has been registered.
func (e *Event) Responded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.respond != nil
}

// Respond runs the registered responder. Without one it returns nil, nil.
func (e *Event) Respond(ctx context.Context) (*fetch.Response, error) {
	e.mu.Lock()
	r := e.respond
	e.mu.Unlock()
	if r == nil {
		return nil, nil
	}
	return r(ctx)
}

// SetPreload installs the source of the navigation preload response.
func (e *Event) SetPreload(r Responder) {
	e.mu.Lock()
	e.preload = r
	e.mu.Unlock()
}

// PreloadResponse resolves the navigation preload response, or nil when
// preloading is not active for this event.
func (e *Event) PreloadResponse(ctx context.Context) (*fetch.Response, error) {
	e.mu.Lock()
	r := e.preload
	e.mu.Unlock()
	if r == nil {
		return nil, nil
	}
	return r(ctx)
}
