package pipeline

import (
	"github.com/l0p7/swkit/internal/swerr"
)

// State tracks one traversal of a chain.
type State int

const (
	StatePending State = iota
	StateRunning
	StateHandled
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateHandled:
		return "handled"
	case StateExhausted:
		return "exhausted"
	default:
		return "pending"
	}
}

// Initializer seeds the Context for a traversal.
type Initializer func(*Event) map[string]any

// Result summarises one traversal.
type Result struct {
	State     State
	Outcome   Outcome
	HandledBy string
	Executed  int
}

// Chain is an immutable ordered list of handlers. The first handler that
// reports Handled ends the traversal.
type Chain struct {
	handlers []Handler
	init     Initializer
}

// NewChain validates handlers and builds a chain.
func NewChain(handlers []Handler, init Initializer) (*Chain, error) {
	stack := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		if fn, ok := h.(HandlerFunc); h == nil || (ok && fn == nil) {
			return nil, swerr.ExpectedType("middleware", "function")
		}
		stack = append(stack, h)
	}
	return &Chain{handlers: stack, init: init}, nil
}

// MustChain is NewChain for statically known handler lists.
func MustChain(handlers []Handler, init Initializer) *Chain {
	c, err := NewChain(handlers, init)
	if err != nil {
		panic(err)
	}
	return c
}

// Handlers returns a copy of the handler list.
func (c *Chain) Handlers() []Handler {
	if c == nil {
		return nil
	}
	out := make([]Handler, len(c.handlers))
	copy(out, c.handlers)
	return out
}

// Len reports the number of handlers.
func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.handlers)
}

// NewContext builds the Context a traversal of e starts with.
func (c *Chain) NewContext(e *Event) *Context {
	if c == nil || c.init == nil {
		return NewContext(nil)
	}
	return NewContext(c.init(e))
}

// Dispatch runs the chain for e and reports the outcome.
func (c *Chain) Dispatch(e *Event) Outcome {
	return c.Run(e).Outcome
}

// Run traverses the chain for e with a fresh context.
func (c *Chain) Run(e *Event) Result {
	return c.RunWith(e, c.NewContext(e))
}

// RunWith traverses the chain for e sharing ctx.
func (c *Chain) RunWith(e *Event, ctx *Context) Result {
	res := Result{State: StatePending, Outcome: Continue}
	if c == nil {
		res.State = StateExhausted
		return res
	}
	res.State = StateRunning
	for _, h := range c.handlers {
		res.Executed++
		if h.Handle(e, ctx) == Handled {
			res.State = StateHandled
			res.Outcome = Handled
			res.HandledBy = h.Name()
			return res
		}
	}
	res.State = StateExhausted
	return res
}

// Factory builds chains that always start with a fixed set of defaults.
type Factory struct {
	defaults []Handler
	init     Initializer
}

// NewFactory returns a Factory prepending defaults to every chain it builds.
func NewFactory(defaults []Handler, init Initializer) *Factory {
	return &Factory{defaults: append([]Handler(nil), defaults...), init: init}
}

// Build returns a chain of the defaults followed by extra.
func (f *Factory) Build(extra ...Handler) (*Chain, error) {
	handlers := make([]Handler, 0, len(f.defaults)+len(extra))
	handlers = append(handlers, f.defaults...)
	handlers = append(handlers, extra...)
	return NewChain(handlers, f.init)
}

// Per-event factories with no defaults.
var (
	OnInstall  = NewFactory(nil, nil)
	OnActivate = NewFactory(nil, nil)
	OnMessage  = NewFactory(nil, nil)
	OnPush     = NewFactory(nil, nil)
	OnSync     = NewFactory(nil, nil)
	OnFetch    = NewFactory(nil, nil)
)

// FactoryFor returns the per-event factory for a lifecycle event type.
func FactoryFor(eventType string) (*Factory, bool) {
	switch eventType {
	case EventInstall:
		return OnInstall, true
	case EventActivate:
		return OnActivate, true
	case EventMessage:
		return OnMessage, true
	case EventPush:
		return OnPush, true
	case EventSync:
		return OnSync, true
	case EventFetch:
		return OnFetch, true
	}
	return nil, false
}
