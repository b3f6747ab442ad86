package pipeline

// Outcome is what a handler reports back to the chain.
type Outcome int

const (
	// Continue passes the event to the next handler.
	Continue Outcome = iota
	// Handled stops the traversal.
	Handled
)

func (o Outcome) String() string {
	if o == Handled {
		return "handled"
	}
	return "continue"
}

// Handler is one step of a chain.
type Handler interface {
	Name() string
	Handle(*Event, *Context) Outcome
}

// HandlerFunc adapts a plain function into an anonymous Handler.
type HandlerFunc func(*Event, *Context) Outcome

func (f HandlerFunc) Name() string { return "handler" }

func (f HandlerFunc) Handle(e *Event, c *Context) Outcome { return f(e, c) }

type namedHandler struct {
	name string
	fn   func(*Event, *Context) Outcome
}

// Named wraps fn in a Handler reporting name.
func Named(name string, fn func(*Event, *Context) Outcome) Handler {
	if fn == nil {
		return nil
	}
	return namedHandler{name: name, fn: fn}
}

func (h namedHandler) Name() string { return h.name }
func (h namedHandler) Handle(e *Event, c *Context) Outcome { return h.fn(e, c) }

type noop struct{}

func (noop) Name() string { return "noop" }
func (noop) Handle(*Event, *Context) Outcome { return Continue }

// Noop is the inert handler returned by constructors whose capability
// checks fail.
var Noop Handler = noop{}

// IsNoop reports whether h is the inert handler.
func IsNoop(h Handler) bool {
	_, ok := h.(noop)
	return ok
}
