package caching

import (
	"log/slog"
	"regexp"

	"github.com/l0p7/swkit/internal/expr"
	"github.com/l0p7/swkit/internal/runtime/environment"
	"github.com/l0p7/swkit/internal/runtime/pipeline"
)

type matchKind int

const (
	matchNone matchKind = iota
	matchPredicate
	matchPattern
	matchExpression
)

// Match selects the fetch events a router answers. Build one with
// Predicate, Pattern or Expression; the zero value matches nothing.
type Match struct {
	kind      matchKind
	predicate func(*pipeline.Event) bool
	pattern   *regexp.Regexp
	program   expr.Program
	env       *environment.Environment
	logger    *slog.Logger
}

// Predicate matches events for which fn reports true.
func Predicate(fn func(*pipeline.Event) bool) Match {
	if fn == nil {
		return Match{}
	}
	return Match{kind: matchPredicate, predicate: fn}
}

// Pattern matches events whose request URL matches re.
func Pattern(re *regexp.Regexp) Match {
	if re == nil {
		return Match{}
	}
	return Match{kind: matchPattern, pattern: re}
}

// Expression matches events for which the compiled CEL program yields
// true. env supplies the offline flag; evaluation errors count as a miss.
func Expression(program expr.Program, env *environment.Environment, logger *slog.Logger) Match {
	if logger == nil {
		logger = slog.Default()
	}
	return Match{kind: matchExpression, program: program, env: env, logger: logger}
}

// resolve turns the union into one test applied per event.
func (m Match) resolve() func(*pipeline.Event) bool {
	switch m.kind {
	case matchPredicate:
		return m.predicate
	case matchPattern:
		re := m.pattern
		return func(e *pipeline.Event) bool {
			return e.Request != nil && re.MatchString(e.Request.URL)
		}
	case matchExpression:
		program, env, logger := m.program, m.env, m.logger
		return func(e *pipeline.Event) bool {
			vars := expr.Activation(e.Request, expr.EventVars{
				ID:      e.ID,
				Type:    e.Type,
				Tag:     e.Tag,
				Offline: env.IsOffline(),
			})
			ok, err := program.EvalBool(vars)
			if err != nil {
				logger.Warn("route expression failed", slog.String("expression", program.Source()), slog.Any("error", err))
				return false
			}
			return ok
		}
	default:
		return func(*pipeline.Event) bool { return false }
	}
}
