package expr

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/l0p7/swkit/internal/fetch"
)

// Environment builds and compiles CEL programs that decide whether a fetch
// event belongs to a cache route.
type Environment struct {
	env *cel.Env
}

// NewEnvironment declares the variables route expressions may use:
// request (url, method, mode, scheme, host, path, query, headers, navigate),
// event (id, type, tag), offline and now.
func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("offline", cel.BoolType),
		cel.Variable("now", cel.TimestampType),
		cel.Function("lookup",
			cel.Overload("lookup_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(lookupMapValue),
			),
		),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return &Environment{env: env}, nil
}

// Program wraps a compiled CEL program that yields a boolean result.
type Program struct {
	source   string
	program  cel.Program
	wantBool bool
}

// Compile prepares the program for execution, ensuring the expression yields a boolean.
func (e *Environment) Compile(expression string) (Program, error) {
	return e.compile(expression, true)
}

// CompileValue prepares the program for execution without enforcing a boolean
// return type.
func (e *Environment) CompileValue(expression string) (Program, error) {
	return e.compile(expression, false)
}

// EvalBool executes the program against the provided activation and coerces the result to bool.
func (p Program) EvalBool(vars map[string]any) (bool, error) {
	if p.program == nil {
		return false, fmt.Errorf("expr: program not initialized")
	}
	if !p.wantBool {
		return false, fmt.Errorf("expr: program %q does not return a boolean", p.source)
	}
	val, _, err := p.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	switch v := val.(type) {
	case types.Bool:
		return bool(v), nil
	case ref.Val:
		if v.Type() == types.BoolType {
			if b, ok := v.Value().(bool); ok {
				return b, nil
			}
		}
	}
	return false, fmt.Errorf("expr: %q yielded non-bool result %T", p.source, val)
}

// Source returns the original CEL expression for logging.
func (p Program) Source() string { return p.source }

// Eval executes the CEL program and returns the raw value.
func (p Program) Eval(vars map[string]any) (any, error) {
	if p.program == nil {
		return nil, fmt.Errorf("expr: program not initialized")
	}
	val, _, err := p.program.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	return val.Value(), nil
}

func (e *Environment) compile(expression string, wantBool bool) (Program, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return Program{}, fmt.Errorf("expr: expression required")
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return Program{}, fmt.Errorf("expr: compile %q: %w", expr, issues.Err())
	}
	if wantBool {
		if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
			return Program{}, fmt.Errorf("expr: %q must return bool, got %s", expr, cel.FormatCELType(t))
		}
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return Program{}, fmt.Errorf("expr: program %q: %w", expr, err)
	}
	return Program{source: expr, program: program, wantBool: wantBool}, nil
}

func lookupMapValue(mapVal ref.Val, key ref.Val) ref.Val {
	mapper, ok := mapVal.(traits.Mapper)
	if !ok {
		return types.NewErr("expr: lookup only supports string-key maps")
	}
	value, found := mapper.Find(key)
	if !found {
		return types.NullValue
	}
	if value == nil {
		return types.NullValue
	}
	return value
}

// EventVars describes the event a route expression is evaluated for.
type EventVars struct {
	ID      string
	Type    string
	Tag     string
	Offline bool
	Now     time.Time
}

// Activation builds the variables for one evaluation.
func Activation(req *fetch.Request, ev EventVars) map[string]any {
	now := ev.Now
	if now.IsZero() {
		now = time.Now()
	}
	return map[string]any{
		"request": RequestVars(req),
		"event": map[string]any{
			"id":   ev.ID,
			"type": ev.Type,
			"tag":  ev.Tag,
		},
		"offline": ev.Offline,
		"now":     now,
	}
}

// RequestVars flattens a request for expressions. Header names are lower
// cased and only the first value of each header or query key is kept.
func RequestVars(req *fetch.Request) map[string]any {
	vars := map[string]any{
		"url":      "",
		"method":   "",
		"mode":     "",
		"scheme":   "",
		"host":     "",
		"path":     "",
		"navigate": false,
		"query":    map[string]any{},
		"headers":  map[string]any{},
	}
	if req == nil {
		return vars
	}
	vars["url"] = req.URL
	vars["method"] = req.Method
	vars["mode"] = req.Mode
	vars["navigate"] = req.IsNavigate()

	headers := make(map[string]any, len(req.Header))
	for name, values := range req.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}
	vars["headers"] = headers

	if parsed, err := url.Parse(req.URL); err == nil {
		vars["scheme"] = parsed.Scheme
		vars["host"] = parsed.Host
		vars["path"] = parsed.Path
		query := make(map[string]any)
		for key, values := range parsed.Query() {
			if len(values) > 0 {
				query[key] = values[0]
			}
		}
		vars["query"] = query
	}
	return vars
}
