package expr

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/swkit/internal/fetch"
)

func sampleRequest() *fetch.Request {
	req := fetch.NewRequest("https://example.com/assets/app.js?v=3")
	req.Header = http.Header{"X-Client": []string{"pwa"}}
	return req
}

func TestRouteExpressionMatchesRequest(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	cases := map[string]struct {
		expression string
		want       bool
	}{
		"path prefix":  {`request.path.startsWith("/assets/")`, true},
		"extension":    {`request.url.matches("\\.js(\\?.*)?$")`, true},
		"method":       {`request.method == "POST"`, false},
		"query":        {`request.query["v"] == "3"`, true},
		"header":       {`lookup(request.headers, "x-client") == "pwa"`, true},
		"missing":      {`lookup(request.headers, "x-missing") == "pwa"`, false},
		"event type":   {`event.type == "fetch" && !offline`, true},
		"not navigate": {`!request.navigate`, true},
	}
	activation := Activation(sampleRequest(), EventVars{Type: "fetch", Now: time.Unix(0, 0)})
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			program, err := env.Compile(tc.expression)
			require.NoError(t, err)
			got, err := program.EvalBool(activation)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
			require.Equal(t, tc.expression, program.Source())
		})
	}
}

func TestCompileRejectsNonBoolean(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	_, err = env.Compile(`request.path.size()`)
	require.Error(t, err)

	_, err = env.Compile("   ")
	require.Error(t, err)

	_, err = env.Compile(`request.path ==`)
	require.Error(t, err)
}

func TestCompileValue(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	program, err := env.CompileValue(`request.host`)
	require.NoError(t, err)

	value, err := program.Eval(Activation(sampleRequest(), EventVars{}))
	require.NoError(t, err)
	require.Equal(t, "example.com", value)

	_, err = program.EvalBool(Activation(sampleRequest(), EventVars{}))
	require.Error(t, err)
}

func TestUninitializedProgram(t *testing.T) {
	var program Program
	_, err := program.EvalBool(nil)
	require.Error(t, err)
	_, err = program.Eval(nil)
	require.Error(t, err)
}

func TestRequestVarsHandlesNil(t *testing.T) {
	vars := RequestVars(nil)
	require.Equal(t, "", vars["url"])
	require.Equal(t, false, vars["navigate"])
}
