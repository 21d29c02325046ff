package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTemplateLiteralOnly(t *testing.T) {
	engine := NewRisorScriptingEngine(DefaultGlobals())
	tmpl, err := NewTemplate(engine, "just text, no expressions")
	require.NoError(t, err)

	out, err := tmpl.Eval(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "just text, no expressions", out)
}

func TestTemplateSingleExpression(t *testing.T) {
	engine := NewRisorScriptingEngine(DefaultGlobals())
	tmpl, err := NewTemplate(engine, "${1 + 2}")
	require.NoError(t, err)

	out, err := tmpl.Eval(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "3", out)
}

func TestTemplateInterleavesLiteralsAndExpressions(t *testing.T) {
	engine := NewRisorScriptingEngine(DefaultGlobals())
	tmpl, err := NewTemplate(engine, `a ${'x'} b ${2 * 3} c`)
	require.NoError(t, err)

	out, err := tmpl.Eval(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "a x b 6 c", out)
}

func TestTemplateReadsGlobals(t *testing.T) {
	engine := NewRisorScriptingEngine(DefaultGlobals())
	tmpl, err := NewTemplate(engine, `Request by ${values["candidate"][0]["name"]}`)
	require.NoError(t, err)

	globals := map[string]any{
		"values": map[string]any{
			"candidate": []any{map[string]any{"name": "Joe"}},
		},
	}
	out, err := tmpl.Eval(context.Background(), globals)
	require.NoError(t, err)
	require.Equal(t, "Request by Joe", out)
}

func TestTemplateUnclosedExpression(t *testing.T) {
	engine := NewRisorScriptingEngine(DefaultGlobals())
	_, err := NewTemplate(engine, "broken ${1 + 2")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unclosed")
}

func TestTemplateCompileError(t *testing.T) {
	engine := NewRisorScriptingEngine(DefaultGlobals())
	_, err := NewTemplate(engine, "bad ${1 +} code")
	require.Error(t, err)
}
