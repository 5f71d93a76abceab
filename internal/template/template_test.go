package template_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spellruntime/spell/internal/template"
)

func TestApplyPreservesNativeTypeForWholePlaceholder(t *testing.T) {
	v := template.Values{Input: map[string]any{"count": 3}}
	out, err := template.Apply("{{INPUT.count}}", v)
	require.NoError(t, err)
	require.Equal(t, 3, out)
}

func TestApplyStringifiesInlinePlaceholder(t *testing.T) {
	v := template.Values{Input: map[string]any{"name": "world"}}
	out, err := template.Apply("hello {{INPUT.name}}!", v)
	require.NoError(t, err)
	require.Equal(t, "hello world!", out)
}

func TestApplyUnresolvedFails(t *testing.T) {
	v := template.Values{Input: map[string]any{}}
	_, err := template.Apply("{{INPUT.missing}}", v)
	require.Error(t, err)
}

func TestOutputsResolveStdout(t *testing.T) {
	o := template.Outputs{}
	o.SetStdout("hello", "hi there")
	v, err := o.Resolve("step.hello.stdout")
	require.NoError(t, err)
	require.Equal(t, "hi there", v)

	_, err = o.Resolve("step.hello.stdout.nested")
	require.Error(t, err)
}

func TestOutputsResolveJSONPath(t *testing.T) {
	o := template.Outputs{}
	o.SetJSON("call", map[string]any{"a": map[string]any{"b": "c"}})
	v, err := o.Resolve("step.call.json.a.b")
	require.NoError(t, err)
	require.Equal(t, "c", v)
}

func TestShouldSkipOnMissingReference(t *testing.T) {
	skip := template.ShouldSkip(template.Condition{OutputPath: "step.missing.stdout"}, nil, template.Outputs{})
	require.True(t, skip)
}

func TestShouldSkipOnEquals(t *testing.T) {
	eq := any("yes")
	cond := template.Condition{InputPath: "flag", Equals: &eq}
	require.False(t, template.ShouldSkip(cond, map[string]any{"flag": "yes"}, template.Outputs{}))
	require.True(t, template.ShouldSkip(cond, map[string]any{"flag": "no"}, template.Outputs{}))
}
