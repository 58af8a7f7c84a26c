package expr

import (
	"testing"

	"github.com/google/uuid"
	"github.com/lyzr/workflows/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext() *model.ExecutionContext {
	ctx := model.NewExecutionContext(uuid.New(), "user-1", uuid.New(), map[string]string{"First": "n1"})
	ctx.NodeOutputs["n1"] = []model.NodeItem{
		{JSON: map[string]interface{}{
			"message": "hi",
			"data":    map[string]interface{}{"score": 95.0},
		}},
	}
	return ctx
}

func TestResolveNodeRefWholeTemplatePreservesType(t *testing.T) {
	r := NewResolver()
	ctx := newTestContext()
	got := r.resolveString("{{ $node['First'].json.data.score }}", ctx)
	assert.Equal(t, 95.0, got)
}

func TestResolveNodeRefInterpolated(t *testing.T) {
	r := NewResolver()
	ctx := newTestContext()
	got := r.resolveString("Greeting: {{ $node['First'].json.message }}!", ctx)
	assert.Equal(t, "Greeting: hi!", got)
}

func TestResolveMissingNodeProducesWarningAndNull(t *testing.T) {
	r := NewResolver()
	ctx := newTestContext()
	got := r.resolveString("{{ $node['Missing'].x }}", ctx)
	assert.Nil(t, got)
	require.Len(t, ctx.Warnings, 1)
	assert.Equal(t, "$node['Missing'].x", ctx.Warnings[0].Path)
}

func TestResolveCaseInsensitiveLabelFallback(t *testing.T) {
	r := NewResolver()
	ctx := newTestContext()
	got := r.resolveString("{{ $node['first'].json.message }}", ctx)
	assert.Equal(t, "hi", got)
}

func TestResolveVars(t *testing.T) {
	r := NewResolver()
	ctx := newTestContext()
	ctx.Variables["env"] = map[string]interface{}{"name": "prod"}
	got := r.resolveString("{{ $vars.env.name }}", ctx)
	assert.Equal(t, "prod", got)
}

func TestResolveJSONAutoDive(t *testing.T) {
	r := NewResolver()
	ctx := newTestContext()
	ctx.CurrentInput = []model.NodeItem{{JSON: map[string]interface{}{"x": 1.0}}}
	got := r.resolveString("{{ $json.x }}", ctx)
	assert.Equal(t, 1.0, got)
}

func TestResolveConfigDeepWalk(t *testing.T) {
	r := NewResolver()
	ctx := newTestContext()
	cfg := map[string]interface{}{
		"url":    "https://example.com/{{ $node['First'].json.message }}",
		"nested": map[string]interface{}{"score": "{{ $node['First'].json.data.score }}"},
		"list":   []interface{}{"{{ $vars.missing }}"},
	}
	out := r.ResolveConfig(cfg, ctx)
	assert.Equal(t, "https://example.com/hi", out["url"])
	assert.Equal(t, 95.0, out["nested"].(map[string]interface{})["score"])
	assert.Nil(t, out["list"].([]interface{})[0])
}

func TestFindTemplatePaths(t *testing.T) {
	cfg := map[string]interface{}{
		"a": "{{ $json.x }}",
		"b": map[string]interface{}{"c": "plain"},
		"d": []interface{}{"plain", "{{ $vars.y }}"},
	}
	paths := FindTemplatePaths(cfg)
	assert.Len(t, paths, 2)
}
