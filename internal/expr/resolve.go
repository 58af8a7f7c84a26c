package expr

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/lyzr/workflows/internal/model"
)

// templatePattern matches a single `{{ ... }}` block, non-greedy so two adjacent
// templates in one string are not merged.
var templatePattern = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// Resolver evaluates expression templates against an *model.ExecutionContext.
type Resolver struct{}

// NewResolver constructs a stateless Resolver; it holds no fields because all state
// (node outputs, variables, warnings) lives on the ExecutionContext passed in per call.
func NewResolver() *Resolver {
	return &Resolver{}
}

// ResolveConfig deep-copies config and overwrites every template occurrence with its
// evaluated value. It walks the whole config on every call; the compiler's
// ExpressionPaths for the node are not consulted.
func (r *Resolver) ResolveConfig(config map[string]interface{}, ctx *model.ExecutionContext) map[string]interface{} {
	out := make(map[string]interface{}, len(config))
	for k, v := range config {
		out[k] = r.resolveValue(v, ctx)
	}
	return out
}

func (r *Resolver) resolveValue(v interface{}, ctx *model.ExecutionContext) interface{} {
	switch val := v.(type) {
	case string:
		return r.resolveString(val, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			out[k] = r.resolveValue(vv, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			out[i] = r.resolveValue(vv, ctx)
		}
		return out
	default:
		return v
	}
}

// resolveString implements the whole-vs-interpolated distinction: a string that is
// exactly one `{{ }}` template preserves the evaluated value's type; a string with
// one or more templates embedded in surrounding text has each occurrence stringified.
func (r *Resolver) resolveString(s string, ctx *model.ExecutionContext) interface{} {
	matches := templatePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		exprSrc := s[matches[0][2]:matches[0][3]]
		return r.evaluateExpr(exprSrc, ctx)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		exprSrc := s[m[2]:m[3]]
		val := r.evaluateExpr(exprSrc, ctx)
		b.WriteString(stringify(val))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

func (r *Resolver) evaluateExpr(exprSrc string, ctx *model.ExecutionContext) interface{} {
	node, err := Parse(exprSrc)
	if err != nil {
		ctx.AddWarning(ctx.CurrentNodeID, exprSrc, "unparseable expression: "+err.Error())
		return nil
	}
	val, ok := r.Evaluate(node, ctx)
	if !ok {
		ctx.AddWarning(ctx.CurrentNodeID, exprSrc, "path did not resolve to a value")
		return nil
	}
	return val
}

// Evaluate dispatches on the AST node's concrete type and returns (value, found).
func (r *Resolver) Evaluate(n Node, ctx *model.ExecutionContext) (interface{}, bool) {
	switch v := n.(type) {
	case NodeRef:
		nodeID, ok := ctx.ResolveLabelOrID(v.LabelOrID)
		if !ok {
			return nil, false
		}
		items, ok := ctx.GetNodeOutput(nodeID)
		if !ok {
			return nil, false
		}
		return walkItems(items, v.Path)
	case JSONRef:
		return walkItems(ctx.CurrentInput, v.Path)
	case VarRef:
		if len(v.Path) == 0 {
			return nil, false
		}
		cur, ok := ctx.Variables[v.Path[0].Key]
		if !ok {
			return nil, false
		}
		return walkValue(cur, v.Path[1:])
	default:
		return nil, false
	}
}

// walkItems implements the `$node[X].json` / `$json` auto-dive rule: when the first
// path segment is not an index, dive into items[0].json before resolving the rest
// of the path; an explicit leading index selects that item directly.
func walkItems(items []model.NodeItem, path []PathSegment) (interface{}, bool) {
	if len(items) == 0 {
		return nil, false
	}
	if len(path) > 0 && path[0].IsIndex {
		idx := path[0].Index
		if idx < 0 || idx >= len(items) {
			return nil, false
		}
		return walkValue(items[idx].JSON, path[1:])
	}
	if len(path) > 0 && path[0].Key == "json" {
		return walkValue(items[0].JSON, path[1:])
	}
	return walkValue(items[0].JSON, path)
}

func walkValue(cur interface{}, path []PathSegment) (interface{}, bool) {
	for _, seg := range path {
		switch c := cur.(type) {
		case map[string]interface{}:
			if seg.IsIndex {
				return nil, false
			}
			next, ok := c[seg.Key]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			if !seg.IsIndex {
				return nil, false
			}
			if seg.Index < 0 || seg.Index >= len(c) {
				return nil, false
			}
			cur = c[seg.Index]
		default:
			return nil, false
		}
	}
	return cur, true
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64, int, int64, bool:
		b, _ := json.Marshal(val)
		return string(b)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
