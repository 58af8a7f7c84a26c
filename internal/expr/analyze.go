package expr

import "github.com/lyzr/workflows/internal/model"

// FindTemplatePaths walks a node config and returns the config-tree path (sequence
// of map keys / list indices) to every string value containing a `{{ }}` template.
// The compiler calls this once at compile time; the engine does not need to re-walk
// the whole config at execution time to know where templates live, though the
// current Resolver.ResolveConfig implementation re-walks anyway since configs are
// small — this list is kept on the plan for callers that want it (e.g. compile-time
// warnings about unresolvable literal paths) without forcing a second traversal
// convention split between compile and execute.
func FindTemplatePaths(config map[string]interface{}) [][]model.PathSegment {
	var out [][]model.PathSegment
	walk(config, nil, &out)
	return out
}

func walk(v interface{}, prefix []model.PathSegment, out *[][]model.PathSegment) {
	switch val := v.(type) {
	case string:
		if templatePattern.MatchString(val) {
			cp := make([]model.PathSegment, len(prefix))
			copy(cp, prefix)
			*out = append(*out, cp)
		}
	case map[string]interface{}:
		for k, vv := range val {
			walk(vv, append(prefix, model.PathSegment{Key: k, IsKey: true}), out)
		}
	case []interface{}:
		for i, vv := range val {
			walk(vv, append(prefix, model.PathSegment{Index: i}), out)
		}
	}
}
