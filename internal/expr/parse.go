package expr

import (
	"fmt"
	"strings"
)

// Parse parses the inside of a `{{ ... }}` template (trimmed, no braces) into an AST
// node. Supported forms:
//
//	$node[<label-or-id>].<path>
//	$node.<label-or-id>.<path>
//	$json.<path>
//	$input.<path>
//	$vars.<name>
func Parse(expr string) (Node, error) {
	s := strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(s, "$node["):
		rest := strings.TrimPrefix(s, "$node[")
		close := strings.Index(rest, "]")
		if close < 0 {
			return nil, fmt.Errorf("expr: unterminated '$node['")
		}
		label := strings.Trim(rest[:close], `"'`)
		remainder := strings.TrimPrefix(rest[close+1:], ".")
		path, err := parsePath(remainder)
		if err != nil {
			return nil, err
		}
		return NodeRef{LabelOrID: label, Path: path}, nil

	case strings.HasPrefix(s, "$node."):
		rest := strings.TrimPrefix(s, "$node.")
		label, remainder := splitFirstSegment(rest)
		path, err := parsePath(remainder)
		if err != nil {
			return nil, err
		}
		return NodeRef{LabelOrID: label, Path: path}, nil

	case strings.HasPrefix(s, "$json."):
		path, err := parsePath(strings.TrimPrefix(s, "$json."))
		if err != nil {
			return nil, err
		}
		return JSONRef{Path: path}, nil

	case strings.HasPrefix(s, "$input."):
		path, err := parsePath(strings.TrimPrefix(s, "$input."))
		if err != nil {
			return nil, err
		}
		return JSONRef{Path: path}, nil

	case strings.HasPrefix(s, "$vars."):
		path, err := parsePath(strings.TrimPrefix(s, "$vars."))
		if err != nil {
			return nil, err
		}
		return VarRef{Path: path}, nil

	default:
		return nil, fmt.Errorf("expr: unrecognized expression %q", s)
	}
}

// splitFirstSegment splits "label.rest.of.path" into ("label", "rest.of.path"),
// treating the first '.' or '[' as the boundary.
func splitFirstSegment(s string) (string, string) {
	for i, r := range s {
		if r == '.' {
			return s[:i], s[i+1:]
		}
		if r == '[' {
			return s[:i], s[i:]
		}
	}
	return s, ""
}
