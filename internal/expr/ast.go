// Package expr implements the {{ $node[...].json.field }} expression language: a
// small hand-written tokenizer and recursive-descent parser producing a tagged-node
// AST, evaluated against an *model.ExecutionContext. This replaces the regex/gjson
// string-splitting approach with explicit grammar, per the resolver's design notes.
package expr

// Node is the tagged-variant AST produced by Parse. Exactly one of the concrete
// types below implements it.
type Node interface {
	isExprNode()
}

// NodeRef is `$node[<label-or-id>].<path>` / `$node.<label-or-id>.<path>`.
type NodeRef struct {
	LabelOrID string
	Path      []PathSegment
}

// JSONRef is `$json.<path>` / `$input.<path>`, reading the current node's input items.
type JSONRef struct {
	Path []PathSegment
}

// VarRef is `$vars.<name>`, reading ctx.Variables.
type VarRef struct {
	Path []PathSegment
}

func (NodeRef) isExprNode() {}
func (JSONRef) isExprNode() {}
func (VarRef) isExprNode()  {}

// PathSegment is one step of a dotted/bracketed path: `.key`, `[0]`, `["key"]`, `['key']`.
type PathSegment struct {
	Key     string
	Index   int
	IsIndex bool
}
