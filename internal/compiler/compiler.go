// Package compiler validates a workflow graph and lowers it into an ExecutionPlan:
// DAG validation, credential validation, node-config validation, type compatibility,
// then a deterministic topological sort via Kahn's algorithm.
package compiler

import (
	"fmt"

	"github.com/lyzr/workflows/internal/expr"
	"github.com/lyzr/workflows/internal/model"
	"github.com/lyzr/workflows/internal/registry"
)

// CompileResult is the compiler's output.
type CompileResult struct {
	Success       bool
	Errors        []CompileIssue
	Warnings      []CompileIssue
	ExecutionPlan *model.ExecutionPlan
	NodeCount     int
	EdgeCount     int
}

// Input bundles everything the compiler needs to validate one graph.
type Input struct {
	Nodes             []model.Node
	Edges             []model.Edge
	Settings          model.WorkflowSettings
	UserCredentialIDs map[string]bool
}

const defaultNodeTimeoutSeconds = 60
const systemLoopSafetyCeiling = 1000

// Compile runs the full validation pipeline, halting at the first phase that
// produces errors: later phases do not run, and no ExecutionPlan is returned
// once any error has been recorded. Credential and node-config validation run
// together as one phase, so both report their errors before the halt.
func Compile(in Input, reg *registry.Registry) CompileResult {
	res := CompileResult{NodeCount: len(in.Nodes), EdgeCount: len(in.Edges)}

	nodeByID := make(map[string]model.Node, len(in.Nodes))
	for _, n := range in.Nodes {
		nodeByID[n.ID] = n
	}

	res.Errors = append(res.Errors, validateDAG(in.Nodes, in.Edges, nodeByID)...)
	if hasErrors(res.Errors) {
		return finalize(res)
	}

	res.Errors = append(res.Errors, validateCredentials(in.Nodes, in.UserCredentialIDs)...)
	res.Errors = append(res.Errors, validateNodeConfigs(in.Nodes, reg)...)
	if hasErrors(res.Errors) {
		return finalize(res)
	}

	typeIssues := validateTypeCompatibility(in.Nodes, in.Edges, nodeByID, reg)
	res.Errors = append(res.Errors, filterSeverity(typeIssues, SeverityError)...)
	res.Warnings = append(res.Warnings, filterSeverity(typeIssues, SeverityWarning)...)
	if hasErrors(res.Errors) {
		return finalize(res)
	}

	plan, buildWarnings := buildPlan(in.Nodes, in.Edges, in.Settings)
	res.Warnings = append(res.Warnings, buildWarnings...)
	res.ExecutionPlan = plan
	return finalize(res)
}

func finalize(res CompileResult) CompileResult {
	res.Success = !hasErrors(res.Errors)
	if !res.Success {
		res.ExecutionPlan = nil
	}
	return res
}

func hasErrors(issues []CompileIssue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

func filterSeverity(issues []CompileIssue, sev Severity) []CompileIssue {
	var out []CompileIssue
	for _, i := range issues {
		if i.Severity == sev {
			out = append(out, i)
		}
	}
	return out
}

// validateDAG rejects an empty graph, edges to missing nodes, unreachable nodes,
// missing triggers, and cycles (DFS with a recursion-stack set).
func validateDAG(nodes []model.Node, edges []model.Edge, nodeByID map[string]model.Node) []CompileIssue {
	var issues []CompileIssue
	if len(nodes) == 0 {
		return []CompileIssue{issue(CodeEmptyWorkflow, "", "", "workflow has no nodes")}
	}

	adjacency := make(map[string][]string)
	inDegree := make(map[string]int)
	for _, n := range nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range edges {
		if _, ok := nodeByID[e.Source]; !ok {
			issues = append(issues, issue(CodeInvalidEdge, e.Source, "source", fmt.Sprintf("edge references missing source node %q", e.Source)))
			continue
		}
		if _, ok := nodeByID[e.Target]; !ok {
			issues = append(issues, issue(CodeInvalidEdge, e.Target, "target", fmt.Sprintf("edge references missing target node %q", e.Target)))
			continue
		}
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
		inDegree[e.Target]++
	}
	if len(issues) > 0 {
		return issues
	}

	// Cycle detection runs before the trigger check: a purely cyclic graph (e.g.
	// two nodes pointing at each other) also has no in-degree-0 node, but the
	// more specific dag_cycle diagnosis is the one callers need to see.
	if cycleNode, found := detectCycle(nodes, adjacency); found {
		issues = append(issues, issue(CodeDagCycle, cycleNode, "", fmt.Sprintf("cycle detected at node %q", cycleNode)))
		return issues
	}

	var triggers []string
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			triggers = append(triggers, n.ID)
		}
	}
	if len(triggers) == 0 {
		return []CompileIssue{issue(CodeNoTrigger, "", "", "workflow has no trigger (a node with no incoming edge)")}
	}

	reachable := make(map[string]bool)
	var visit func(string)
	visit = func(id string) {
		if reachable[id] {
			return
		}
		reachable[id] = true
		for _, next := range adjacency[id] {
			visit(next)
		}
	}
	for _, t := range triggers {
		visit(t)
	}
	for _, n := range nodes {
		if !reachable[n.ID] {
			issues = append(issues, issue(CodeOrphanNode, n.ID, "", fmt.Sprintf("node %q is unreachable from any trigger", n.ID)))
		}
	}
	return issues
}

// detectCycle runs DFS with a recursion-stack set, in the input node order for
// determinism, and returns the first node where a back-edge is found.
func detectCycle(nodes []model.Node, adjacency map[string][]string) (string, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	var cycleNode string
	var found bool

	var dfs func(id string)
	dfs = func(id string) {
		if found {
			return
		}
		color[id] = gray
		for _, next := range adjacency[id] {
			if found {
				return
			}
			switch color[next] {
			case gray:
				cycleNode = next
				found = true
				return
			case white:
				dfs(next)
			}
		}
		color[id] = black
	}

	for _, n := range nodes {
		if found {
			break
		}
		if color[n.ID] == white {
			dfs(n.ID)
		}
	}
	return cycleNode, found
}

func validateCredentials(nodes []model.Node, userCredentialIDs map[string]bool) []CompileIssue {
	var issues []CompileIssue
	for _, n := range nodes {
		credID, ok := n.Data.Config["credential"].(string)
		if !ok || credID == "" {
			continue
		}
		if userCredentialIDs == nil || !userCredentialIDs[credID] {
			issues = append(issues, issue(CodeMissingCredential, n.ID, "credential", fmt.Sprintf("credential %q is not available to this user", credID)))
		}
	}
	return issues
}

func validateNodeConfigs(nodes []model.Node, reg *registry.Registry) []CompileIssue {
	var issues []CompileIssue
	for _, n := range nodes {
		handler, ok := reg.Get(n.Type)
		if !ok {
			issues = append(issues, issue(CodeUnknownNodeType, n.ID, "type", fmt.Sprintf("no handler registered for node type %q", n.Type)))
			continue
		}
		for _, msg := range handler.ValidateConfig(n.Data.Config) {
			issues = append(issues, issue(CodeInvalidConfig, n.ID, "config", msg))
		}
	}
	return issues
}

// validateTypeCompatibility checks every edge's (sourceType for its sourceHandle)
// against the target handler's AcceptedInputTypes. "any"/"passthrough" are
// universally compatible in both directions; "error" may only flow into a target
// that explicitly accepts "error" or "any".
func validateTypeCompatibility(nodes []model.Node, edges []model.Edge, nodeByID map[string]model.Node, reg *registry.Registry) []CompileIssue {
	var issues []CompileIssue
	for _, e := range edges {
		srcNode, ok1 := nodeByID[e.Source]
		tgtNode, ok2 := nodeByID[e.Target]
		if !ok1 || !ok2 {
			continue
		}
		srcHandler, ok1 := reg.Get(srcNode.Type)
		tgtHandler, ok2 := reg.Get(tgtNode.Type)
		if !ok1 || !ok2 {
			continue
		}
		outType := srcHandler.Metadata().OutputTypeByHandle[e.NormalizedSourceHandle()]
		if outType == "" {
			outType = "any"
		}
		accepted := tgtHandler.Metadata().AcceptedInputTypes
		if typeCompatible(outType, accepted) {
			continue
		}
		issues = append(issues, issue(CodeTypeMismatch, e.Target, "", fmt.Sprintf(
			"edge %s->%s: output type %q from handle %q is not accepted by %q (accepts %v)",
			e.Source, e.Target, outType, e.NormalizedSourceHandle(), tgtNode.Type, accepted)))
	}
	return issues
}

func typeCompatible(outType string, accepted []string) bool {
	if outType == "any" || outType == "passthrough" {
		return true
	}
	if len(accepted) == 0 {
		return outType != "error"
	}
	for _, a := range accepted {
		if a == "any" || a == "passthrough" || a == outType {
			return true
		}
		if outType == "error" && a == "error" {
			return true
		}
	}
	return outType == "error" && contains(accepted, "error")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// buildPlan runs Kahn's algorithm, seeding the queue with in-degree-0 nodes in the
// input list's order, and popping ties in the order they entered the queue, which
// is the determinism requirement from §4.2.
func buildPlan(nodes []model.Node, edges []model.Edge, settings model.WorkflowSettings) (*model.ExecutionPlan, []CompileIssue) {
	planNodes := make(map[string]*model.PlanNode, len(nodes))
	order := make([]string, 0, len(nodes))
	for idx, n := range nodes {
		_ = idx
		planNodes[n.ID] = &model.PlanNode{
			ID:                     n.ID,
			Type:                   n.Type,
			Label:                  n.Data.Label,
			Config:                 n.Data.Config,
			TimeoutSeconds:         effectiveTimeout(n.Data.Config, settings),
			OutgoingBySourceHandle: make(map[string][]model.Edge),
			ExpressionPaths:        expr.FindTemplatePaths(n.Data.Config),
		}
	}

	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range edges {
		inDegree[e.Target]++
		planNodes[e.Source].Dependents = append(planNodes[e.Source].Dependents, e.Target)
		planNodes[e.Target].Dependencies = append(planNodes[e.Target].Dependencies, e.Source)
		handle := e.NormalizedSourceHandle()
		planNodes[e.Source].OutgoingBySourceHandle[handle] = append(planNodes[e.Source].OutgoingBySourceHandle[handle], e)
		planNodes[e.Target].IncomingEdges = append(planNodes[e.Target].IncomingEdges, e)
	}

	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	entryNodes := append([]string(nil), queue...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range planNodes[id].Dependents {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	// entryNodes was appended in the input list's order above, satisfying the
	// tie-break rule directly without a secondary sort.
	return &model.ExecutionPlan{Order: order, Nodes: planNodes, EntryNodes: entryNodes}, nil
}

func effectiveTimeout(config map[string]interface{}, settings model.WorkflowSettings) int {
	if t, ok := config["timeout"].(float64); ok && t > 0 {
		return int(t)
	}
	if t, ok := config["timeout"].(int); ok && t > 0 {
		return t
	}
	if settings.NodeTimeoutSeconds > 0 {
		return settings.NodeTimeoutSeconds
	}
	return defaultNodeTimeoutSeconds
}
