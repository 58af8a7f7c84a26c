package compiler

import (
	"fmt"

	"github.com/lyzr/workflows/internal/model"
)

// ValidateOperations checks the structural shape of a JSON Patch document
// before it is ever applied: every op needs a recognized op/path, add/replace
// need a value, and a value added at the node list's tail must itself look
// like a node.
func ValidateOperations(ops []map[string]interface{}) error {
	for i, op := range ops {
		opType, ok := op["op"].(string)
		if !ok {
			return fmt.Errorf("operation %d: missing or invalid 'op' field", i)
		}
		path, ok := op["path"].(string)
		if !ok {
			return fmt.Errorf("operation %d: missing or invalid 'path' field", i)
		}

		switch opType {
		case "add", "replace":
			value, hasValue := op["value"]
			if !hasValue {
				return fmt.Errorf("operation %d: 'value' required for %s operation", i, opType)
			}
			if path == "/nodes/-" {
				if err := validateNodeValue(value, i); err != nil {
					return err
				}
			}
		case "remove", "move", "copy", "test":
		default:
			return fmt.Errorf("operation %d: unsupported operation type: %s", i, opType)
		}
	}
	return nil
}

func validateNodeValue(value interface{}, opIndex int) error {
	nodeValue, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("operation %d: node value must be an object, got %T", opIndex, value)
	}
	if _, ok := nodeValue["id"].(string); !ok {
		return fmt.Errorf("operation %d: node must have an 'id' string field", opIndex)
	}
	if _, ok := nodeValue["type"].(string); !ok {
		return fmt.Errorf("operation %d: node must have a 'type' string field", opIndex)
	}
	if data, exists := nodeValue["data"]; exists {
		if _, ok := data.(map[string]interface{}); !ok {
			return fmt.Errorf("operation %d: node 'data' must be an object, got %T", opIndex, data)
		}
	}
	return nil
}

// ExecutedNodeSet returns every node at or before currentNode in the plan's
// topological order — the set a live patch is forbidden from restructuring.
// An empty currentNode (the run hasn't reached its first node yet) yields an
// empty set.
func ExecutedNodeSet(plan *model.ExecutionPlan, currentNode string) map[string]bool {
	executed := make(map[string]bool)
	if currentNode == "" {
		return executed
	}
	for _, id := range plan.Order {
		executed[id] = true
		if id == currentNode {
			break
		}
	}
	return executed
}

// CheckNoExecutedNodeMutation rejects a patch whose add/replace/remove targets
// the index of a node that has already run, by comparing the pre-patch node
// slice's indices against the executed set. Indices are what JSON Patch paths
// like "/nodes/3" address, not node IDs, so this must run before the patch is
// applied.
func CheckNoExecutedNodeMutation(oldNodes []model.Node, ops []map[string]interface{}, executed map[string]bool) error {
	for i, op := range ops {
		idx, ok := nodeIndexFromPath(op["path"])
		if !ok || idx < 0 || idx >= len(oldNodes) {
			continue
		}
		if executed[oldNodes[idx].ID] {
			return fmt.Errorf("operation %d: node %q has already executed and cannot be patched", i, oldNodes[idx].ID)
		}
	}
	return nil
}

func nodeIndexFromPath(path interface{}) (int, bool) {
	s, ok := path.(string)
	if !ok {
		return 0, false
	}
	var idx int
	if n, err := fmt.Sscanf(s, "/nodes/%d", &idx); err != nil || n != 1 {
		return 0, false
	}
	return idx, true
}

// CheckDependentsSurvive ensures every node the already-executed set depends
// on downstream still exists after the patch: a patch may not delete a node
// an executed node's output is wired to.
func CheckDependentsSurvive(oldPlan, newPlan *model.ExecutionPlan, executed map[string]bool) error {
	for id := range executed {
		oldNode := oldPlan.NodeByID(id)
		if oldNode == nil {
			continue
		}
		for _, dep := range oldNode.Dependents {
			if newPlan.NodeByID(dep) == nil {
				return fmt.Errorf("patch removes node %q, a dependent of already-executed node %q", dep, id)
			}
		}
	}
	return nil
}
