// Package registry holds the process-wide, immutable-after-init mapping from node
// type string to its handler implementation.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lyzr/workflows/internal/model"
)

// NodeExecutionResult is what a handler returns from Execute.
type NodeExecutionResult struct {
	Success      bool
	Items        []model.NodeItem
	Error        string
	OutputHandle string
}

// FieldSpec describes one configuration field surfaced to the client palette.
type FieldSpec struct {
	Name     string
	Type     string
	Required bool
}

// Metadata describes a handler for validation and the client's node palette.
type Metadata struct {
	NodeType      string
	DisplayName   string
	Category      string
	Fields        []FieldSpec
	InputHandles  []string
	OutputHandles []string
	// AcceptedInputTypes and OutputTypeByHandle drive the compiler's type
	// compatibility pass (§4.2 step 4). "any" and "passthrough" are universal.
	AcceptedInputTypes []string
	OutputTypeByHandle map[string]string
}

// Handler is the contract every node type implements: validation is pure, execute
// may be asynchronous and must honor ctx cancellation.
type Handler interface {
	Metadata() Metadata
	ValidateConfig(config map[string]interface{}) []string
	Execute(ctx context.Context, input []model.NodeItem, config map[string]interface{}, execCtx *model.ExecutionContext) NodeExecutionResult
}

// Registry is immutable once built; handler identity is a pure function of node type.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	sealed   bool
}

// New constructs an empty, unsealed registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler before the registry is sealed; it panics if called after
// Seal, since registration after process init would violate the registry's
// immutability invariant.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		panic(fmt.Sprintf("registry: cannot register %q after Seal", h.Metadata().NodeType))
	}
	r.handlers[h.Metadata().NodeType] = h
}

// Seal marks the registry read-only; call once at process init after registering
// every built-in handler.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Get looks up a handler by node type.
func (r *Registry) Get(nodeType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[nodeType]
	return h, ok
}

// Has reports whether a handler is registered for nodeType.
func (r *Registry) Has(nodeType string) bool {
	_, ok := r.Get(nodeType)
	return ok
}

// NodeTypes returns every registered type name, sorted for deterministic output.
func (r *Registry) NodeTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Palette returns every handler's Metadata, for the client palette endpoint.
func (r *Registry) Palette() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.handlers))
	for _, t := range r.NodeTypes() {
		out = append(out, r.handlers[t].Metadata())
	}
	return out
}
