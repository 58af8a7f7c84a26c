// Package condition evaluates CEL boolean expressions used by if/switch nodes,
// with compiled-program caching since the same expression is evaluated each
// time its node runs.
package condition

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator compiles and caches CEL programs keyed by expression source.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// New constructs an empty evaluator.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]cel.Program)}
}

// Compile validates expr without evaluating it; used by the compiler's
// node-config validation phase to catch syntax errors before a run starts.
func (e *Evaluator) Compile(expr string) error {
	_, err := e.program(expr)
	return err
}

// Eval evaluates expr against output/vars and requires a boolean result.
func (e *Evaluator) Eval(expr string, output, vars interface{}) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]interface{}{"output": output, "vars": vars})
	if err != nil {
		return false, fmt.Errorf("condition: evaluation error: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition: expression did not evaluate to a boolean")
	}
	return b, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.cache[expr]; ok {
		return prg, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("output", cel.DynType),
		cel.Variable("vars", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("condition: building CEL env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("condition: compiling %q: %w", expr, iss.Err())
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("condition: building program: %w", err)
	}
	e.cache[expr] = prg
	return prg, nil
}

// CacheSize reports how many distinct expressions have been compiled; used by tests.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
