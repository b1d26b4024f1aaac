package models

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprInterpreter evaluates expression-language conditions with
// expr-lang/expr. The run context is the expression environment, so context
// fields are top-level variables. Compiled programs are cached per
// expression and safe for concurrent reuse.
type ExprInterpreter struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewExprInterpreter() *ExprInterpreter {
	return &ExprInterpreter{
		cache: make(map[string]*vm.Program),
	}
}

func (e *ExprInterpreter) Evaluate(cfg *ConditionConfig, runContext map[string]any) (bool, error) {
	if cfg.Expression == "" {
		return false, fmt.Errorf("condition with language expr requires an expression")
	}

	program, err := e.getOrCompile(cfg.Expression)
	if err != nil {
		return false, fmt.Errorf("compile condition %q: %w", cfg.Expression, err)
	}

	env := runContext
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", cfg.Expression, err)
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q evaluated to %T, want bool", cfg.Expression, out)
	}

	return result, nil
}

func (e *ExprInterpreter) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok := e.cache[expression]; ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	e.cache[expression] = program

	return program, nil
}
