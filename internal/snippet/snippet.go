// Package snippet evaluates code-cell expressions. A snippet is an
// expr-lang expression receiving a read-only "row" binding and returning
// a scalar; the language has no assignment, loops or I/O, so the row and
// the process are safe from user code by construction.
package snippet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/Sumatoshi-tech/tablefang/internal/schema"
)

// DefaultTimeout bounds one snippet run.
const DefaultTimeout = 120 * time.Second

// ErrTimeout indicates the snippet exceeded its wall-clock budget.
var ErrTimeout = errors.New("snippet timed out")

// Check compiles a snippet without running it, for schema-time validation.
func Check(code string) error {
	if _, err := compile(code); err != nil {
		return fmt.Errorf("%w: snippet: %v", schema.ErrBadInput, err)
	}

	return nil
}

// Evaluator runs snippets with a wall-clock cap and a compiled-program
// cache keyed by source. The cache is bounded by the set of code columns
// across live schemas.
type Evaluator struct {
	timeout time.Duration

	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewEvaluator creates an Evaluator. A non-positive timeout selects
// DefaultTimeout.
func NewEvaluator(timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Evaluator{
		timeout:  timeout,
		programs: make(map[string]*vm.Program),
	}
}

// Run evaluates code against the row and returns the scalar result. The
// run aborts with ErrTimeout after the evaluator's budget, or with the
// context error when the caller cancels first.
func (e *Evaluator) Run(ctx context.Context, code string, row schema.Row) (any, error) {
	program, err := e.program(code)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		value any
		err   error
	}

	done := make(chan outcome, 1)

	go func() {
		value, runErr := expr.Run(program, map[string]any{"row": map[string]any(row)})
		done <- outcome{value: value, err: runErr}
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTimeout
	case result := <-done:
		if result.err != nil {
			return nil, fmt.Errorf("snippet: %w", result.err)
		}

		return result.value, nil
	}
}

func (e *Evaluator) program(code string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[code]
	e.mu.RUnlock()

	if ok {
		return program, nil
	}

	program, err := compile(code)
	if err != nil {
		return nil, fmt.Errorf("%w: snippet: %v", schema.ErrBadInput, err)
	}

	e.mu.Lock()
	e.programs[code] = program
	e.mu.Unlock()

	return program, nil
}

// compile restricts the environment to the row binding, so any other
// identifier fails at compile time rather than at run time.
func compile(code string) (*vm.Program, error) {
	return expr.Compile(code, expr.Env(map[string]any{"row": map[string]any{}}))
}
