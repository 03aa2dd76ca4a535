package merge

import (
	"context"
	"time"

	"github.com/expr-lang/expr"

	"github.com/rendis/docgen-engine/internal/core/entity"
)

// evaluate compiles and runs one inline expression against the flattened
// data environment. Expressions are read-only over the tree; a run that
// exceeds the timeout is abandoned. Error messages carry the expression
// source, never resolved values.
func evaluate(ctx context.Context, src string, env map[string]any, timeout time.Duration) (any, error) {
	program, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, entity.NewError(entity.KindTemplateInvalid, "compiling expression %q", src)
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, runErr := expr.Run(program, env)
		done <- outcome{value: value, err: runErr}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, entity.NewError(entity.KindTemplateExpression, "evaluating expression %q", src)
		}
		return out.value, nil
	case <-timer.C:
		return nil, entity.NewError(entity.KindTemplateExpression, "expression %q exceeded the evaluation timeout", src)
	case <-ctx.Done():
		return nil, entity.WrapError(entity.KindTemplateExpression, ctx.Err(), "evaluating expression %q", src)
	}
}

// truthy gives block conditionals their branch decision.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
