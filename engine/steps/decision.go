package steps

import (
	"context"
	"errors"
	"fmt"

	"github.com/micromdm/nanorpa/rpa"

	"github.com/dop251/goja"
)

var errInterrupted = errors.New("condition evaluation interrupted")

// decision evaluates the JavaScript expression in "condition".
// Each variable is available as a global and in the "vars" object.
// The outputs are "decision" and, when "then" or "else" are
// configured, the matching "branch" value.
func (b *Builtins) decision(ctx context.Context, step *rpa.Step, ec *rpa.ExecutionContext) (map[string]interface{}, error) {
	cond, ok := step.Config["condition"].(string)
	if !ok || cond == "" {
		return nil, rpa.NewConfigurationError("step %s: missing condition", step.ID)
	}

	prg, err := goja.Compile(step.ID, cond, false)
	if err != nil {
		return nil, rpa.NewConfigurationError("step %s: condition: %v", step.ID, err)
	}

	vars := cloneMap(ec.Variables)
	vm := goja.New()
	for k, v := range vars {
		if err := vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("setting variable %s: %w", k, err)
		}
	}
	if err := vm.Set("vars", vars); err != nil {
		return nil, fmt.Errorf("setting vars: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(errInterrupted)
		case <-done:
		}
	}()

	res, err := vm.RunProgram(prg)
	if err != nil {
		var intErr *goja.InterruptedError
		if errors.As(err, &intErr) {
			return nil, fmt.Errorf("%w: %w", errInterrupted, ctx.Err())
		}
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return nil, rpa.NewValidationError("step %s: condition: %s", step.ID, exc.Error())
		}
		return nil, fmt.Errorf("condition: %w", err)
	}

	decision := res.ToBoolean()
	out := map[string]interface{}{"decision": decision}
	key := "else"
	if decision {
		key = "then"
	}
	if branch, ok := value(step, ec, key); ok {
		out["branch"] = branch
	}
	return out, nil
}

// cloneMap deep copies the maps and slices of m.
func cloneMap(m map[string]interface{}) map[string]interface{} {
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		return cloneMap(v)
	case []interface{}:
		c := make([]interface{}, len(v))
		for i := range v {
			c[i] = cloneValue(v[i])
		}
		return c
	default:
		return v
	}
}
