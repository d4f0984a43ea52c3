package steps

import (
	"context"
	"strings"
	"time"

	"github.com/micromdm/nanorpa/rpa"
)

// loop iterates the list in "items" (a list or the name of a list
// variable) up to "maxIterations" times. With "variable" set the last
// item is also output under that name.
func (b *Builtins) loop(ctx context.Context, step *rpa.Step, ec *rpa.ExecutionContext) (map[string]interface{}, error) {
	raw, ok := step.Config["items"]
	if !ok {
		return nil, rpa.NewConfigurationError("step %s: missing items", step.ID)
	}
	if name, ok := raw.(string); ok {
		if raw, ok = ec.Variables[strings.TrimSpace(name)]; !ok {
			return nil, rpa.NewValidationError("step %s: missing items variable: %s", step.ID, name)
		}
	} else {
		raw = ec.ExpandValue(raw)
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, rpa.NewValidationError("step %s: items is not a list", step.ID)
	}

	limit, set, err := integer(step, ec, "maxIterations")
	if err != nil {
		return nil, err
	}
	if !set || limit < 1 {
		limit = b.maxLoop
	}

	var iterated []interface{}
	for i, item := range items {
		if i >= limit {
			break
		}
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		iterated = append(iterated, item)
	}

	out := map[string]interface{}{
		"iterations": len(iterated),
		"items":      iterated,
	}
	if v := str(step, ec, "variable"); v != "" && len(iterated) > 0 {
		out[v] = iterated[len(iterated)-1]
	}
	return out, nil
}

// delay waits for "duration" (milliseconds or a Go duration string).
func (b *Builtins) delay(ctx context.Context, step *rpa.Step, ec *rpa.ExecutionContext) (map[string]interface{}, error) {
	d, err := duration(step, ec, "duration")
	if err != nil {
		return nil, err
	}
	if d < 0 {
		return nil, rpa.NewConfigurationError("step %s: negative duration", step.ID)
	}
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return map[string]interface{}{"delayed_ms": d.Milliseconds()}, nil
}
