package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/micromdm/nanorpa/rpa"

	"github.com/tidwall/gjson"
)

// dataExtraction evaluates the gjson paths in the "paths" config map
// against a JSON document and outputs each result under its map key.
// The document is the variable named by "source" or else all variables.
// With "strict" set, a path that matches nothing is an error.
func (b *Builtins) dataExtraction(_ context.Context, step *rpa.Step, ec *rpa.ExecutionContext) (map[string]interface{}, error) {
	paths, err := stringMap(step, ec, "paths")
	if err != nil {
		return nil, err
	}
	if len(paths) < 1 {
		return nil, rpa.NewConfigurationError("step %s: missing paths", step.ID)
	}

	var doc []byte
	if source := str(step, ec, "source"); source != "" {
		v, ok := ec.Variables[source]
		if !ok {
			return nil, rpa.NewValidationError("step %s: missing source variable: %s", step.ID, source)
		}
		if s, ok := v.(string); ok && gjson.Valid(s) {
			doc = []byte(s)
		} else if doc, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("marshal source: %w", err)
		}
	} else if doc, err = json.Marshal(ec.Variables); err != nil {
		return nil, fmt.Errorf("marshal variables: %w", err)
	}

	strict, _ := step.Config["strict"].(bool)
	out := make(map[string]interface{}, len(paths))
	for name, path := range paths {
		res := gjson.GetBytes(doc, path)
		if !res.Exists() {
			if strict {
				return nil, rpa.NewValidationError("step %s: path matched nothing: %s", step.ID, path)
			}
			continue
		}
		out[name] = res.Value()
	}
	return out, nil
}

// dataEntry outputs the expanded "values" config map.
func (b *Builtins) dataEntry(_ context.Context, step *rpa.Step, ec *rpa.ExecutionContext) (map[string]interface{}, error) {
	v, ok := value(step, ec, "values")
	if !ok {
		return nil, rpa.NewConfigurationError("step %s: missing values", step.ID)
	}
	values, ok := v.(map[string]interface{})
	if !ok {
		return nil, rpa.NewConfigurationError("step %s: values must be a map", step.ID)
	}
	return values, nil
}
