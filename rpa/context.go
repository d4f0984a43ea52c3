package rpa

import (
	"fmt"
	"os"
	"strings"
)

// ExecutionContext is the ephemeral state of one task run.
// It is never persisted.
type ExecutionContext struct {
	TaskID     string
	BotID      string
	WorkflowID string

	Input map[string]interface{}

	// Variables accumulate: later steps see every earlier step's output.
	Variables map[string]interface{}

	// Results holds each completed step's output by step id.
	Results map[string]map[string]interface{}

	// ErrorHandling is the workflow default error policy for steps.
	ErrorHandling ErrorHandling
}

// NewExecutionContext builds a fresh context for t.
// Variables are seeded from w's variable defaults and then overlaid with the task input.
func NewExecutionContext(t *Task, w *Workflow) *ExecutionContext {
	ec := &ExecutionContext{
		TaskID:     t.ID,
		BotID:      t.BotID,
		WorkflowID: t.WorkflowID,
		Input:      t.Input,
		Variables:  make(map[string]interface{}),
		Results:    make(map[string]map[string]interface{}),
	}
	if w != nil {
		ec.ErrorHandling = w.ErrorHandling
		for _, v := range w.Variables {
			if v.Default != nil {
				ec.Variables[v.Name] = v.Default
			}
		}
	}
	for k, v := range t.Input {
		ec.Variables[k] = v
	}
	return ec
}

// Merge records output as the result of stepID and merges it into the variables.
func (ec *ExecutionContext) Merge(stepID string, output map[string]interface{}) {
	ec.Results[stepID] = output
	for k, v := range output {
		ec.Variables[k] = v
	}
}

// Expand performs shell-like ${var} expansion on s using the variables.
// An optional colon-separated default value can be provided as well.
func (ec *ExecutionContext) Expand(s string) string {
	return os.Expand(s, func(v string) string {
		vs := strings.SplitN(v, ":", 2)
		val, ok := ec.Variables[vs[0]]
		if !ok || val == nil {
			if len(vs) > 1 {
				return vs[1]
			}
			return ""
		}
		if str, ok := val.(string); ok {
			return str
		}
		return fmt.Sprint(val)
	})
}

// ExpandValue expands every string found in v, descending into maps and slices.
func (ec *ExecutionContext) ExpandValue(v interface{}) interface{} {
	switch tv := v.(type) {
	case string:
		return ec.Expand(tv)
	case map[string]interface{}:
		r := make(map[string]interface{}, len(tv))
		for k, mv := range tv {
			r[k] = ec.ExpandValue(mv)
		}
		return r
	case []interface{}:
		r := make([]interface{}, len(tv))
		for i, sv := range tv {
			r[i] = ec.ExpandValue(sv)
		}
		return r
	}
	return v
}
