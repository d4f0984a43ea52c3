package rpa

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestWorkflowValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		w    *Workflow
		ok   bool
	}{
		{"nil", nil, false},
		{"no id", &Workflow{Steps: []Step{{ID: "a", Type: StepDelay}}}, false},
		{"no steps", &Workflow{ID: "w"}, false},
		{"bad type", &Workflow{ID: "w", Steps: []Step{{ID: "a", Type: "teleport"}}}, false},
		{"dup step", &Workflow{ID: "w", Steps: []Step{{ID: "a", Type: StepDelay}, {ID: "a", Type: StepDelay}}}, false},
		{"neg retry", &Workflow{ID: "w", Steps: []Step{{ID: "a", Type: StepDelay, RetryPolicy: &RetryPolicy{MaxAttempts: -1}}}}, false},
		{"dup var", &Workflow{ID: "w", Steps: []Step{{ID: "a", Type: StepDelay}}, Variables: []Variable{{Name: "x"}, {Name: "x"}}}, false},
		{"schedule without spec", &Workflow{ID: "w", Steps: []Step{{ID: "a", Type: StepDelay}}, Triggers: []Trigger{{Type: TriggerSchedule}}}, false},
		{"event without name", &Workflow{ID: "w", Steps: []Step{{ID: "a", Type: StepDelay}}, Triggers: []Trigger{{Type: TriggerEvent}}}, false},
		{"bad trigger", &Workflow{ID: "w", Steps: []Step{{ID: "a", Type: StepDelay}}, Triggers: []Trigger{{Type: "webhook"}}}, false},
		{"ok", &Workflow{ID: "w", Steps: []Step{{ID: "a", Type: StepDelay}, {ID: "b", Type: StepWebScraping}}}, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.w.Validate()
			if tc.ok && err != nil {
				t.Fatal(err)
			}
			if !tc.ok && !errors.Is(err, ErrValidation) {
				t.Errorf("expected validation error, have: %v", err)
			}
		})
	}
}

func TestWorkflowValidateInput(t *testing.T) {
	w := &Workflow{
		ID: "w",
		Variables: []Variable{
			{Name: "shipment", Required: true},
			{Name: "carrier", Required: true, Default: "ups"},
			{Name: "note"},
		},
	}
	if err := w.ValidateInput(map[string]interface{}{}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, have: %v", err)
	}
	if err := w.ValidateInput(map[string]interface{}{"shipment": "S1"}); err != nil {
		t.Error(err)
	}
}

func TestProviderKinds(t *testing.T) {
	w := &Workflow{Steps: []Step{
		{ID: "a", Type: StepBrowserAutomation, Integration: &ProviderIntegration{Provider: ProviderAxiom}},
		{ID: "b", Type: StepDataEntry},
		{ID: "c", Type: StepFormFilling, Integration: &ProviderIntegration{Provider: ProviderZoho}},
		{ID: "d", Type: StepWebScraping, Integration: &ProviderIntegration{Provider: ProviderAxiom}},
		{ID: "e", Type: StepWebScraping},
	}}
	kinds := w.ProviderKinds()
	if have, want := len(kinds), 2; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if kinds[0] != ProviderAxiom || kinds[1] != ProviderZoho {
		t.Errorf("unexpected kinds: %v", kinds)
	}
}

const testWorkflowYAML = `id: ship-notify
name: Shipment notification
steps:
  - id: extract
    type: data_extraction
    retry_policy:
      max_attempts: 3
      delay: 250
      backoff_multiplier: 2
  - id: wait
    type: delay
    timeout: 2s
compliance:
  encryption_required: true
  audit_trail: true
`

func TestWorkflowYAML(t *testing.T) {
	w := new(Workflow)
	if err := yaml.Unmarshal([]byte(testWorkflowYAML), w); err != nil {
		t.Fatal(err)
	}
	if err := w.Validate(); err != nil {
		t.Fatal(err)
	}
	if have, want := w.Steps[0].RetryPolicy.Delay.Std(), 250*time.Millisecond; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := w.Steps[1].Timeout.Std(), 2*time.Second; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if !w.Compliance.EncryptionRequired || !w.Compliance.AuditTrail {
		t.Errorf("compliance flags not decoded: %+v", w.Compliance)
	}

	// JSON accepts numbers as milliseconds and writes duration strings
	var d Duration
	if err := json.Unmarshal([]byte(`1500`), &d); err != nil {
		t.Fatal(err)
	}
	if have, want := d.Std(), 1500*time.Millisecond; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := string(b), `"1.5s"`; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestComplianceFlags(t *testing.T) {
	var r ComplianceRequirements
	if !r.SetFlag(FlagHIPAA) {
		t.Fatal("hipaa flag should be known")
	}
	if v, known := r.Flag(FlagHIPAA); !v || !known {
		t.Errorf("have: %v/%v, want: true/true", v, known)
	}
	if _, known := r.Flag("teleportation"); known {
		t.Error("unexpected known flag")
	}
}

func TestExecutionContextExpand(t *testing.T) {
	task := &Task{ID: "t", Input: map[string]interface{}{"name": "gopher", "count": 3}}
	w := &Workflow{Variables: []Variable{{Name: "greeting", Default: "hello"}, {Name: "name", Default: "nobody"}}}
	ec := NewExecutionContext(task, w)

	if have, want := ec.Expand("${greeting} ${name} x${count} ${missing:none}"), "hello gopher x3 none"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	ec.Merge("a", map[string]interface{}{"greeting": "hi"})
	v := ec.ExpandValue(map[string]interface{}{"list": []interface{}{"${greeting}", 1}})
	list := v.(map[string]interface{})["list"].([]interface{})
	if have, want := list[0], "hi"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if _, ok := ec.Results["a"]; !ok {
		t.Error("step result not recorded")
	}
}
