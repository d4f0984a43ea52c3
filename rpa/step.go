package rpa

import (
	"fmt"
)

// StepType selects the handler of a step.
type StepType string

const (
	StepDataExtraction    StepType = "data_extraction"
	StepDataEntry         StepType = "data_entry"
	StepAPICall           StepType = "api_call"
	StepEmailSend         StepType = "email_send"
	StepFileProcessing    StepType = "file_processing"
	StepDecision          StepType = "decision"
	StepLoop              StepType = "loop"
	StepDelay             StepType = "delay"
	StepBrowserAutomation StepType = "browser_automation"
	StepWebScraping       StepType = "web_scraping"
	StepFormFilling       StepType = "form_filling"
)

// StepTypes are all the known step types.
var StepTypes = []StepType{
	StepDataExtraction,
	StepDataEntry,
	StepAPICall,
	StepEmailSend,
	StepFileProcessing,
	StepDecision,
	StepLoop,
	StepDelay,
	StepBrowserAutomation,
	StepWebScraping,
	StepFormFilling,
}

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	for _, st := range StepTypes {
		if t == st {
			return true
		}
	}
	return false
}

// ProviderBacked reports whether steps of type t are delegated to a provider.
func (t StepType) ProviderBacked() bool {
	switch t {
	case StepBrowserAutomation, StepWebScraping, StepFormFilling:
		return true
	}
	return false
}

// ProviderKind names an external automation backend.
type ProviderKind string

const (
	// ProviderAxiom is a browser automation backend.
	ProviderAxiom ProviderKind = "axiom"

	// ProviderZoho is a desktop and web RPA backend.
	ProviderZoho ProviderKind = "zoho"
)

// Field describes a declared step input or output.
type Field struct {
	Name        string      `json:"name" yaml:"name"`
	Type        string      `json:"type,omitempty" yaml:"type,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool        `json:"required,omitempty" yaml:"required,omitempty"`
	Default     interface{} `json:"default,omitempty" yaml:"default,omitempty"`
}

// RetryPolicy configures step retries.
// The wait before attempt n+1 is Delay * BackoffMultiplier^(n-1).
type RetryPolicy struct {
	MaxAttempts       int      `json:"max_attempts" yaml:"max_attempts"`
	Delay             Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
	BackoffMultiplier float64  `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier,omitempty"`
}

// ActionType is a browser action kind.
type ActionType string

const (
	ActionClick      ActionType = "click"
	ActionInput      ActionType = "type"
	ActionSelect     ActionType = "select"
	ActionNavigate   ActionType = "navigate"
	ActionWait       ActionType = "wait"
	ActionScroll     ActionType = "scroll"
	ActionScreenshot ActionType = "screenshot"
	ActionExtract    ActionType = "extract"
)

// BrowserAction is a single browser automation instruction.
type BrowserAction struct {
	ID     string     `json:"id,omitempty" yaml:"id,omitempty"`
	Type   ActionType `json:"type" yaml:"type"`
	Target string     `json:"target,omitempty" yaml:"target,omitempty"`
	Value  string     `json:"value,omitempty" yaml:"value,omitempty"`
	Delay  Duration   `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// Selector identifies data to scrape from a page.
type Selector struct {
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string `json:"name" yaml:"name"`
	Selector string `json:"selector" yaml:"selector"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// FormField is a single form input to fill.
type FormField struct {
	Name     string `json:"name" yaml:"name"`
	Selector string `json:"selector" yaml:"selector"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// ProviderIntegration describes how a provider-backed step is delegated.
type ProviderIntegration struct {
	Provider ProviderKind `json:"provider" yaml:"provider"`

	// ProviderBotID is filled in at deployment from the workflow's
	// provider bot of the same kind.
	ProviderBotID string `json:"provider_bot_id,omitempty" yaml:"provider_bot_id,omitempty"`

	TargetURL string          `json:"target_url,omitempty" yaml:"target_url,omitempty"`
	Selectors []Selector      `json:"selectors,omitempty" yaml:"selectors,omitempty"`
	Actions   []BrowserAction `json:"actions,omitempty" yaml:"actions,omitempty"`
	Form      []FormField     `json:"form,omitempty" yaml:"form,omitempty"`
}

// Step is one unit of work in a workflow.
type Step struct {
	ID   string   `json:"id" yaml:"id"`
	Name string   `json:"name,omitempty" yaml:"name,omitempty"`
	Type StepType `json:"type" yaml:"type"`

	// Config holds handler parameters. String values are expanded
	// against the execution variables before use.
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`

	Inputs  []Field `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs []Field `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	ErrorHandling *ErrorHandling `json:"error_handling,omitempty" yaml:"error_handling,omitempty"`
	RetryPolicy   *RetryPolicy   `json:"retry_policy,omitempty" yaml:"retry_policy,omitempty"`
	Timeout       Duration       `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Integration *ProviderIntegration `json:"integration,omitempty" yaml:"integration,omitempty"`
}

// Validate checks s for structural problems.
func (s *Step) Validate() error {
	if s == nil {
		return NewValidationError("nil step")
	}
	if s.ID == "" {
		return NewValidationError("missing step id")
	}
	if !s.Type.Valid() {
		return NewValidationError("step %s: unknown step type: %q", s.ID, s.Type)
	}
	if s.RetryPolicy != nil {
		if err := s.RetryPolicy.validate(); err != nil {
			return fmt.Errorf("step %s: %w", s.ID, err)
		}
	}
	if s.ErrorHandling != nil {
		if err := s.ErrorHandling.validate(); err != nil {
			return fmt.Errorf("step %s: %w", s.ID, err)
		}
	}
	if s.Timeout < 0 {
		return NewValidationError("step %s: negative timeout", s.ID)
	}
	return nil
}

func (p *RetryPolicy) validate() error {
	if p.MaxAttempts < 0 || p.Delay < 0 || p.BackoffMultiplier < 0 {
		return NewValidationError("negative retry policy value")
	}
	return nil
}
