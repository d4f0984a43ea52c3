package rpa

import (
	"time"
)

// ErrorHandling is a step error policy.
// Workflows carry a default policy that steps may override.
type ErrorHandling struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts       int      `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	Delay             Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
	BackoffMultiplier float64  `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier,omitempty"`

	// FallbackAction names the escalation run when a step fails for good.
	// It is only run if NotificationEnabled is set.
	FallbackAction      string `json:"fallback_action,omitempty" yaml:"fallback_action,omitempty"`
	NotificationEnabled bool   `json:"notification_enabled,omitempty" yaml:"notification_enabled,omitempty"`
}

func (eh *ErrorHandling) validate() error {
	if eh.MaxAttempts < 0 || eh.Delay < 0 || eh.BackoffMultiplier < 0 {
		return NewValidationError("negative error handling value")
	}
	return nil
}

// Compliance flag names.
const (
	FlagEncryptionRequired = "encryption_required"
	FlagAuditTrail         = "audit_trail"
	FlagAccessControls     = "access_controls"
	FlagHIPAA              = "hipaa"
	FlagSOX                = "sox"
	FlagGDPR               = "gdpr"
	FlagISO27001           = "iso27001"
	FlagSOC2               = "soc2"
)

// ComplianceRequirements are the compliance properties a workflow author declares.
type ComplianceRequirements struct {
	EncryptionRequired bool   `json:"encryption_required,omitempty" yaml:"encryption_required,omitempty"`
	AuditTrail         bool   `json:"audit_trail,omitempty" yaml:"audit_trail,omitempty"`
	AccessControls     bool   `json:"access_controls,omitempty" yaml:"access_controls,omitempty"`
	HIPAA              bool   `json:"hipaa,omitempty" yaml:"hipaa,omitempty"`
	SOX                bool   `json:"sox,omitempty" yaml:"sox,omitempty"`
	GDPR               bool   `json:"gdpr,omitempty" yaml:"gdpr,omitempty"`
	ISO27001           bool   `json:"iso27001,omitempty" yaml:"iso27001,omitempty"`
	SOC2               bool   `json:"soc2,omitempty" yaml:"soc2,omitempty"`
	DataResidency      string `json:"data_residency,omitempty" yaml:"data_residency,omitempty"`
}

func (r *ComplianceRequirements) flag(name string) *bool {
	switch name {
	case FlagEncryptionRequired:
		return &r.EncryptionRequired
	case FlagAuditTrail:
		return &r.AuditTrail
	case FlagAccessControls:
		return &r.AccessControls
	case FlagHIPAA:
		return &r.HIPAA
	case FlagSOX:
		return &r.SOX
	case FlagGDPR:
		return &r.GDPR
	case FlagISO27001:
		return &r.ISO27001
	case FlagSOC2:
		return &r.SOC2
	}
	return nil
}

// Flag returns the value of the named flag.
// The known return is false if name is not a compliance flag.
func (r ComplianceRequirements) Flag(name string) (value bool, known bool) {
	p := r.flag(name)
	if p == nil {
		return false, false
	}
	return *p, true
}

// SetFlag turns on the named flag and reports whether it is known.
func (r *ComplianceRequirements) SetFlag(name string) bool {
	p := r.flag(name)
	if p == nil {
		return false
	}
	*p = true
	return true
}

// ComplianceSettings are stamped on a workflow when it passes the compliance gate.
type ComplianceSettings struct {
	ComplianceRequirements `yaml:",inline"`

	Industry    string    `json:"industry" yaml:"industry"`
	Regulated   bool      `json:"regulated" yaml:"regulated"`
	ValidatedAt time.Time `json:"validated_at" yaml:"validated_at"`
}

// TriggerType is the kind of workflow trigger.
type TriggerType string

const (
	TriggerSchedule TriggerType = "schedule"
	TriggerEvent    TriggerType = "event"
	TriggerManual   TriggerType = "manual"
	TriggerAPI      TriggerType = "api"
)

// Trigger describes how a workflow is started.
type Trigger struct {
	Type TriggerType `json:"type" yaml:"type"`

	// Schedule is a cron spec for schedule triggers.
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`

	// Event is the event name for event triggers.
	Event string `json:"event,omitempty" yaml:"event,omitempty"`

	Input   map[string]interface{} `json:"input,omitempty" yaml:"input,omitempty"`
	Enabled bool                   `json:"enabled" yaml:"enabled"`
}

// Variable is a declared workflow variable.
type Variable struct {
	Name     string      `json:"name" yaml:"name"`
	Type     string      `json:"type,omitempty" yaml:"type,omitempty"`
	Default  interface{} `json:"default,omitempty" yaml:"default,omitempty"`
	Required bool        `json:"required,omitempty" yaml:"required,omitempty"`
}

// Workflow is an ordered list of steps with error handling and compliance policy.
type Workflow struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	Version     string `json:"version,omitempty" yaml:"version,omitempty"`

	Steps         []Step        `json:"steps" yaml:"steps"`
	Variables     []Variable    `json:"variables,omitempty" yaml:"variables,omitempty"`
	ErrorHandling ErrorHandling `json:"error_handling" yaml:"error_handling"`
	Triggers      []Trigger     `json:"triggers,omitempty" yaml:"triggers,omitempty"`

	Compliance ComplianceRequirements `json:"compliance" yaml:"compliance"`

	// ComplianceSettings is write-once.
	ComplianceSettings *ComplianceSettings `json:"compliance_settings,omitempty" yaml:"compliance_settings,omitempty"`

	// ProviderBots are the provider bot ids created for this workflow by provider kind.
	ProviderBots map[ProviderKind]string `json:"provider_bots,omitempty" yaml:"provider_bots,omitempty"`

	Metrics   PerformanceMetrics `json:"metrics" yaml:"-"`
	CreatedAt time.Time          `json:"created_at,omitempty" yaml:"-"`
}

// Validate checks w for structural problems.
func (w *Workflow) Validate() error {
	if w == nil {
		return NewValidationError("nil workflow")
	}
	if w.ID == "" {
		return NewValidationError("missing workflow id")
	}
	if len(w.Steps) < 1 {
		return NewValidationError("workflow %s: no steps", w.ID)
	}
	if err := w.ErrorHandling.validate(); err != nil {
		return err
	}
	seen := make(map[string]struct{})
	for i := range w.Steps {
		if err := w.Steps[i].Validate(); err != nil {
			return err
		}
		if _, ok := seen[w.Steps[i].ID]; ok {
			return NewValidationError("workflow %s: duplicate step id: %s", w.ID, w.Steps[i].ID)
		}
		seen[w.Steps[i].ID] = struct{}{}
	}
	vars := make(map[string]struct{})
	for _, v := range w.Variables {
		if v.Name == "" {
			return NewValidationError("workflow %s: variable without name", w.ID)
		}
		if _, ok := vars[v.Name]; ok {
			return NewValidationError("workflow %s: duplicate variable: %s", w.ID, v.Name)
		}
		vars[v.Name] = struct{}{}
	}
	for _, t := range w.Triggers {
		switch t.Type {
		case TriggerSchedule:
			if t.Schedule == "" {
				return NewValidationError("workflow %s: schedule trigger without schedule", w.ID)
			}
		case TriggerEvent:
			if t.Event == "" {
				return NewValidationError("workflow %s: event trigger without event", w.ID)
			}
		case TriggerManual, TriggerAPI:
		default:
			return NewValidationError("workflow %s: unknown trigger type: %q", w.ID, t.Type)
		}
	}
	return nil
}

// ValidateInput checks that input carries every required variable that has no default.
func (w *Workflow) ValidateInput(input map[string]interface{}) error {
	for _, v := range w.Variables {
		if !v.Required || v.Default != nil {
			continue
		}
		if _, ok := input[v.Name]; !ok {
			return NewValidationError("workflow %s: missing required variable: %s", w.ID, v.Name)
		}
	}
	return nil
}

// ProviderKinds returns the distinct provider kinds used by w's
// provider-backed steps in step order.
func (w *Workflow) ProviderKinds() []ProviderKind {
	var kinds []ProviderKind
	seen := make(map[ProviderKind]struct{})
	for _, s := range w.Steps {
		if !s.Type.ProviderBacked() || s.Integration == nil {
			continue
		}
		if _, ok := seen[s.Integration.Provider]; ok {
			continue
		}
		seen[s.Integration.Provider] = struct{}{}
		kinds = append(kinds, s.Integration.Provider)
	}
	return kinds
}
