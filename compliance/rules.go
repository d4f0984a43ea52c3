package compliance

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/micromdm/nanorpa/rpa"

	"gopkg.in/yaml.v3"
)

// Rule is the compliance rule of a single industry.
type Rule struct {
	// Regulated industries force compliance mode on their bots.
	Regulated bool `yaml:"regulated"`

	// Required are flag names a workflow must declare to pass.
	Required []string `yaml:"required"`

	// Defaults are merged into the stamped compliance settings.
	Defaults rpa.ComplianceRequirements `yaml:"defaults"`
}

// Rules are per-industry compliance rules.
type Rules struct {
	// Default applies to every industry.
	Default    Rule            `yaml:"default"`
	Industries map[string]Rule `yaml:"industries"`
}

// DefaultRules returns the built-in compliance rules.
func DefaultRules() *Rules {
	baseline := []string{rpa.FlagEncryptionRequired, rpa.FlagAuditTrail, rpa.FlagAccessControls}
	return &Rules{
		Default: Rule{
			Defaults: rpa.ComplianceRequirements{
				EncryptionRequired: true,
				AuditTrail:         true,
				AccessControls:     true,
				GDPR:               true,
				ISO27001:           true,
				SOC2:               true,
				DataResidency:      "US",
			},
		},
		Industries: map[string]Rule{
			"healthcare": {
				Regulated: true,
				Required:  baseline,
				Defaults:  rpa.ComplianceRequirements{HIPAA: true},
			},
			"financial": {
				Regulated: true,
				Required:  []string{rpa.FlagEncryptionRequired, rpa.FlagAuditTrail},
				Defaults:  rpa.ComplianceRequirements{SOX: true},
			},
			"legal": {
				Regulated: true,
				Required:  baseline,
			},
			"government": {
				Regulated: true,
				Required:  baseline,
			},
		},
	}
}

// Validate checks that every required flag name is known.
func (r *Rules) Validate() error {
	if r == nil {
		return errors.New("nil rules")
	}
	check := func(industry string, rule Rule) error {
		for _, name := range rule.Required {
			if _, known := (rpa.ComplianceRequirements{}).Flag(name); !known {
				return fmt.Errorf("industry %s: unknown compliance flag: %s", industry, name)
			}
		}
		return nil
	}
	if err := check("default", r.Default); err != nil {
		return err
	}
	for industry, rule := range r.Industries {
		if err := check(industry, rule); err != nil {
			return err
		}
	}
	return nil
}

// rule returns the industry rule and whether one was defined.
func (r *Rules) rule(industry string) (Rule, bool) {
	rule, ok := r.Industries[strings.ToLower(industry)]
	return rule, ok
}

// ParseRulesYAML parses compliance rules from YAML.
// Industry names are case-insensitive.
func ParseRulesYAML(data []byte) (*Rules, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("compliance: empty rules")
	}
	rules := new(Rules)
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("compliance: parse yaml: %w", err)
	}
	if len(rules.Industries) > 0 {
		lower := make(map[string]Rule, len(rules.Industries))
		for k, v := range rules.Industries {
			lower[strings.ToLower(k)] = v
		}
		rules.Industries = lower
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("compliance: %w", err)
	}
	return rules, nil
}

// LoadRulesFile reads and parses compliance rules from path.
func LoadRulesFile(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compliance: read %s: %w", path, err)
	}
	return ParseRulesYAML(data)
}
