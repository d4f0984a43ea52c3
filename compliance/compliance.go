// Package compliance implements the deploy-time workflow compliance gate.
package compliance

import (
	"context"
	"time"

	"github.com/micromdm/nanorpa/log/logkeys"
	"github.com/micromdm/nanorpa/rpa"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// Gate validates workflows against per-industry compliance rules.
type Gate struct {
	rules  *Rules
	logger log.Logger
	now    func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate logger.
func WithLogger(logger log.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithRules replaces the built-in rules.
func WithRules(rules *Rules) Option {
	return func(g *Gate) {
		g.rules = rules
	}
}

// New creates a new compliance gate using the built-in rules by default.
func New(opts ...Option) *Gate {
	g := &Gate{
		rules:  DefaultRules(),
		logger: log.NopLogger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Regulated reports whether industry is regulated.
func (g *Gate) Regulated(industry string) bool {
	rule, _ := g.rules.rule(industry)
	return rule.Regulated || g.rules.Default.Regulated
}

// Validate checks that w declares every flag industry requires.
// On success the derived compliance settings are returned. These are
// the default rule's settings merged with the industry's and then the
// workflow's own declared requirements.
// On failure a *rpa.ComplianceError naming the missing flags is returned.
func (g *Gate) Validate(ctx context.Context, w *rpa.Workflow, industry string) (*rpa.ComplianceSettings, error) {
	logger := ctxlog.Logger(ctx, g.logger).With(
		logkeys.WorkflowID, w.ID,
		logkeys.Industry, industry,
	)

	rule, _ := g.rules.rule(industry)

	var missing []string
	seen := make(map[string]struct{})
	for _, required := range [][]string{g.rules.Default.Required, rule.Required} {
		for _, name := range required {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			if v, _ := w.Compliance.Flag(name); !v {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		err := &rpa.ComplianceError{Industry: industry, Missing: missing}
		logger.Info(logkeys.Message, "compliance check failed", logkeys.Error, err)
		return nil, err
	}

	settings := &rpa.ComplianceSettings{
		Industry:    industry,
		Regulated:   rule.Regulated || g.rules.Default.Regulated,
		ValidatedAt: g.now(),
	}
	merge(&settings.ComplianceRequirements, g.rules.Default.Defaults)
	merge(&settings.ComplianceRequirements, rule.Defaults)
	merge(&settings.ComplianceRequirements, w.Compliance)

	logger.Debug(logkeys.Message, "compliance check passed", "regulated", settings.Regulated)
	return settings, nil
}

// merge turns on every flag set in src and overrides data residency if src sets it.
func merge(dst *rpa.ComplianceRequirements, src rpa.ComplianceRequirements) {
	for _, name := range flags {
		if v, _ := src.Flag(name); v {
			dst.SetFlag(name)
		}
	}
	if src.DataResidency != "" {
		dst.DataResidency = src.DataResidency
	}
}

var flags = []string{
	rpa.FlagEncryptionRequired,
	rpa.FlagAuditTrail,
	rpa.FlagAccessControls,
	rpa.FlagHIPAA,
	rpa.FlagSOX,
	rpa.FlagGDPR,
	rpa.FlagISO27001,
	rpa.FlagSOC2,
}
