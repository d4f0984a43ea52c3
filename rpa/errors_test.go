package rpa

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"validation", NewValidationError("bad"), false},
		{"configuration", NewConfigurationError("no integration"), false},
		{"not found", NewNotFoundError("bot", "b1"), false},
		{"compliance", &ComplianceError{Industry: "healthcare"}, false},
		{"canceled", fmt.Errorf("waiting: %w", context.Canceled), false},
		{"transient", &ProviderError{Provider: ProviderAxiom, StatusCode: 503, Transient: true}, true},
		{"permanent", &ProviderError{Provider: ProviderAxiom, StatusCode: 400}, false},
		{"wrapped transient", fmt.Errorf("step: %w", &ProviderError{Transient: true}), true},
		{"builtin", errors.New("disk full"), true},
	} {
		if have, want := IsRetryable(tc.err), tc.want; have != want {
			t.Errorf("%s: have: %v, want: %v", tc.name, have, want)
		}
	}
}

func TestTypedErrors(t *testing.T) {
	var err error = &ComplianceError{Industry: "healthcare", Missing: []string{FlagAuditTrail}}
	if !errors.Is(err, ErrCompliance) {
		t.Error("compliance error should match ErrCompliance")
	}
	if have, want := err.Error(), "compliance error: industry healthcare: missing required settings: audit_trail"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	inner := errors.New("connection reset")
	err = fmt.Errorf("run: %w", &ProviderError{Provider: ProviderZoho, Op: "create bot", Err: inner})
	if !errors.Is(err, ErrProvider) {
		t.Error("provider error should match ErrProvider")
	}
	if !errors.Is(err, inner) {
		t.Error("provider error should unwrap")
	}
}
