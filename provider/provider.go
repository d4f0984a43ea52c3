// Package provider defines the contract for delegating steps to external automation backends.
package provider

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/micromdm/nanorpa/rpa"
)

// BotSpec describes a provider bot to create for a workflow.
type BotSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	WorkflowID  string `json:"workflowId"`
}

// BrowserResult is the result of running browser actions.
type BrowserResult struct {
	Success         bool     `json:"success"`
	ActionsExecuted int      `json:"actionsExecuted"`
	ExecutionTimeMs int64    `json:"executionTime"`
	Artifacts       []string `json:"screenshots,omitempty"`
	Errors          []string `json:"errors,omitempty"`
}

// SelectorResult is the outcome of a single scrape selector.
type SelectorResult struct {
	Name     string      `json:"name"`
	Selector string      `json:"selector"`
	Found    bool        `json:"found"`
	Value    interface{} `json:"value,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// ScrapeResult is the result of a scrape.
type ScrapeResult struct {
	Status          string                   `json:"status"`
	DataExtracted   []map[string]interface{} `json:"data,omitempty"`
	SelectorResults []SelectorResult         `json:"results,omitempty"`
}

// FieldResult is the outcome of filling a single form field.
type FieldResult struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// FormResult is the result of filling a form.
type FormResult struct {
	Status       string        `json:"status"`
	FieldResults []FieldResult `json:"results,omitempty"`
}

// Status values reported by providers.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Adapter is an external automation backend.
// Every operation may fail with a *rpa.ProviderError.
type Adapter interface {
	// CreateAutomationBot creates a provider bot and returns its id.
	CreateAutomationBot(ctx context.Context, spec BotSpec, industry string) (string, error)

	RunBrowserActions(ctx context.Context, providerBotID string, actions []rpa.BrowserAction) (*BrowserResult, error)
	RunScrape(ctx context.Context, providerBotID, targetURL string, selectors []rpa.Selector) (*ScrapeResult, error)
	RunFormFill(ctx context.Context, providerBotID, targetURL string, form []rpa.FormField) (*FormResult, error)
}

// Registry maps provider kinds to adapters.
type Registry map[rpa.ProviderKind]Adapter

// Adapter returns the adapter for kind.
// An error wrapping rpa.ErrConfiguration is returned if none is registered.
func (r Registry) Adapter(kind rpa.ProviderKind) (Adapter, error) {
	if kind == "" {
		return nil, rpa.NewConfigurationError("missing provider kind")
	}
	a, ok := r[kind]
	if !ok || a == nil {
		return nil, rpa.NewConfigurationError("no adapter configured for provider: %s", kind)
	}
	return a, nil
}

// Kinds returns the registered provider kinds, sorted.
func (r Registry) Kinds() []string {
	var kinds []string
	for k := range r {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return kinds
}

// Output converts r into step output variables.
// An unsuccessful result is returned as a permanent provider error.
func (r *BrowserResult) Output(kind rpa.ProviderKind) (map[string]interface{}, error) {
	if !r.Success {
		return nil, &rpa.ProviderError{Provider: kind, Op: "run browser actions", Err: resultError(r.Errors)}
	}
	return map[string]interface{}{
		"actions_executed":  r.ActionsExecuted,
		"execution_time_ms": r.ExecutionTimeMs,
		"artifacts":         r.Artifacts,
	}, nil
}

// Output converts r into step output variables.
// A failed scrape is returned as a permanent provider error.
func (r *ScrapeResult) Output(kind rpa.ProviderKind) (map[string]interface{}, error) {
	if r.Status == StatusFailed {
		var errs []string
		for _, sr := range r.SelectorResults {
			if sr.Error != "" {
				errs = append(errs, sr.Name+": "+sr.Error)
			}
		}
		return nil, &rpa.ProviderError{Provider: kind, Op: "run scrape", Err: resultError(errs)}
	}
	out := map[string]interface{}{
		"scrape_status":  r.Status,
		"data_extracted": r.DataExtracted,
	}
	for _, sr := range r.SelectorResults {
		if sr.Found && sr.Name != "" {
			out[sr.Name] = sr.Value
		}
	}
	return out, nil
}

// Output converts r into step output variables.
// A failed form fill is returned as a permanent provider error.
func (r *FormResult) Output(kind rpa.ProviderKind) (map[string]interface{}, error) {
	var failed []string
	for _, fr := range r.FieldResults {
		if !fr.Success {
			failed = append(failed, fr.Name)
		}
	}
	if r.Status == StatusFailed {
		return nil, &rpa.ProviderError{
			Provider: kind,
			Op:       "run form fill",
			Err:      resultError([]string{"failed fields: " + strings.Join(failed, ", ")}),
		}
	}
	return map[string]interface{}{
		"form_status":   r.Status,
		"fields_filled": len(r.FieldResults) - len(failed),
		"fields_failed": failed,
	}, nil
}

func resultError(errs []string) error {
	if len(errs) < 1 {
		return errors.New("unsuccessful result")
	}
	return errors.New(strings.Join(errs, "; "))
}
