// Package test provides a fake provider adapter for tests.
package test

import (
	"context"
	"fmt"
	"sync"

	"github.com/micromdm/nanorpa/provider"
	"github.com/micromdm/nanorpa/rpa"
)

// Fake is an in-memory provider adapter that records calls.
// Results can be overridden by setting the function fields.
type Fake struct {
	Kind rpa.ProviderKind

	BrowserFunc func(providerBotID string, actions []rpa.BrowserAction) (*provider.BrowserResult, error)
	ScrapeFunc  func(providerBotID, targetURL string, selectors []rpa.Selector) (*provider.ScrapeResult, error)
	FormFunc    func(providerBotID, targetURL string, form []rpa.FormField) (*provider.FormResult, error)
	CreateErr   error

	mu      sync.Mutex
	creates int
	runs    int
	specs   []provider.BotSpec
}

// NewFake creates a new fake adapter for kind.
func NewFake(kind rpa.ProviderKind) *Fake {
	return &Fake{Kind: kind}
}

// Creates returns the number of CreateAutomationBot calls.
func (f *Fake) Creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

// Runs returns the number of browser, scrape, and form fill calls.
func (f *Fake) Runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

// Specs returns the specs of the created bots.
func (f *Fake) Specs() []provider.BotSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.BotSpec(nil), f.specs...)
}

func (f *Fake) CreateAutomationBot(_ context.Context, spec provider.BotSpec, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.creates++
	f.specs = append(f.specs, spec)
	return fmt.Sprintf("%s-bot-%d", f.Kind, f.creates), nil
}

func (f *Fake) run() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
}

func (f *Fake) RunBrowserActions(_ context.Context, providerBotID string, actions []rpa.BrowserAction) (*provider.BrowserResult, error) {
	f.run()
	if f.BrowserFunc != nil {
		return f.BrowserFunc(providerBotID, actions)
	}
	return &provider.BrowserResult{Success: true, ActionsExecuted: len(actions)}, nil
}

func (f *Fake) RunScrape(_ context.Context, providerBotID, targetURL string, selectors []rpa.Selector) (*provider.ScrapeResult, error) {
	f.run()
	if f.ScrapeFunc != nil {
		return f.ScrapeFunc(providerBotID, targetURL, selectors)
	}
	res := &provider.ScrapeResult{Status: provider.StatusSuccess}
	for _, s := range selectors {
		res.SelectorResults = append(res.SelectorResults, provider.SelectorResult{
			Name:     s.Name,
			Selector: s.Selector,
			Found:    true,
			Value:    s.Name + "-value",
		})
	}
	return res, nil
}

func (f *Fake) RunFormFill(_ context.Context, providerBotID, targetURL string, form []rpa.FormField) (*provider.FormResult, error) {
	f.run()
	if f.FormFunc != nil {
		return f.FormFunc(providerBotID, targetURL, form)
	}
	res := &provider.FormResult{Status: provider.StatusSuccess}
	for _, field := range form {
		res.FieldResults = append(res.FieldResults, provider.FieldResult{Name: field.Name, Success: true})
	}
	return res, nil
}
