// Package axiom implements a provider adapter for the Axiom browser automation service.
package axiom

import (
	"context"
	"errors"
	"net/http"

	"github.com/micromdm/nanorpa/provider"
	"github.com/micromdm/nanorpa/provider/api"
	"github.com/micromdm/nanorpa/rpa"
)

// DefaultURL is the default Axiom API base URL.
const DefaultURL = "https://api.axiom.ai/v1"

var errEmptyID = errors.New("empty bot id in response")

// Axiom is a browser automation provider adapter.
type Axiom struct {
	client *api.Client
}

// New creates a new Axiom adapter authenticating with apiKey.
// Additional client options are passed through to the API client.
func New(baseURL, apiKey string, opts ...api.Option) (*Axiom, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if apiKey == "" {
		return nil, errors.New("axiom: missing api key")
	}
	client, err := api.New(rpa.ProviderAxiom, baseURL, append([]api.Option{api.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Axiom{client: client}, nil
}

type createBotRequest struct {
	provider.BotSpec
	Industry string `json:"industry"`
	Type     string `json:"type"`
}

type createBotResponse struct {
	ID string `json:"id"`
}

// CreateAutomationBot creates an Axiom bot.
func (a *Axiom) CreateAutomationBot(ctx context.Context, spec provider.BotSpec, industry string) (string, error) {
	resp := new(createBotResponse)
	err := a.client.Do(ctx, "create bot", http.MethodPost, "/bots", &createBotRequest{
		BotSpec:  spec,
		Industry: industry,
		Type:     "browser_automation",
	}, resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &rpa.ProviderError{Provider: rpa.ProviderAxiom, Op: "create bot", Err: errEmptyID}
	}
	return resp.ID, nil
}

type automationRequest struct {
	BotID   string              `json:"botId"`
	Actions []rpa.BrowserAction `json:"actions"`
}

// RunBrowserActions executes actions with the Axiom bot.
func (a *Axiom) RunBrowserActions(ctx context.Context, providerBotID string, actions []rpa.BrowserAction) (*provider.BrowserResult, error) {
	resp := new(provider.BrowserResult)
	err := a.client.Do(ctx, "run browser actions", http.MethodPost, "/automation/execute", &automationRequest{
		BotID:   providerBotID,
		Actions: actions,
	}, resp)
	return resp, err
}

type scrapeRequest struct {
	BotID     string         `json:"botId"`
	TargetURL string         `json:"targetUrl"`
	Selectors []rpa.Selector `json:"selectors"`
}

// RunScrape scrapes targetURL with the Axiom bot.
func (a *Axiom) RunScrape(ctx context.Context, providerBotID, targetURL string, selectors []rpa.Selector) (*provider.ScrapeResult, error) {
	resp := new(provider.ScrapeResult)
	err := a.client.Do(ctx, "run scrape", http.MethodPost, "/scraping/execute", &scrapeRequest{
		BotID:     providerBotID,
		TargetURL: targetURL,
		Selectors: selectors,
	}, resp)
	return resp, err
}

type formRequest struct {
	BotID     string          `json:"botId"`
	TargetURL string          `json:"targetUrl"`
	FormData  []rpa.FormField `json:"formData"`
}

// RunFormFill fills the form at targetURL with the Axiom bot.
func (a *Axiom) RunFormFill(ctx context.Context, providerBotID, targetURL string, form []rpa.FormField) (*provider.FormResult, error) {
	resp := new(provider.FormResult)
	err := a.client.Do(ctx, "run form fill", http.MethodPost, "/forms/fill", &formRequest{
		BotID:     providerBotID,
		TargetURL: targetURL,
		FormData:  form,
	}, resp)
	return resp, err
}
