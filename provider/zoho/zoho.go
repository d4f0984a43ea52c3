// Package zoho implements a provider adapter for the Zoho RPA platform.
// Requests are authenticated with OAuth 2 access tokens obtained using a
// long-lived refresh token.
package zoho

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/micromdm/nanorpa/provider"
	"github.com/micromdm/nanorpa/provider/api"
	"github.com/micromdm/nanorpa/rpa"

	"golang.org/x/oauth2"
)

const (
	DefaultURL      = "https://rpa.zoho.com/api"
	DefaultTokenURL = "https://accounts.zoho.com/oauth/v2/token"

	// DefaultPollInterval is how often a running execution is checked.
	DefaultPollInterval = time.Second
)

var errEmptyID = errors.New("empty bot id in response")

// Config configures a Zoho adapter.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RefreshToken string

	PollInterval time.Duration

	// HTTPClient is used for both API and token requests if set.
	HTTPClient *http.Client
}

// Zoho is an RPA provider adapter.
type Zoho struct {
	client       *api.Client
	pollInterval time.Duration
}

// New creates a new Zoho adapter.
// Additional client options are passed through to the API client.
func New(cfg Config, opts ...api.Option) (*Zoho, error) {
	if cfg.RefreshToken == "" || cfg.ClientID == "" {
		return nil, errors.New("zoho: missing client id or refresh token")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx := context.Background()
	clientOpts := []api.Option{}
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
		clientOpts = append(clientOpts, api.WithHTTPClient(cfg.HTTPClient))
	}
	ts := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	clientOpts = append(clientOpts, api.WithTokenSource(ts))

	client, err := api.New(rpa.ProviderZoho, cfg.BaseURL, append(clientOpts, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Zoho{client: client, pollInterval: cfg.PollInterval}, nil
}

type createBotRequest struct {
	provider.BotSpec
	Industry string `json:"industry"`
}

type createBotResponse struct {
	ID string `json:"id"`
}

// CreateAutomationBot creates a Zoho RPA bot.
func (z *Zoho) CreateAutomationBot(ctx context.Context, spec provider.BotSpec, industry string) (string, error) {
	resp := new(createBotResponse)
	err := z.client.Do(ctx, "create bot", http.MethodPost, "/v1/bots", &createBotRequest{
		BotSpec:  spec,
		Industry: industry,
	}, resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &rpa.ProviderError{Provider: rpa.ProviderZoho, Op: "create bot", Err: errEmptyID}
	}
	return resp.ID, nil
}

// Zoho execution statuses.
const (
	executionQueued    = "queued"
	executionRunning   = "running"
	executionCompleted = "completed"
	executionFailed    = "failed"
)

type execution struct {
	ID     string          `json:"execution_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// execute runs the named bot workflow with input and waits for it to finish.
// The execution result is decoded into out.
func (z *Zoho) execute(ctx context.Context, op, providerBotID string, workflow rpa.StepType, input interface{}, out interface{}) error {
	exec := new(execution)
	path := fmt.Sprintf("/v1/bots/%s/workflows/%s/execute", providerBotID, workflow)
	if err := z.client.Do(ctx, op, http.MethodPost, path, map[string]interface{}{"input": input}, exec); err != nil {
		return err
	}

	for exec.Status == executionQueued || exec.Status == executionRunning {
		select {
		case <-ctx.Done():
			return fmt.Errorf("zoho %s: waiting for execution %s: %w", op, exec.ID, ctx.Err())
		case <-time.After(z.pollInterval):
		}
		if exec.ID == "" {
			return &rpa.ProviderError{Provider: rpa.ProviderZoho, Op: op, Err: errors.New("running execution without id")}
		}
		next := new(execution)
		if err := z.client.Do(ctx, op, http.MethodGet, "/v1/executions/"+exec.ID, nil, next); err != nil {
			return err
		}
		exec = next
	}

	switch exec.Status {
	case executionCompleted:
	case executionFailed:
		msg := exec.Error
		if msg == "" {
			msg = "execution failed"
		}
		return &rpa.ProviderError{Provider: rpa.ProviderZoho, Op: op, Err: errors.New(msg)}
	default:
		return &rpa.ProviderError{Provider: rpa.ProviderZoho, Op: op, Err: fmt.Errorf("unknown execution status: %q", exec.Status)}
	}

	if len(exec.Result) < 1 {
		return nil
	}
	if err := json.Unmarshal(exec.Result, out); err != nil {
		return &rpa.ProviderError{Provider: rpa.ProviderZoho, Op: op, Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

// RunBrowserActions runs actions as a Zoho bot workflow.
func (z *Zoho) RunBrowserActions(ctx context.Context, providerBotID string, actions []rpa.BrowserAction) (*provider.BrowserResult, error) {
	res := new(provider.BrowserResult)
	err := z.execute(ctx, "run browser actions", providerBotID, rpa.StepBrowserAutomation, map[string]interface{}{
		"actions": actions,
	}, res)
	return res, err
}

// RunScrape scrapes targetURL as a Zoho bot workflow.
func (z *Zoho) RunScrape(ctx context.Context, providerBotID, targetURL string, selectors []rpa.Selector) (*provider.ScrapeResult, error) {
	res := new(provider.ScrapeResult)
	err := z.execute(ctx, "run scrape", providerBotID, rpa.StepWebScraping, map[string]interface{}{
		"targetUrl": targetURL,
		"selectors": selectors,
	}, res)
	return res, err
}

// RunFormFill fills the form at targetURL as a Zoho bot workflow.
func (z *Zoho) RunFormFill(ctx context.Context, providerBotID, targetURL string, form []rpa.FormField) (*provider.FormResult, error) {
	res := new(provider.FormResult)
	err := z.execute(ctx, "run form fill", providerBotID, rpa.StepFormFilling, map[string]interface{}{
		"targetUrl": targetURL,
		"formData":  form,
	}, res)
	return res, err
}
