package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/micromdm/nanorpa/engine/steps"
	"github.com/micromdm/nanorpa/provider"
	providertest "github.com/micromdm/nanorpa/provider/test"
	"github.com/micromdm/nanorpa/rpa"
)

type recordingNotifier struct {
	escalations []*Escalation
}

func (n *recordingNotifier) Notify(_ context.Context, esc *Escalation) error {
	n.escalations = append(n.escalations, esc)
	return nil
}

// newTestDispatcher creates a dispatcher whose api_call steps are
// handled by h and whose backoff waits are recorded instead of slept.
func newTestDispatcher(h steps.Handler, providers provider.Registry, notifiers map[string]Notifier) (*Dispatcher, *[]time.Duration) {
	d := NewDispatcher(map[rpa.StepType]steps.Handler{rpa.StepAPICall: h}, providers, notifiers, nil)
	var waits []time.Duration
	d.sleep = func(_ context.Context, wait time.Duration) error {
		waits = append(waits, wait)
		return nil
	}
	return d, &waits
}

func newTestContext() *rpa.ExecutionContext {
	return rpa.NewExecutionContext(&rpa.Task{ID: "t1", BotID: "b1", WorkflowID: "w1"}, nil)
}

func TestRetryAccounting(t *testing.T) {
	var calls int
	h := func(context.Context, *rpa.Step, *rpa.ExecutionContext) (map[string]interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection reset")
		}
		return map[string]interface{}{"ok": true}, nil
	}
	d, waits := newTestDispatcher(h, nil, nil)
	step := &rpa.Step{
		ID:          "call",
		Type:        rpa.StepAPICall,
		RetryPolicy: &rpa.RetryPolicy{MaxAttempts: 3, Delay: rpa.Duration(100 * time.Millisecond), BackoffMultiplier: 2},
	}

	res, err := d.Execute(context.Background(), step, newTestContext())
	if err != nil {
		t.Fatal(err)
	}
	if have, want := calls, 3; have != want {
		t.Errorf("calls: have: %v, want: %v", have, want)
	}
	if have, want := res.Attempts, 3; have != want {
		t.Errorf("attempts: have: %v, want: %v", have, want)
	}
	if have, want := *waits, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}; !reflect.DeepEqual(have, want) {
		t.Errorf("waits: have: %v, want: %v", have, want)
	}
}

func TestRetryExhausted(t *testing.T) {
	var calls int
	h := func(context.Context, *rpa.Step, *rpa.ExecutionContext) (map[string]interface{}, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("first")
		}
		return nil, errors.New("later")
	}
	n := &recordingNotifier{}
	d, _ := newTestDispatcher(h, nil, map[string]Notifier{"escalate": n})
	ec := newTestContext()
	ec.ErrorHandling = rpa.ErrorHandling{
		MaxAttempts:         3,
		FallbackAction:      "escalate",
		NotificationEnabled: true,
	}

	_, err := d.Execute(context.Background(), &rpa.Step{ID: "call", Type: rpa.StepAPICall}, ec)
	var f *StepFailure
	if !errors.As(err, &f) {
		t.Fatalf("expected step failure, have: %v", err)
	}
	if have, want := f.Attempts, 3; have != want {
		t.Errorf("attempts: have: %v, want: %v", have, want)
	}
	if have, want := f.Err.Error(), "first"; have != want {
		t.Errorf("first error: have: %v, want: %v", have, want)
	}
	if have, want := f.Last.Error(), "later"; have != want {
		t.Errorf("last error: have: %v, want: %v", have, want)
	}
	if have, want := len(n.escalations), 1; have != want {
		t.Fatalf("escalations: have: %v, want: %v", have, want)
	}
	if have, want := n.escalations[0].StepID, "call"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestNonRetryableNotRetried(t *testing.T) {
	for _, test := range []struct {
		name string
		err  error
	}{
		{"validation", rpa.NewValidationError("bad input")},
		{"configuration", rpa.NewConfigurationError("no url")},
		{"permanent provider", &rpa.ProviderError{Provider: rpa.ProviderAxiom, StatusCode: 400}},
	} {
		t.Run(test.name, func(t *testing.T) {
			var calls int
			h := func(context.Context, *rpa.Step, *rpa.ExecutionContext) (map[string]interface{}, error) {
				calls++
				return nil, test.err
			}
			d, waits := newTestDispatcher(h, nil, nil)
			step := &rpa.Step{ID: "call", Type: rpa.StepAPICall, RetryPolicy: &rpa.RetryPolicy{MaxAttempts: 5}}
			_, err := d.Execute(context.Background(), step, newTestContext())
			if !errors.Is(err, test.err) {
				t.Errorf("have: %v, want: %v", err, test.err)
			}
			if have, want := calls, 1; have != want {
				t.Errorf("calls: have: %v, want: %v", have, want)
			}
			if have, want := len(*waits), 0; have != want {
				t.Errorf("waits: have: %v, want: %v", have, want)
			}
		})
	}
}

func TestStepErrorHandlingOverridesWorkflow(t *testing.T) {
	var calls int
	h := func(context.Context, *rpa.Step, *rpa.ExecutionContext) (map[string]interface{}, error) {
		calls++
		return nil, errors.New("timeout")
	}
	d, _ := newTestDispatcher(h, nil, nil)
	ec := newTestContext()
	ec.ErrorHandling = rpa.ErrorHandling{MaxAttempts: 4}
	step := &rpa.Step{ID: "call", Type: rpa.StepAPICall, ErrorHandling: &rpa.ErrorHandling{MaxAttempts: 2}}
	if _, err := d.Execute(context.Background(), step, ec); err == nil {
		t.Fatal("expected error")
	}
	if have, want := calls, 2; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestProviderStepConfigurationErrors(t *testing.T) {
	fake := providertest.NewFake(rpa.ProviderAxiom)
	d, _ := newTestDispatcher(nil, provider.Registry{rpa.ProviderAxiom: fake}, nil)
	for _, test := range []struct {
		name string
		step *rpa.Step
	}{
		{"no integration", &rpa.Step{ID: "s", Type: rpa.StepBrowserAutomation}},
		{"unknown provider", &rpa.Step{ID: "s", Type: rpa.StepBrowserAutomation, Integration: &rpa.ProviderIntegration{Provider: rpa.ProviderZoho, ProviderBotID: "z"}}},
		{"no provider bot", &rpa.Step{ID: "s", Type: rpa.StepFormFilling, Integration: &rpa.ProviderIntegration{Provider: rpa.ProviderAxiom, TargetURL: "https://example.com"}}},
		{"no target", &rpa.Step{ID: "s", Type: rpa.StepWebScraping, Integration: &rpa.ProviderIntegration{Provider: rpa.ProviderAxiom, ProviderBotID: "a"}}},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := d.Execute(context.Background(), test.step, newTestContext())
			if !errors.Is(err, rpa.ErrConfiguration) {
				t.Errorf("expected configuration error, have: %v", err)
			}
		})
	}
	if have, want := fake.Runs(), 0; have != want {
		t.Errorf("provider runs: have: %v, want: %v", have, want)
	}
}

func TestRequiredStepInput(t *testing.T) {
	var calls int
	h := func(_ context.Context, _ *rpa.Step, ec *rpa.ExecutionContext) (map[string]interface{}, error) {
		calls++
		return map[string]interface{}{"region": ec.Variables["region"]}, nil
	}
	d, _ := newTestDispatcher(h, nil, nil)
	step := &rpa.Step{
		ID:   "call",
		Type: rpa.StepAPICall,
		Inputs: []rpa.Field{
			{Name: "region", Default: "us"},
			{Name: "account", Required: true},
		},
	}

	_, err := d.Execute(context.Background(), step, newTestContext())
	if !errors.Is(err, rpa.ErrValidation) {
		t.Errorf("expected validation error, have: %v", err)
	}
	if have, want := calls, 0; have != want {
		t.Errorf("calls: have: %v, want: %v", have, want)
	}

	ec := newTestContext()
	ec.Variables["account"] = "acme"
	res, err := d.Execute(context.Background(), step, ec)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := res.Output["region"], "us"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestStepTimeout(t *testing.T) {
	h := func(ctx context.Context, _ *rpa.Step, _ *rpa.ExecutionContext) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	d, _ := newTestDispatcher(h, nil, nil)
	step := &rpa.Step{ID: "call", Type: rpa.StepAPICall, Timeout: rpa.Duration(10 * time.Millisecond)}
	_, err := d.Execute(context.Background(), step, newTestContext())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, have: %v", err)
	}
}

func TestBrowserActionsExpanded(t *testing.T) {
	fake := providertest.NewFake(rpa.ProviderAxiom)
	var have []rpa.BrowserAction
	fake.BrowserFunc = func(_ string, actions []rpa.BrowserAction) (*provider.BrowserResult, error) {
		have = actions
		return &provider.BrowserResult{Success: true, ActionsExecuted: len(actions)}, nil
	}
	d, _ := newTestDispatcher(nil, provider.Registry{rpa.ProviderAxiom: fake}, nil)
	ec := newTestContext()
	ec.Variables["user"] = "jdoe"
	step := &rpa.Step{ID: "login", Type: rpa.StepBrowserAutomation, Integration: &rpa.ProviderIntegration{
		Provider:      rpa.ProviderAxiom,
		ProviderBotID: "axiom-bot-1",
		Actions: []rpa.BrowserAction{
			{Type: rpa.ActionNavigate, Target: "https://portal.example.com"},
			{Type: rpa.ActionInput, Target: "#user", Value: "${user}"},
		},
	}}
	res, err := d.Execute(context.Background(), step, ec)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := res.Output["actions_executed"], 2; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if len(have) != 2 || have[1].Value != "jdoe" {
		t.Errorf("unexpected actions: %v", have)
	}
	if have, want := step.Integration.Actions[1].Value, "${user}"; have != want {
		t.Errorf("step definition modified: have: %v, want: %v", have, want)
	}
}
