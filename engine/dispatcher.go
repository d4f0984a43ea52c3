package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/micromdm/nanorpa/engine/steps"
	"github.com/micromdm/nanorpa/log/logkeys"
	"github.com/micromdm/nanorpa/provider"
	"github.com/micromdm/nanorpa/rpa"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// StepResult is the outcome of a successful step.
type StepResult struct {
	Output   map[string]interface{}
	Attempts int
}

// StepFailure is the outcome of a step that failed for good.
type StepFailure struct {
	StepID string

	// Err is the error of the first failed attempt.
	Err error

	// Last is the error of the final attempt.
	Last error

	Attempts int
}

func (f *StepFailure) Error() string {
	return fmt.Sprintf("step %s failed after %d attempt(s): %v", f.StepID, f.Attempts, f.Err)
}

func (f *StepFailure) Unwrap() error {
	return f.Err
}

// Escalation describes a step failure handed to a fallback action.
type Escalation struct {
	Action     string
	TaskID     string
	BotID      string
	WorkflowID string
	StepID     string
	StepType   rpa.StepType
	Attempts   int
	Err        error
}

// Notifier runs a fallback action.
type Notifier interface {
	Notify(ctx context.Context, esc *Escalation) error
}

// policy is the resolved retry and escalation policy of a step.
type policy struct {
	maxAttempts int
	delay       time.Duration
	multiplier  float64
	fallback    string
	notify      bool
}

// resolvePolicy resolves the policy of step.
// The step's error handling overrides the workflow default and the
// step's retry policy overrides the attempt and backoff settings of both.
func resolvePolicy(step *rpa.Step, defaults rpa.ErrorHandling) policy {
	eh := defaults
	if step.ErrorHandling != nil {
		eh = *step.ErrorHandling
	}
	p := policy{
		maxAttempts: eh.MaxAttempts,
		delay:       eh.Delay.Std(),
		multiplier:  eh.BackoffMultiplier,
		fallback:    eh.FallbackAction,
		notify:      eh.NotificationEnabled,
	}
	if rp := step.RetryPolicy; rp != nil && rp.MaxAttempts > 0 {
		p.maxAttempts = rp.MaxAttempts
		p.delay = rp.Delay.Std()
		p.multiplier = rp.BackoffMultiplier
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	if p.multiplier <= 0 {
		p.multiplier = 1
	}
	return p
}

// backoff returns the wait after failed attempt n.
func (p policy) backoff(n int) time.Duration {
	return time.Duration(float64(p.delay) * math.Pow(p.multiplier, float64(n-1)))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatcher runs steps through a static table of handlers keyed by step type.
type Dispatcher struct {
	handlers  map[rpa.StepType]steps.Handler
	providers provider.Registry
	notifiers map[string]Notifier
	logger    log.Logger
	sleep     func(context.Context, time.Duration) error
}

// NewDispatcher creates a new dispatcher.
// Provider-backed step types are handled through providers. The
// remaining types are handled by handlers.
func NewDispatcher(handlers map[rpa.StepType]steps.Handler, providers provider.Registry, notifiers map[string]Notifier, logger log.Logger) *Dispatcher {
	d := &Dispatcher{
		handlers:  make(map[rpa.StepType]steps.Handler),
		providers: providers,
		notifiers: notifiers,
		logger:    logger,
		sleep:     sleep,
	}
	if d.logger == nil {
		d.logger = log.NopLogger
	}
	for t, h := range handlers {
		d.handlers[t] = h
	}
	d.handlers[rpa.StepBrowserAutomation] = d.browserAutomation
	d.handlers[rpa.StepWebScraping] = d.webScraping
	d.handlers[rpa.StepFormFilling] = d.formFilling
	return d
}

// Execute runs step against ec, retrying retryable failures per the step policy.
// A failed step returns a *StepFailure.
func (d *Dispatcher) Execute(ctx context.Context, step *rpa.Step, ec *rpa.ExecutionContext) (*StepResult, error) {
	logger := ctxlog.Logger(ctx, d.logger).With(
		logkeys.TaskID, ec.TaskID,
		logkeys.StepID, step.ID,
		logkeys.StepType, step.Type,
	)
	p := resolvePolicy(step, ec.ErrorHandling)

	handler, err := d.handler(step)
	if err == nil {
		err = prepareInputs(step, ec)
	}
	if err != nil {
		return nil, d.fail(ctx, logger, p, step, ec, &StepFailure{StepID: step.ID, Err: err, Last: err, Attempts: 1})
	}

	var first, last error
	attempt := 1
	for {
		out, err := d.invoke(ctx, handler, step, ec)
		if err == nil {
			if attempt > 1 {
				logger.Debug(logkeys.Message, "step succeeded after retry", logkeys.Attempt, attempt)
			}
			return &StepResult{Output: out, Attempts: attempt}, nil
		}
		if first == nil {
			first = err
		}
		last = err
		logger.Info(
			logkeys.Message, "step attempt failed",
			logkeys.Attempt, attempt,
			logkeys.Error, err,
		)
		if attempt >= p.maxAttempts || !rpa.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		if err = d.sleep(ctx, p.backoff(attempt)); err != nil {
			break
		}
		attempt++
	}
	return nil, d.fail(ctx, logger, p, step, ec, &StepFailure{StepID: step.ID, Err: first, Last: last, Attempts: attempt})
}

// fail runs the fallback action of p for f if notification is enabled.
func (d *Dispatcher) fail(ctx context.Context, logger log.Logger, p policy, step *rpa.Step, ec *rpa.ExecutionContext, f *StepFailure) error {
	if !p.notify {
		return f
	}
	n, ok := d.notifiers[p.fallback]
	if !ok || n == nil {
		logger.Info(logkeys.Message, "no notifier for fallback action", "action", p.fallback)
		return f
	}
	esc := &Escalation{
		Action:     p.fallback,
		TaskID:     ec.TaskID,
		BotID:      ec.BotID,
		WorkflowID: ec.WorkflowID,
		StepID:     step.ID,
		StepType:   step.Type,
		Attempts:   f.Attempts,
		Err:        f.Err,
	}
	if err := n.Notify(ctx, esc); err != nil {
		logger.Info(logkeys.Message, "fallback action", "action", p.fallback, logkeys.Error, err)
	}
	return f
}

// handler returns the handler for the step type.
func (d *Dispatcher) handler(step *rpa.Step) (steps.Handler, error) {
	h, ok := d.handlers[step.Type]
	if !ok || h == nil {
		return nil, rpa.NewConfigurationError("step %s: no handler for step type: %s", step.ID, step.Type)
	}
	return h, nil
}

// prepareInputs checks the declared inputs of step against the
// variables and fills in declared defaults.
func prepareInputs(step *rpa.Step, ec *rpa.ExecutionContext) error {
	for _, in := range step.Inputs {
		if _, ok := ec.Variables[in.Name]; ok {
			continue
		}
		if in.Default != nil {
			ec.Variables[in.Name] = in.Default
		} else if in.Required {
			return rpa.NewValidationError("step %s: missing required input: %s", step.ID, in.Name)
		}
	}
	return nil
}

// invoke runs one attempt of h within the step timeout.
func (d *Dispatcher) invoke(ctx context.Context, h steps.Handler, step *rpa.Step, ec *rpa.ExecutionContext) (out map[string]interface{}, err error) {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout.Std())
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("step %s: handler panic: %v", step.ID, r)
		}
	}()
	out, err = h(ctx, step, ec)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && step.Timeout > 0 {
		err = fmt.Errorf("step %s: timed out after %s: %w", step.ID, step.Timeout, err)
	}
	return
}

// adapter returns the adapter and provider bot id for a provider-backed step.
func (d *Dispatcher) adapter(step *rpa.Step) (provider.Adapter, *rpa.ProviderIntegration, error) {
	in := step.Integration
	if in == nil {
		return nil, nil, rpa.NewConfigurationError("step %s: %s step without provider integration", step.ID, step.Type)
	}
	a, err := d.providers.Adapter(in.Provider)
	if err != nil {
		return nil, nil, fmt.Errorf("step %s: %w", step.ID, err)
	}
	if in.ProviderBotID == "" {
		return nil, nil, rpa.NewConfigurationError("step %s: no %s bot provisioned", step.ID, in.Provider)
	}
	return a, in, nil
}

func (d *Dispatcher) browserAutomation(ctx context.Context, step *rpa.Step, ec *rpa.ExecutionContext) (map[string]interface{}, error) {
	a, in, err := d.adapter(step)
	if err != nil {
		return nil, err
	}
	actions := make([]rpa.BrowserAction, len(in.Actions))
	for i, action := range in.Actions {
		action.Target = ec.Expand(action.Target)
		action.Value = ec.Expand(action.Value)
		actions[i] = action
	}
	res, err := a.RunBrowserActions(ctx, in.ProviderBotID, actions)
	if err != nil {
		return nil, err
	}
	return res.Output(in.Provider)
}

func (d *Dispatcher) webScraping(ctx context.Context, step *rpa.Step, ec *rpa.ExecutionContext) (map[string]interface{}, error) {
	a, in, err := d.adapter(step)
	if err != nil {
		return nil, err
	}
	target := ec.Expand(in.TargetURL)
	if target == "" {
		return nil, rpa.NewConfigurationError("step %s: missing target url", step.ID)
	}
	res, err := a.RunScrape(ctx, in.ProviderBotID, target, in.Selectors)
	if err != nil {
		return nil, err
	}
	return res.Output(in.Provider)
}

func (d *Dispatcher) formFilling(ctx context.Context, step *rpa.Step, ec *rpa.ExecutionContext) (map[string]interface{}, error) {
	a, in, err := d.adapter(step)
	if err != nil {
		return nil, err
	}
	target := ec.Expand(in.TargetURL)
	if target == "" {
		return nil, rpa.NewConfigurationError("step %s: missing target url", step.ID)
	}
	form := make([]rpa.FormField, len(in.Form))
	for i, field := range in.Form {
		field.Value = ec.Expand(field.Value)
		form[i] = field
	}
	res, err := a.RunFormFill(ctx, in.ProviderBotID, target, form)
	if err != nil {
		return nil, err
	}
	return res.Output(in.Provider)
}
