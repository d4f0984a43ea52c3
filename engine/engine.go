// Package engine implements the NanoRPA orchestration engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/micromdm/nanorpa/compliance"
	"github.com/micromdm/nanorpa/engine/steps"
	"github.com/micromdm/nanorpa/engine/storage"
	"github.com/micromdm/nanorpa/log/logkeys"
	"github.com/micromdm/nanorpa/provider"
	"github.com/micromdm/nanorpa/rpa"
	"github.com/micromdm/nanorpa/utils/uuid"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// DefaultStepEstimate is the per-step time used to estimate task completion.
const DefaultStepEstimate = time.Second

// DefaultBotVersion is the version of newly registered bots.
const DefaultBotVersion = "1.0.0"

// ComplianceGate validates workflows against industry compliance rules.
type ComplianceGate interface {
	Validate(ctx context.Context, w *rpa.Workflow, industry string) (*rpa.ComplianceSettings, error)
	Regulated(industry string) bool
}

// Observer is notified of step and task outcomes.
type Observer interface {
	StepFinished(ctx context.Context, task *rpa.Task, rec *rpa.StepRecord)
	TaskFinished(ctx context.Context, task *rpa.Task, bot *rpa.Bot)
}

// DeployListener is notified of workflow deployments.
type DeployListener interface {
	WorkflowDeployed(ctx context.Context, botID string, w *rpa.Workflow)
}

// Execution is an accepted workflow execution request.
type Execution struct {
	TaskID              string    `json:"task_id"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// Engine registers bots, deploys workflows and executes tasks.
type Engine struct {
	// mu serializes read-modify-write of bots and workflows.
	mu sync.Mutex

	storage   storage.AllStorage
	gate      ComplianceGate
	providers provider.Registry
	builtins  *steps.Builtins
	overrides map[rpa.StepType]steps.Handler
	notifiers map[string]Notifier
	observers []Observer
	listeners []DeployListener

	// pending holds provider bots created for deployments not yet stored.
	pending map[string]string

	dispatcher *Dispatcher
	queue      *Queue

	logger log.Logger
	ider   uuid.IDer
	now    func() time.Time

	stepEstimate time.Duration
	backoffSleep func(context.Context, time.Duration) error
}

// Options configure the engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithComplianceGate sets the deployment compliance gate.
func WithComplianceGate(gate ComplianceGate) Option {
	return func(e *Engine) {
		e.gate = gate
	}
}

// WithProviders sets the provider adapters.
func WithProviders(providers provider.Registry) Option {
	return func(e *Engine) {
		e.providers = providers
	}
}

// WithBuiltins sets the built-in step handlers.
func WithBuiltins(b *steps.Builtins) Option {
	return func(e *Engine) {
		e.builtins = b
	}
}

// WithStepHandler replaces the handler of a step type.
func WithStepHandler(t rpa.StepType, h steps.Handler) Option {
	return func(e *Engine) {
		e.overrides[t] = h
	}
}

// WithNotifier registers n for the fallback action named action.
func WithNotifier(action string, n Notifier) Option {
	return func(e *Engine) {
		e.notifiers[action] = n
	}
}

// WithObserver adds an observer of step and task outcomes.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

// WithDeployListener adds a listener for workflow deployments.
func WithDeployListener(l DeployListener) Option {
	return func(e *Engine) {
		e.listeners = append(e.listeners, l)
	}
}

// WithStepEstimate sets the per-step completion estimate.
func WithStepEstimate(d time.Duration) Option {
	return func(e *Engine) {
		e.stepEstimate = d
	}
}

// WithIDer sets the task and bot id generator.
func WithIDer(ider uuid.IDer) Option {
	return func(e *Engine) {
		e.ider = ider
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithBackoffSleep sets the function used to wait between step attempts.
func WithBackoffSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Engine) {
		e.backoffSleep = fn
	}
}

// New creates a new engine with default configurations.
func New(storage storage.AllStorage, opts ...Option) *Engine {
	e := &Engine{
		storage:      storage,
		providers:    provider.Registry{},
		overrides:    make(map[rpa.StepType]steps.Handler),
		notifiers:    make(map[string]Notifier),
		pending:      make(map[string]string),
		queue:        NewQueue(),
		logger:       log.NopLogger,
		ider:         uuid.NewUUID(),
		now:          time.Now,
		stepEstimate: DefaultStepEstimate,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.gate == nil {
		e.gate = compliance.New(compliance.WithLogger(e.logger))
	}
	if e.builtins == nil {
		e.builtins = steps.New(steps.WithLogger(e.logger))
	}
	e.dispatcher = NewDispatcher(e.builtins.Handlers(), e.providers, e.notifiers, e.logger)
	for t, h := range e.overrides {
		e.dispatcher.handlers[t] = h
	}
	if e.backoffSleep != nil {
		e.dispatcher.sleep = e.backoffSleep
	}
	return e
}

// Queue returns the queue of task ids waiting to run.
func (e *Engine) Queue() *Queue {
	return e.queue
}

func logAndError(err error, logger log.Logger, msg string) error {
	logger.Info(
		logkeys.Message, msg,
		logkeys.Error, err,
	)
	return fmt.Errorf("%s: %w", msg, err)
}

// RegisterBot creates a new active bot for industry.
// Compliance mode is derived from whether the industry is regulated.
func (e *Engine) RegisterBot(ctx context.Context, name, industry string, cfg rpa.BotConfig) (*rpa.Bot, error) {
	if name == "" {
		return nil, rpa.NewValidationError("missing bot name")
	}
	if industry == "" {
		return nil, rpa.NewValidationError("missing bot industry")
	}
	cfg.ComplianceMode = e.gate.Regulated(industry)
	if cfg.ComplianceMode {
		cfg.Encryption = true
		cfg.AuditLogging = true
	}
	bot := &rpa.Bot{
		ID:        e.ider.ID("bot"),
		Name:      name,
		Industry:  industry,
		Status:    rpa.BotActive,
		Config:    cfg,
		Version:   DefaultBotVersion,
		CreatedAt: e.now(),
	}
	logger := ctxlog.Logger(ctx, e.logger).With(
		logkeys.BotID, bot.ID,
		logkeys.Industry, industry,
	)
	if err := e.storage.StoreBot(ctx, bot); err != nil {
		return nil, logAndError(err, logger, "storing bot")
	}
	logger.Debug(logkeys.Message, "registered bot", "compliance_mode", cfg.ComplianceMode)
	return bot, nil
}

// Bot returns the bot with id.
func (e *Engine) Bot(ctx context.Context, id string) (*rpa.Bot, error) {
	return e.storage.RetrieveBot(ctx, id)
}

// BotsByIndustry returns the bots of industry in creation order.
func (e *Engine) BotsByIndustry(ctx context.Context, industry string) ([]*rpa.Bot, error) {
	return e.storage.RetrieveBotsByIndustry(ctx, industry)
}

// BotMetrics returns the performance metrics of bot id.
func (e *Engine) BotMetrics(ctx context.Context, id string) (*rpa.PerformanceMetrics, error) {
	bot, err := e.storage.RetrieveBot(ctx, id)
	if err != nil {
		return nil, err
	}
	return &bot.Metrics, nil
}

// SetBotStatus changes the status of bot id.
func (e *Engine) SetBotStatus(ctx context.Context, id string, status rpa.BotStatus) (*rpa.Bot, error) {
	if !status.Valid() {
		return nil, rpa.NewValidationError("invalid bot status: %q", status)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	bot, err := e.storage.RetrieveBot(ctx, id)
	if err != nil {
		return nil, err
	}
	bot.Status = status
	if err = e.storage.StoreBot(ctx, bot); err != nil {
		return nil, err
	}
	return bot, nil
}

// Workflow returns the deployed workflow with id.
func (e *Engine) Workflow(ctx context.Context, id string) (*rpa.Workflow, error) {
	return e.storage.RetrieveWorkflow(ctx, id)
}

// newDeployment copies the definition of w.
// Compliance settings and provider bots are assigned by deployment
// and are never taken from w.
func newDeployment(w *rpa.Workflow) *rpa.Workflow {
	c := *w
	c.Steps = make([]rpa.Step, len(w.Steps))
	copy(c.Steps, w.Steps)
	for i := range c.Steps {
		if in := c.Steps[i].Integration; in != nil {
			inCopy := *in
			inCopy.ProviderBotID = ""
			c.Steps[i].Integration = &inCopy
		}
	}
	c.ProviderBots = make(map[rpa.ProviderKind]string)
	c.ComplianceSettings = nil
	c.CreatedAt = time.Time{}
	return &c
}

// DeployWorkflow attaches w to bot botID.
// The workflow is validated and compliance-gated against the bot's
// industry. Each provider kind its steps use gets one provider bot,
// shared by all of its steps. Nothing is stored if any of this fails,
// and a retry reuses the provider bots the failed attempt created.
// A workflow id that is already deployed keeps its stored definition,
// compliance settings and provider bots.
func (e *Engine) DeployWorkflow(ctx context.Context, botID string, w *rpa.Workflow) (*rpa.Workflow, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	logger := ctxlog.Logger(ctx, e.logger).With(
		logkeys.BotID, botID,
		logkeys.WorkflowID, w.ID,
	)

	e.mu.Lock()
	defer e.mu.Unlock()

	bot, err := e.storage.RetrieveBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	logger = logger.With(logkeys.Industry, bot.Industry)

	var deployed *rpa.Workflow
	if existing, err := e.storage.RetrieveWorkflow(ctx, w.ID); err == nil {
		logger.Debug(logkeys.Message, "workflow already deployed")
		deployed = existing
	} else if errors.Is(err, rpa.ErrNotFound) {
		deployed = newDeployment(w)
	} else {
		return nil, logAndError(err, logger, "retrieving workflow")
	}

	settings, err := e.gate.Validate(ctx, deployed, bot.Industry)
	if err != nil {
		return nil, err
	}
	if deployed.ComplianceSettings == nil {
		deployed.ComplianceSettings = settings
	}

	if err = e.provision(ctx, logger, deployed, bot); err != nil {
		return nil, err
	}

	if deployed.CreatedAt.IsZero() {
		deployed.CreatedAt = e.now()
	}
	if !bot.HasWorkflow(deployed.ID) {
		bot.Workflows = append(bot.Workflows, deployed.ID)
	}
	if err = e.storage.StoreDeployment(ctx, deployed, bot); err != nil {
		return nil, logAndError(err, logger, "storing deployment")
	}
	for _, kind := range deployed.ProviderKinds() {
		delete(e.pending, pendingKey(deployed.ID, kind))
	}
	logger.Debug(
		logkeys.Message, "deployed workflow",
		logkeys.GenericCount, len(deployed.Steps),
	)
	for _, l := range e.listeners {
		l.WorkflowDeployed(ctx, bot.ID, deployed)
	}
	return deployed, nil
}

func pendingKey(workflowID string, kind rpa.ProviderKind) string {
	return workflowID + "/" + string(kind)
}

// provision creates the missing provider bots of w and points its
// provider-backed steps at them.
// Created bots are remembered until the deployment is stored so that
// a retried deployment reuses them.
func (e *Engine) provision(ctx context.Context, logger log.Logger, w *rpa.Workflow, bot *rpa.Bot) error {
	if w.ProviderBots == nil {
		w.ProviderBots = make(map[rpa.ProviderKind]string)
	}
	for _, kind := range w.ProviderKinds() {
		if w.ProviderBots[kind] != "" {
			continue
		}
		if id, ok := e.pending[pendingKey(w.ID, kind)]; ok {
			w.ProviderBots[kind] = id
			logger.Debug(
				logkeys.Message, "reusing provider bot",
				logkeys.Provider, kind,
				logkeys.ProviderBotID, id,
			)
			continue
		}
		adapter, err := e.providers.Adapter(kind)
		if err != nil {
			return err
		}
		spec := provider.BotSpec{
			Name:        w.Name,
			Description: w.Description,
			WorkflowID:  w.ID,
		}
		id, err := adapter.CreateAutomationBot(ctx, spec, bot.Industry)
		if err != nil {
			return logAndError(err, logger.With(logkeys.Provider, kind), "creating provider bot")
		}
		w.ProviderBots[kind] = id
		e.pending[pendingKey(w.ID, kind)] = id
		logger.Debug(
			logkeys.Message, "created provider bot",
			logkeys.Provider, kind,
			logkeys.ProviderBotID, id,
		)
	}
	for i := range w.Steps {
		if in := w.Steps[i].Integration; in != nil && w.Steps[i].Type.ProviderBacked() {
			in.ProviderBotID = w.ProviderBots[in.Provider]
		}
	}
	return nil
}

// ExecuteWorkflow queues a task running workflow workflowID on bot botID.
func (e *Engine) ExecuteWorkflow(ctx context.Context, botID, workflowID string, input map[string]interface{}) (*Execution, error) {
	bot, err := e.storage.RetrieveBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	if !bot.HasWorkflow(workflowID) {
		return nil, fmt.Errorf("%w: workflow %s is not deployed to bot %s", rpa.ErrNotFound, workflowID, botID)
	}
	w, err := e.storage.RetrieveWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if err = w.ValidateInput(input); err != nil {
		return nil, err
	}

	now := e.now()
	task := &rpa.Task{
		ID:         e.ider.ID("task"),
		BotID:      botID,
		WorkflowID: workflowID,
		Input:      input,
		Status:     rpa.TaskQueued,
		QueuedAt:   now,
		TotalSteps: len(w.Steps),
	}
	logger := ctxlog.Logger(ctx, e.logger).With(
		logkeys.TaskID, task.ID,
		logkeys.BotID, botID,
		logkeys.WorkflowID, workflowID,
	)
	if err = e.storage.StoreTask(ctx, task); err != nil {
		return nil, logAndError(err, logger, "storing task")
	}
	e.queue.Enqueue(task.ID)
	logger.Debug(logkeys.Message, "queued task")

	return &Execution{
		TaskID:              task.ID,
		EstimatedCompletion: now.Add(time.Duration(len(w.Steps)) * e.stepEstimate),
	}, nil
}

// Task returns the task with id.
func (e *Engine) Task(ctx context.Context, id string) (*rpa.Task, error) {
	return e.storage.RetrieveTask(ctx, id)
}

// Recover restores the queue from storage after a restart.
// Queued tasks are re-enqueued in queue order. Tasks left running
// are failed as interrupted.
func (e *Engine) Recover(ctx context.Context) error {
	logger := ctxlog.Logger(ctx, e.logger)

	running, err := e.storage.RetrieveTasksByStatus(ctx, rpa.TaskRunning)
	if err != nil {
		return logAndError(err, logger, "retrieving running tasks")
	}
	for _, task := range running {
		task.Error = "interrupted by restart"
		if err = e.finish(ctx, task, rpa.TaskFailed); err != nil {
			logger.Info(logkeys.Message, "failing interrupted task", logkeys.TaskID, task.ID, logkeys.Error, err)
		}
	}

	queued, err := e.storage.RetrieveTasksByStatus(ctx, rpa.TaskQueued)
	if err != nil {
		return logAndError(err, logger, "retrieving queued tasks")
	}
	for _, task := range queued {
		e.queue.Enqueue(task.ID)
	}
	if len(running)+len(queued) > 0 {
		logger.Info(
			logkeys.Message, "recovered tasks",
			"queued", len(queued),
			"interrupted", len(running),
		)
	}
	return nil
}
