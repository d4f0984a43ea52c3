// Package trigger starts workflows from their schedule and event triggers.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/micromdm/nanorpa/engine"
	"github.com/micromdm/nanorpa/log/logkeys"
	"github.com/micromdm/nanorpa/rpa"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
	"github.com/robfig/cron/v3"
)

// Executor queues workflow executions.
type Executor interface {
	ExecuteWorkflow(ctx context.Context, botID, workflowID string, input map[string]interface{}) (*engine.Execution, error)
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(ctx context.Context, botID, workflowID string, input map[string]interface{}) (*engine.Execution, error)

func (f ExecutorFunc) ExecuteWorkflow(ctx context.Context, botID, workflowID string, input map[string]interface{}) (*engine.Execution, error) {
	return f(ctx, botID, workflowID, input)
}

// Source lists bots and their deployed workflows.
type Source interface {
	RetrieveBotsByIndustry(ctx context.Context, industry string) ([]*rpa.Bot, error)
	RetrieveWorkflow(ctx context.Context, id string) (*rpa.Workflow, error)
}

// Parser parses schedule specs: standard five field cron specs with
// optional leading seconds and descriptors such as "@every 5m".
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type subscription struct {
	key        string
	botID      string
	workflowID string
	input      map[string]interface{}
}

// Scheduler queues workflow executions for enabled schedule and event triggers.
// It is an engine deploy listener.
type Scheduler struct {
	exec   Executor
	logger log.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[string][]cron.EntryID
	events  map[string][]subscription
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a new scheduler.
func New(exec Executor, opts ...Option) *Scheduler {
	s := &Scheduler{
		exec:    exec,
		logger:  log.NopLogger,
		entries: make(map[string][]cron.EntryID),
		events:  make(map[string][]subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(cron.WithParser(Parser))
	return s
}

// Load registers the triggers of every workflow deployed to every bot.
func (s *Scheduler) Load(ctx context.Context, src Source) error {
	bots, err := src.RetrieveBotsByIndustry(ctx, "")
	if err != nil {
		return fmt.Errorf("retrieving bots: %w", err)
	}
	for _, bot := range bots {
		for _, id := range bot.Workflows {
			w, err := src.RetrieveWorkflow(ctx, id)
			if err != nil {
				return fmt.Errorf("retrieving workflow %s: %w", id, err)
			}
			s.WorkflowDeployed(ctx, bot.ID, w)
		}
	}
	return nil
}

// WorkflowDeployed replaces the triggers of w on bot botID.
// Invalid schedules are logged and skipped.
func (s *Scheduler) WorkflowDeployed(_ context.Context, botID string, w *rpa.Workflow) {
	key := botID + "/" + w.ID
	logger := s.logger.With(
		logkeys.BotID, botID,
		logkeys.WorkflowID, w.ID,
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.entries[key] {
		s.cron.Remove(id)
	}
	delete(s.entries, key)
	for event, subs := range s.events {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.key != key {
				kept = append(kept, sub)
			}
		}
		if len(kept) > 0 {
			s.events[event] = kept
		} else {
			delete(s.events, event)
		}
	}

	for _, t := range w.Triggers {
		if !t.Enabled {
			continue
		}
		switch t.Type {
		case rpa.TriggerSchedule:
			id, err := s.cron.AddJob(t.Schedule, s.job(logger, botID, w.ID, t.Input))
			if err != nil {
				logger.Info(logkeys.Message, "scheduling trigger", "schedule", t.Schedule, logkeys.Error, err)
				continue
			}
			s.entries[key] = append(s.entries[key], id)
			logger.Debug(logkeys.Message, "scheduled trigger", "schedule", t.Schedule)
		case rpa.TriggerEvent:
			s.events[t.Event] = append(s.events[t.Event], subscription{
				key:        key,
				botID:      botID,
				workflowID: w.ID,
				input:      t.Input,
			})
			logger.Debug(logkeys.Message, "subscribed trigger", logkeys.Event, t.Event)
		}
	}
}

func (s *Scheduler) job(logger log.Logger, botID, workflowID string, input map[string]interface{}) cron.FuncJob {
	return func() {
		exec, err := s.exec.ExecuteWorkflow(context.Background(), botID, workflowID, input)
		if err != nil {
			logger.Info(logkeys.Message, "scheduled execution", logkeys.Error, err)
			return
		}
		logger.Debug(logkeys.Message, "scheduled execution", logkeys.TaskID, exec.TaskID)
	}
}

// Fire queues an execution of every workflow subscribed to event.
// Keys of input override the trigger's static input.
// The returned executions are those successfully queued.
// An error wrapping rpa.ErrNotFound is returned if nothing is subscribed.
func (s *Scheduler) Fire(ctx context.Context, event string, input map[string]interface{}) ([]*engine.Execution, error) {
	s.mu.Lock()
	subs := append([]subscription(nil), s.events[event]...)
	s.mu.Unlock()

	if len(subs) < 1 {
		return nil, rpa.NewNotFoundError("event subscription", event)
	}

	logger := ctxlog.Logger(ctx, s.logger).With(logkeys.Event, event)
	var execs []*engine.Execution
	var errs []error
	for _, sub := range subs {
		merged := make(map[string]interface{}, len(sub.input)+len(input))
		for k, v := range sub.input {
			merged[k] = v
		}
		for k, v := range input {
			merged[k] = v
		}
		exec, err := s.exec.ExecuteWorkflow(ctx, sub.botID, sub.workflowID, merged)
		if err != nil {
			logger.Info(
				logkeys.Message, "event execution",
				logkeys.BotID, sub.botID,
				logkeys.WorkflowID, sub.workflowID,
				logkeys.Error, err,
			)
			errs = append(errs, fmt.Errorf("%s on bot %s: %w", sub.workflowID, sub.botID, err))
			continue
		}
		execs = append(execs, exec)
	}
	logger.Debug(logkeys.Message, "fired event", logkeys.GenericCount, len(execs))
	return execs, errors.Join(errs...)
}

// Entries returns the number of scheduled triggers.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Subscriptions returns the number of workflows subscribed to event.
func (s *Scheduler) Subscriptions(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events[event])
}

// Start starts the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler. The returned context is done once
// running jobs have completed.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
