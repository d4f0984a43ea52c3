package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/micromdm/nanorpa/log/logkeys"
	"github.com/micromdm/nanorpa/rpa"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// RunTask runs the queued task id to a terminal status.
// Steps run in order and the first failed step fails the task.
func (e *Engine) RunTask(ctx context.Context, id string) error {
	task, err := e.storage.RetrieveTask(ctx, id)
	if err != nil {
		return fmt.Errorf("retrieving task: %w", err)
	}
	logger := ctxlog.Logger(ctx, e.logger).With(
		logkeys.TaskID, task.ID,
		logkeys.BotID, task.BotID,
		logkeys.WorkflowID, task.WorkflowID,
	)
	if err = task.Transition(rpa.TaskRunning, e.now()); err != nil {
		return logAndError(err, logger, "starting task")
	}
	if err = e.storage.StoreTask(ctx, task); err != nil {
		return logAndError(err, logger, "storing task")
	}

	w, err := e.taskWorkflow(ctx, task)
	if err != nil {
		task.Error = err.Error()
		return e.finish(ctx, task, rpa.TaskFailed)
	}

	ec := rpa.NewExecutionContext(task, w)
	status := rpa.TaskCompleted
	for i := range w.Steps {
		step := &w.Steps[i]
		rec := rpa.StepRecord{
			StepID:    step.ID,
			Name:      step.Name,
			Type:      step.Type,
			StartTime: e.now(),
		}
		res, err := e.dispatcher.Execute(ctx, step, ec)
		rec.EndTime = e.now()
		if err != nil {
			rec.Status = rpa.StepFailed
			rec.Error = err.Error()
			var f *StepFailure
			if errors.As(err, &f) {
				rec.Attempts = f.Attempts
				rec.Error = f.Err.Error()
			}
			task.Results = append(task.Results, rec)
			e.stepFinished(ctx, task, &task.Results[len(task.Results)-1])
			task.Error = fmt.Sprintf("step %s: %s", step.ID, rec.Error)
			status = rpa.TaskFailed
			break
		}
		ec.Merge(step.ID, res.Output)
		rec.Status = rpa.StepCompleted
		rec.Output = res.Output
		rec.Attempts = res.Attempts
		task.Results = append(task.Results, rec)
		task.CompletedSteps++
		e.stepFinished(ctx, task, &task.Results[len(task.Results)-1])

		if err = e.storage.StoreTask(ctx, task); err != nil {
			logger.Info(logkeys.Message, "storing task progress", logkeys.Error, err)
		}
	}
	return e.finish(ctx, task, status)
}

// taskWorkflow returns the workflow of task if its bot is active.
func (e *Engine) taskWorkflow(ctx context.Context, task *rpa.Task) (*rpa.Workflow, error) {
	bot, err := e.storage.RetrieveBot(ctx, task.BotID)
	if err != nil {
		return nil, err
	}
	if bot.Status != rpa.BotActive {
		return nil, rpa.NewValidationError("bot %s is %s", bot.ID, bot.Status)
	}
	return e.storage.RetrieveWorkflow(ctx, task.WorkflowID)
}

func (e *Engine) stepFinished(ctx context.Context, task *rpa.Task, rec *rpa.StepRecord) {
	for _, o := range e.observers {
		o.StepFinished(ctx, task, rec)
	}
}

// finish moves the running task to status, stores it and updates the
// bot and workflow metrics.
func (e *Engine) finish(ctx context.Context, task *rpa.Task, status rpa.TaskStatus) error {
	logger := ctxlog.Logger(ctx, e.logger).With(
		logkeys.TaskID, task.ID,
		logkeys.BotID, task.BotID,
		logkeys.WorkflowID, task.WorkflowID,
	)
	if err := task.Transition(status, e.now()); err != nil {
		return logAndError(err, logger, "finishing task")
	}
	if err := e.storage.StoreTask(ctx, task); err != nil {
		return logAndError(err, logger, "storing task")
	}
	bot, err := e.recordMetrics(ctx, task)
	if err != nil {
		logger.Info(logkeys.Message, "recording metrics", logkeys.Error, err)
	}
	for _, o := range e.observers {
		o.TaskFinished(ctx, task, bot)
	}

	logger = logger.With(
		logkeys.Message, "task finished",
		"status", task.Status,
		logkeys.GenericCount, task.CompletedSteps,
		"duration", task.Duration(),
	)
	if task.Status == rpa.TaskFailed {
		logger.Info(logkeys.Error, task.Error)
	} else {
		logger.Debug()
	}
	return nil
}
