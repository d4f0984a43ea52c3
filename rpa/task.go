package rpa

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned for an illegal task status change.
var ErrInvalidTransition = errors.New("invalid task status transition")

// TaskStatus is the status of a task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether s is a terminal status.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// StepStatus is the outcome of a single step execution.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepRecord is the recorded result of one step of a task.
type StepRecord struct {
	StepID    string                 `json:"step_id"`
	Name      string                 `json:"name,omitempty"`
	Type      StepType               `json:"type"`
	Status    StepStatus             `json:"status"`
	Output    map[string]interface{} `json:"output,omitempty"`
	Attempts  int                    `json:"attempts"`
	Error     string                 `json:"error,omitempty"`
	StartTime time.Time              `json:"start_time"`
	EndTime   time.Time              `json:"end_time"`
}

// Task is a single request to execute a workflow against a bot.
type Task struct {
	ID         string                 `json:"id"`
	BotID      string                 `json:"bot_id"`
	WorkflowID string                 `json:"workflow_id"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Status     TaskStatus             `json:"status"`

	QueuedAt  time.Time `json:"queued_at"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`

	// Results are in step execution order.
	Results []StepRecord `json:"results,omitempty"`
	Error   string       `json:"error,omitempty"`

	CompletedSteps int `json:"completed_steps"`
	TotalSteps     int `json:"total_steps"`
}

// Transition moves t to status to at time at.
// Only queued to running and running to a terminal status are allowed.
func (t *Task) Transition(to TaskStatus, at time.Time) error {
	switch {
	case t.Status == TaskQueued && to == TaskRunning:
		t.StartTime = at
	case t.Status == TaskRunning && to.Terminal():
		t.EndTime = at
	default:
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	return nil
}

// Duration returns the run time of a terminal task.
func (t *Task) Duration() time.Duration {
	if t.StartTime.IsZero() || t.EndTime.IsZero() {
		return 0
	}
	return t.EndTime.Sub(t.StartTime)
}
