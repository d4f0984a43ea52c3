// Package logkeys defines some static logging keys for consistent structured logging output.
// Mostly exists as a mental aid when drafting log messages.
package logkeys

const (
	Message = "msg"
	Error   = "err"

	BotID      = "bot_id"
	WorkflowID = "workflow_id"
	TaskID     = "task_id"
	Industry   = "industry"
	Event      = "event"

	StepID   = "step_id"
	StepType = "step_type"
	Attempt  = "attempt"

	Provider      = "provider"
	ProviderBotID = "provider_bot_id"

	// a context-dependent numerical count/length of something
	GenericCount = "count"
)
