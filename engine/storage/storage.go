// Package storage defines types and primitives for orchestrator storage backends.
package storage

import (
	"context"

	"github.com/micromdm/nanorpa/rpa"
)

// Storage backends return errors wrapping rpa.ErrNotFound for unknown ids.

// BotStorage stores bots.
type BotStorage interface {
	StoreBot(ctx context.Context, bot *rpa.Bot) error
	RetrieveBot(ctx context.Context, id string) (*rpa.Bot, error)

	// RetrieveBotsByIndustry returns the bots of industry ordered by
	// creation time. An empty industry returns all bots.
	RetrieveBotsByIndustry(ctx context.Context, industry string) ([]*rpa.Bot, error)
}

// WorkflowStorage stores deployed workflows.
type WorkflowStorage interface {
	RetrieveWorkflow(ctx context.Context, id string) (*rpa.Workflow, error)

	// RetrieveWorkflows returns all deployed workflows ordered by id.
	RetrieveWorkflows(ctx context.Context) ([]*rpa.Workflow, error)

	// StoreWorkflow updates a workflow, e.g. its metrics.
	StoreWorkflow(ctx context.Context, w *rpa.Workflow) error
}

// DeploymentStorage stores a workflow together with the bot it is deployed to.
type DeploymentStorage interface {
	// StoreDeployment stores w and bot together. Either both are stored or neither is.
	StoreDeployment(ctx context.Context, w *rpa.Workflow, bot *rpa.Bot) error
}

// TaskStorage stores tasks.
type TaskStorage interface {
	StoreTask(ctx context.Context, t *rpa.Task) error
	RetrieveTask(ctx context.Context, id string) (*rpa.Task, error)

	// RetrieveTasksByStatus returns tasks with status ordered by queued time.
	RetrieveTasksByStatus(ctx context.Context, status rpa.TaskStatus) ([]*rpa.Task, error)
}

type AllStorage interface {
	BotStorage
	WorkflowStorage
	DeploymentStorage
	TaskStorage
}
