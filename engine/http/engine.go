// Package http contains HTTP handlers that work with the NanoRPA engine.
package http

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"

	"github.com/micromdm/nanorpa/engine"
	nanohttp "github.com/micromdm/nanorpa/http"
	"github.com/micromdm/nanorpa/http/api"
	"github.com/micromdm/nanorpa/log/logkeys"
	"github.com/micromdm/nanorpa/rpa"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
	"gopkg.in/yaml.v3"
)

type WorkflowDeployer interface {
	DeployWorkflow(ctx context.Context, botID string, w *rpa.Workflow) (*rpa.Workflow, error)
}

type WorkflowRetriever interface {
	Workflow(ctx context.Context, id string) (*rpa.Workflow, error)
}

type WorkflowExecutor interface {
	ExecuteWorkflow(ctx context.Context, botID, workflowID string, input map[string]interface{}) (*engine.Execution, error)
}

type TaskRetriever interface {
	Task(ctx context.Context, id string) (*rpa.Task, error)
}

// isYAML reports whether the content type is a YAML media type.
func isYAML(contentType string) bool {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return true
	}
	return false
}

// DeployWorkflowHandler creates a HandlerFunc that deploys a workflow to a bot.
// The workflow definition is decoded as YAML if the request content
// type is YAML and as JSON otherwise. The deployed workflow is
// returned with a 201 status.
func DeployWorkflowHandler(deployer WorkflowDeployer, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		botID := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.BotID, botID)

		body, err := nanohttp.ReadBody(r, 0)
		if err != nil {
			logger.Info(logkeys.Message, "reading body", logkeys.Error, err)
			api.JSONError(w, rpa.NewValidationError("reading body: %v", err), 0)
			return
		}

		wf := new(rpa.Workflow)
		if isYAML(r.Header.Get("Content-Type")) {
			err = yaml.Unmarshal(body, wf)
		} else {
			err = json.Unmarshal(body, wf)
		}
		if err != nil {
			logger.Info(logkeys.Message, "decoding workflow", logkeys.Error, err)
			api.JSONError(w, rpa.NewValidationError("decoding workflow: %v", err), 0)
			return
		}
		logger = logger.With(logkeys.WorkflowID, wf.ID)

		deployed, err := deployer.DeployWorkflow(r.Context(), botID, wf)
		if err != nil {
			logger.Info(logkeys.Message, "deploying workflow", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}

		logger.Debug(logkeys.Message, "deployed workflow")
		if err = api.JSON(w, deployed, http.StatusCreated); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// WorkflowHandler creates a HandlerFunc that returns a deployed workflow.
func WorkflowHandler(ret WorkflowRetriever, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "workflow")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.WorkflowID, id)
		wf, err := ret.Workflow(r.Context(), id)
		if err != nil {
			logger.Info(logkeys.Message, "retrieving workflow", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		if err = api.JSON(w, wf, 0); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// ExecuteWorkflowHandler creates a HandlerFunc that queues a workflow execution.
// The optional JSON body carries the task input in an "input" object.
// The task id and completion estimate are returned with a 202 status.
func ExecuteWorkflowHandler(executor WorkflowExecutor, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		botID := flow.Param(r.Context(), "id")
		workflowID := flow.Param(r.Context(), "workflow")
		logger := ctxlog.Logger(r.Context(), logger).With(
			logkeys.BotID, botID,
			logkeys.WorkflowID, workflowID,
		)

		body, err := nanohttp.ReadBody(r, 0)
		if err != nil {
			logger.Info(logkeys.Message, "reading body", logkeys.Error, err)
			api.JSONError(w, rpa.NewValidationError("reading body: %v", err), 0)
			return
		}
		req := &struct {
			Input map[string]interface{} `json:"input"`
		}{}
		if len(body) > 0 {
			if err = json.Unmarshal(body, req); err != nil {
				logger.Info(logkeys.Message, "decoding body", logkeys.Error, err)
				api.JSONError(w, rpa.NewValidationError("decoding body: %v", err), 0)
				return
			}
		}

		exec, err := executor.ExecuteWorkflow(r.Context(), botID, workflowID, req.Input)
		if err != nil {
			logger.Info(logkeys.Message, "executing workflow", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}

		logger.Debug(logkeys.Message, "queued workflow execution", logkeys.TaskID, exec.TaskID)
		if err = api.JSON(w, exec, http.StatusAccepted); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// TaskHandler creates a HandlerFunc that returns a task.
func TaskHandler(ret TaskRetriever, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.TaskID, id)
		task, err := ret.Task(r.Context(), id)
		if err != nil {
			logger.Info(logkeys.Message, "retrieving task", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		if err = api.JSON(w, task, 0); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}
