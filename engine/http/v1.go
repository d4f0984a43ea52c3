package http

import (
	"net/http"

	"github.com/micromdm/nanolib/log"
)

// APIEngine is the engine behind the API handlers.
type APIEngine interface {
	BotRegistrar
	BotRetriever
	BotStatusSetter
	WorkflowDeployer
	WorkflowRetriever
	WorkflowExecutor
	TaskRetriever
}

// Mux can register HTTP handlers.
// Ostensibly this supports flow router.
type Mux interface {
	// Handle registers the handler for the given pattern.
	Handle(pattern string, handler http.Handler, methods ...string)
}

// HandleAPIv1 registers the various API handlers into mux.
// API endpoint paths are prepended with prefix.
// Authentication or any other layered handlers are not present.
// They are assumed to be layered with mux, possibly at the Handle call.
// If prefix is empty and these handlers are used in sub-paths then
// handlers should have that sub-path stripped from the request.
// The logger is adorned with a "handler" key of the endpoint name.
func HandleAPIv1(prefix string, mux Mux, logger log.Logger, e APIEngine) {
	// bots

	mux.Handle(
		prefix+"/bots",
		RegisterBotHandler(e, logger.With("handler", "register bot")),
		"POST",
	)
	mux.Handle(
		prefix+"/bots",
		BotsHandler(e, logger.With("handler", "list bots")),
		"GET",
	)
	mux.Handle(
		prefix+"/bots/:id",
		BotHandler(e, logger.With("handler", "get bot")),
		"GET",
	)
	mux.Handle(
		prefix+"/bots/:id/status",
		BotStatusHandler(e, logger.With("handler", "set bot status")),
		"PUT",
	)
	mux.Handle(
		prefix+"/bots/:id/metrics",
		BotMetricsHandler(e, logger.With("handler", "bot metrics")),
		"GET",
	)

	// workflows

	mux.Handle(
		prefix+"/bots/:id/workflows",
		DeployWorkflowHandler(e, logger.With("handler", "deploy workflow")),
		"POST",
	)
	mux.Handle(
		prefix+"/bots/:id/workflows/:workflow/execute",
		ExecuteWorkflowHandler(e, logger.With("handler", "execute workflow")),
		"POST",
	)
	mux.Handle(
		prefix+"/workflows/:workflow",
		WorkflowHandler(e, logger.With("handler", "get workflow")),
		"GET",
	)

	// tasks

	mux.Handle(
		prefix+"/tasks/:id",
		TaskHandler(e, logger.With("handler", "get task")),
		"GET",
	)
}
