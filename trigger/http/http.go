// Package http contains HTTP handlers for firing workflow events.
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/micromdm/nanorpa/engine"
	nanohttp "github.com/micromdm/nanorpa/http"
	"github.com/micromdm/nanorpa/http/api"
	"github.com/micromdm/nanorpa/log/logkeys"
	"github.com/micromdm/nanorpa/rpa"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// EventFirer queues executions of the workflows subscribed to an event.
type EventFirer interface {
	Fire(ctx context.Context, event string, input map[string]interface{}) ([]*engine.Execution, error)
}

type eventResponse struct {
	Executions []*engine.Execution `json:"executions"`
	Error      string              `json:"error,omitempty"`
}

// EventHandler fires the event named by the "event" URL parameter.
// The optional JSON body is of the form {"input": {...}}.
// Partially queued events are reported with their error.
func EventHandler(firer EventFirer, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event := flow.Param(r.Context(), "event")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.Event, event)
		if event == "" {
			api.JSONError(w, rpa.NewValidationError("missing event"), 0)
			return
		}

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

		execs, err := firer.Fire(r.Context(), event, req.Input)
		if err != nil && len(execs) < 1 {
			logger.Info(logkeys.Message, "firing event", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		resp := &eventResponse{Executions: execs}
		if err != nil {
			logger.Info(logkeys.Message, "firing event", logkeys.Error, err)
			resp.Error = err.Error()
		}

		logger.Debug(logkeys.Message, "fired event", logkeys.GenericCount, len(execs))
		if err = api.JSON(w, resp, http.StatusAccepted); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}
