package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/micromdm/nanorpa/http/api"
	"github.com/micromdm/nanorpa/log/logkeys"
	"github.com/micromdm/nanorpa/rpa"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

type BotRegistrar interface {
	RegisterBot(ctx context.Context, name, industry string, cfg rpa.BotConfig) (*rpa.Bot, error)
}

type BotRetriever interface {
	Bot(ctx context.Context, id string) (*rpa.Bot, error)
	BotsByIndustry(ctx context.Context, industry string) ([]*rpa.Bot, error)
}

type BotStatusSetter interface {
	SetBotStatus(ctx context.Context, id string, status rpa.BotStatus) (*rpa.Bot, error)
}

// RegisterBotHandler creates a HandlerFunc that registers a new bot.
// The bot is returned with a 201 status.
func RegisterBotHandler(reg BotRegistrar, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)

		req := &struct {
			Name     string        `json:"name"`
			Industry string        `json:"industry"`
			Config   rpa.BotConfig `json:"config"`
		}{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			logger.Info(logkeys.Message, "decoding body", logkeys.Error, err)
			api.JSONError(w, rpa.NewValidationError("decoding body: %v", err), 0)
			return
		}

		bot, err := reg.RegisterBot(r.Context(), req.Name, req.Industry, req.Config)
		if err != nil {
			logger.Info(logkeys.Message, "registering bot", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}

		logger.Debug(logkeys.Message, "registered bot", logkeys.BotID, bot.ID)
		if err = api.JSON(w, bot, http.StatusCreated); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// BotsHandler creates a HandlerFunc that lists bots.
// The "industry" query parameter filters by industry.
func BotsHandler(ret BotRetriever, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		bots, err := ret.BotsByIndustry(r.Context(), r.URL.Query().Get("industry"))
		if err != nil {
			logger.Info(logkeys.Message, "retrieving bots", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		if bots == nil {
			bots = []*rpa.Bot{}
		}
		if err = api.JSON(w, bots, 0); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// BotHandler creates a HandlerFunc that returns a bot.
func BotHandler(ret BotRetriever, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.BotID, id)
		bot, err := ret.Bot(r.Context(), id)
		if err != nil {
			logger.Info(logkeys.Message, "retrieving bot", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		if err = api.JSON(w, bot, 0); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// BotMetricsHandler creates a HandlerFunc that returns the performance metrics of a bot.
func BotMetricsHandler(ret BotRetriever, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.BotID, id)
		bot, err := ret.Bot(r.Context(), id)
		if err != nil {
			logger.Info(logkeys.Message, "retrieving bot", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		if err = api.JSON(w, bot.Metrics, 0); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}

// BotStatusHandler creates a HandlerFunc that changes the status of a bot.
func BotStatusHandler(setter BotStatusSetter, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.BotID, id)

		req := &struct {
			Status rpa.BotStatus `json:"status"`
		}{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			logger.Info(logkeys.Message, "decoding body", logkeys.Error, err)
			api.JSONError(w, rpa.NewValidationError("decoding body: %v", err), 0)
			return
		}

		bot, err := setter.SetBotStatus(r.Context(), id, req.Status)
		if err != nil {
			logger.Info(logkeys.Message, "setting bot status", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		logger.Debug(logkeys.Message, "set bot status", "status", bot.Status)
		if err = api.JSON(w, bot, 0); err != nil {
			logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
		}
	}
}
