// Package main starts a NanoRPA server.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"

	"github.com/micromdm/nanorpa/compliance"
	"github.com/micromdm/nanorpa/engine"
	enginehttp "github.com/micromdm/nanorpa/engine/http"
	"github.com/micromdm/nanorpa/engine/steps"
	httprpa "github.com/micromdm/nanorpa/http"
	"github.com/micromdm/nanorpa/log/logkeys"
	"github.com/micromdm/nanorpa/metrics"
	"github.com/micromdm/nanorpa/provider/api"
	"github.com/micromdm/nanorpa/provider/axiom"
	"github.com/micromdm/nanorpa/provider/zoho"
	"github.com/micromdm/nanorpa/trigger"
	triggerhttp "github.com/micromdm/nanorpa/trigger/http"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/envflag"
	nanohttp "github.com/micromdm/nanolib/http"
	"github.com/micromdm/nanolib/http/trace"
	"github.com/micromdm/nanolib/log/stdlogfmt"
)

// overridden by -ldflags -X
var version = "unknown"

const (
	apiUsername = "nanorpa"
	apiRealm    = "nanorpa"
)

func main() {
	var (
		flDebug    = flag.Bool("debug", false, "log debug messages")
		flListen   = flag.String("listen", ":9005", "HTTP listen address")
		flVersion  = flag.Bool("version", false, "print version and exit")
		flDump     = flag.Bool("dump", false, "dump API request bodies")
		flAPIKey   = flag.String("api", "", "API key for API endpoints")
		flStorage  = flag.String("storage", "file", "name of storage backend")
		flDSN      = flag.String("storage-dsn", "", "data source name (e.g. connection string or path)")
		flTick     = flag.Duration("tick", engine.DefaultDuration, "interval for the task queue worker")
		flEstimate = flag.Duration("step-estimate", engine.DefaultStepEstimate, "per-step completion estimate")
		flRules    = flag.String("compliance-rules", "", "path to YAML compliance rules (default built-in rules)")
		flFileRoot = flag.String("file-root", "", "directory file_processing steps are confined to")
		flAxURL    = flag.String("axiom-url", axiom.DefaultURL, "Axiom API base URL")
		flAxKey    = flag.String("axiom-key", "", "Axiom API key")
		flAxRPM    = flag.Int("axiom-rpm", api.DefaultRequestsPerMinute, "Axiom requests per minute")
		flZoURL    = flag.String("zoho-url", zoho.DefaultURL, "Zoho RPA API base URL")
		flZoTok    = flag.String("zoho-token-url", zoho.DefaultTokenURL, "Zoho OAuth token URL")
		flZoID     = flag.String("zoho-client-id", "", "Zoho OAuth client ID")
		flZoSecret = flag.String("zoho-client-secret", "", "Zoho OAuth client secret")
		flZoRefTok = flag.String("zoho-refresh-token", "", "Zoho OAuth refresh token")
		flZoRPM    = flag.Int("zoho-rpm", api.DefaultRequestsPerMinute, "Zoho requests per minute")
		flSMTPAddr = flag.String("smtp-addr", "", "SMTP server address (host:port) for email steps")
		flSMTPFrom = flag.String("smtp-from", "", "email sender address")
		flSMTPUser = flag.String("smtp-username", "", "SMTP username")
		flSMTPPass = flag.String("smtp-password", "", "SMTP password")
		flNotURL   = flag.String("notify-url", "", "URL for webhook escalations")
		flNotMail  = flag.String("notify-email", "", "comma-separated recipients of email escalations")
	)
	envflag.Parse("NANORPA_", []string{"version"})

	if *flVersion {
		fmt.Println(version)
		return
	}

	logger := stdlogfmt.New(stdlogfmt.WithDebugFlag(*flDebug))

	storage, err := parseStorage(*flStorage, *flDSN)
	if err != nil {
		logger.Info(logkeys.Message, "parse storage", logkeys.Error, err)
		os.Exit(1)
	}

	rules := compliance.DefaultRules()
	if *flRules != "" {
		rules, err = compliance.LoadRulesFile(*flRules)
		if err != nil {
			logger.Info(logkeys.Message, "loading compliance rules", logkeys.Error, err)
			os.Exit(1)
		}
	}
	gate := compliance.New(
		compliance.WithRules(rules),
		compliance.WithLogger(logger.With("service", "compliance")),
	)

	providers, err := configureProviders(&providerConfig{
		axiomURL: *flAxURL,
		axiomKey: *flAxKey,
		axiomRPM: *flAxRPM,
		zoho: zoho.Config{
			BaseURL:      *flZoURL,
			TokenURL:     *flZoTok,
			ClientID:     *flZoID,
			ClientSecret: *flZoSecret,
			RefreshToken: *flZoRefTok,
		},
		zohoRPM: *flZoRPM,
	}, logger)
	if err != nil {
		logger.Info(logkeys.Message, "configuring providers", logkeys.Error, err)
		os.Exit(1)
	}
	logger.Debug(logkeys.Message, "configured providers", "providers", strings.Join(providers.Kinds(), ","))

	var mailer steps.Mailer = steps.NewLogMailer(logger.With("service", "mailer"))
	if *flSMTPAddr != "" {
		mailer, err = steps.NewSMTPMailer(*flSMTPAddr, *flSMTPFrom, *flSMTPUser, *flSMTPPass)
		if err != nil {
			logger.Info(logkeys.Message, "configuring smtp", logkeys.Error, err)
			os.Exit(1)
		}
	}
	bOpts := []steps.Option{
		steps.WithMailer(mailer),
		steps.WithLogger(logger.With("service", "steps")),
	}
	if *flFileRoot != "" {
		bOpts = append(bOpts, steps.WithFileRoot(*flFileRoot))
	}

	collector := metrics.NewCollector("nanorpa")

	// the scheduler is created before the engine it executes with
	var e *engine.Engine
	scheduler := trigger.New(
		trigger.ExecutorFunc(func(ctx context.Context, botID, workflowID string, input map[string]interface{}) (*engine.Execution, error) {
			return e.ExecuteWorkflow(ctx, botID, workflowID, input)
		}),
		trigger.WithLogger(logger.With("service", "trigger")),
	)

	eOpts := []engine.Option{
		engine.WithLogger(logger.With("service", "engine")),
		engine.WithComplianceGate(gate),
		engine.WithProviders(providers),
		engine.WithBuiltins(steps.New(bOpts...)),
		engine.WithStepEstimate(*flEstimate),
		engine.WithObserver(collector),
		engine.WithDeployListener(scheduler),
	}
	for action, n := range configureNotifiers(logger.With("service", "notify"), *flNotURL, mailer, *flNotMail) {
		eOpts = append(eOpts, engine.WithNotifier(action, n))
	}
	e = engine.New(storage, eOpts...)
	collector.RegisterQueueDepth("nanorpa", e.Queue().Len)

	ctx := context.Background()
	if err = e.Recover(ctx); err != nil {
		logger.Info(logkeys.Message, "recovering tasks", logkeys.Error, err)
		os.Exit(1)
	}
	if err = scheduler.Load(ctx, storage); err != nil {
		logger.Info(logkeys.Message, "loading triggers", logkeys.Error, err)
		os.Exit(1)
	}
	scheduler.Start()

	worker := engine.NewWorker(
		e,
		e.Queue(),
		engine.WithWorkerLogger(logger.With("service", "engine worker")),
		engine.WithWorkerDuration(*flTick),
	)

	mux := flow.New()

	mux.Handle("/version", nanohttp.NewJSONVersionHandler(version))
	mux.Handle("/metrics", collector.Handler(), "GET")

	if *flAPIKey != "" {
		mux.Group(func(mux *flow.Mux) {
			mux.Use(func(h http.Handler) http.Handler {
				return nanohttp.NewSimpleBasicAuthHandler(h, apiUsername, *flAPIKey, apiRealm)
			})
			if *flDump {
				mux.Use(func(h http.Handler) http.Handler {
					return httprpa.DumpHandler(h, os.Stdout)
				})
			}

			enginehttp.HandleAPIv1("/v1", mux, logger, e)
			mux.Handle(
				"/v1/events/:event",
				triggerhttp.EventHandler(scheduler, logger.With("handler", "fire event")),
				"POST",
			)
		})
	}

	go func() {
		err := worker.Run(ctx)
		logs := []interface{}{logkeys.Message, "engine worker stopped"}
		if err != nil {
			logger.Info(append(logs, logkeys.Error, err)...)
			return
		}
		logger.Debug(logs...)
	}()

	logger.Info(logkeys.Message, "starting server", "listen", *flListen)
	err = http.ListenAndServe(*flListen, trace.NewTraceLoggingHandler(mux, logger.With("handler", "log"), newTraceID))
	logs := []interface{}{logkeys.Message, "server shutdown"}
	if err != nil {
		logs = append(logs, logkeys.Error, err)
	}
	logger.Info(logs...)
	<-scheduler.Stop().Done()
}

// newTraceID generates a new HTTP trace ID for context logging.
func newTraceID(_ *http.Request) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
