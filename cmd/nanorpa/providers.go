package main

import (
	"github.com/micromdm/nanorpa/log/logkeys"
	"github.com/micromdm/nanorpa/provider"
	"github.com/micromdm/nanorpa/provider/api"
	"github.com/micromdm/nanorpa/provider/axiom"
	"github.com/micromdm/nanorpa/provider/zoho"
	"github.com/micromdm/nanorpa/rpa"

	"github.com/micromdm/nanolib/log"
)

type providerConfig struct {
	axiomURL string
	axiomKey string
	axiomRPM int

	zoho    zoho.Config
	zohoRPM int
}

// configureProviders creates adapters for the providers that have credentials.
func configureProviders(cfg *providerConfig, logger log.Logger) (provider.Registry, error) {
	r := make(provider.Registry)
	if cfg.axiomKey != "" {
		a, err := axiom.New(
			cfg.axiomURL,
			cfg.axiomKey,
			api.WithRequestsPerMinute(cfg.axiomRPM),
			api.WithLogger(logger.With(logkeys.Provider, rpa.ProviderAxiom)),
		)
		if err != nil {
			return nil, err
		}
		r[rpa.ProviderAxiom] = a
	}
	if cfg.zoho.RefreshToken != "" {
		z, err := zoho.New(
			cfg.zoho,
			api.WithRequestsPerMinute(cfg.zohoRPM),
			api.WithLogger(logger.With(logkeys.Provider, rpa.ProviderZoho)),
		)
		if err != nil {
			return nil, err
		}
		r[rpa.ProviderZoho] = z
	}
	return r, nil
}
