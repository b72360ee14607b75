package main

import (
	"context"
	"github.com/antluqmol1/openid-authentication/internal/api"
	"github.com/antluqmol1/openid-authentication/internal/api/portal"
	"github.com/antluqmol1/openid-authentication/internal/api/portal/session/storage"
	"github.com/antluqmol1/openid-authentication/internal/config"
	"github.com/antluqmol1/openid-authentication/internal/graph"
	"github.com/antluqmol1/openid-authentication/internal/identity"
	"github.com/antluqmol1/openid-authentication/internal/task"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"os"
	"os/signal"
	"time"
)

func main() {
	// Set up zerolog to use pretty printing
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out: os.Stderr,
	})
	log.Info().Msg("starting up...")

	// Load the application configuration
	log.Info().Msg("loading configuration...")
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("could not load the configuration")
	}
	if cfg.IsEnvProduction() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Debug().Str("authority", cfg.Authority).Str("session_storage", cfg.SessionStorage).Strs("scopes", cfg.Scopes).Msg("")

	// Open the configured session storage
	log.Info().Str("driver", cfg.SessionStorage).Msg("opening session storage...")
	sessions, err := storage.Open(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("could not open the session storage")
	}
	defer sessions.Close()

	// Schedule a task that terminates expired sessions
	cleanupTask := task.NewRepeating(func() {
		n, err := sessions.TerminateExpired(context.Background())
		if err != nil {
			log.Error().Err(err).Msg("could not terminate expired sessions")
		} else if n > 0 {
			log.Info().Int("amount", n).Msg("terminated expired sessions")
		}
	}, time.Minute)
	cleanupTask.Start()
	defer cleanupTask.Stop(false)

	// Discover the identity provider; the portal renders a configuration error without credentials
	var identityClient identity.Client
	if cfg.HasCredentials() {
		log.Info().Str("issuer", cfg.IssuerURL()).Msg("discovering the identity provider...")
		client, err := identity.NewOIDC(context.Background(), cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("could not discover the identity provider")
		}
		identityClient = client
	} else {
		log.Warn().Msg("no client ID or client secret configured; logins are disabled")
	}

	// Start up the portal
	log.Info().Str("address", cfg.ListenAddress).Str("version", portal.Version).Msg("starting up the portal...")
	apis := &api.Service{
		Config:   cfg,
		Identity: identityClient,
		Gateway:  graph.New(cfg.GraphBaseURL, cfg.GraphTimeout),
		Sessions: sessions,
	}
	apiErrs := make(chan error, 1)
	apis.Startup(apiErrs)
	go func() {
		err := <-apiErrs
		log.Fatal().Err(err).Msg("the API service raised an unexpected error")
	}()
	defer func() {
		log.Info().Msg("shutting down the portal...")
		apis.Shutdown()
	}()

	log.Info().Msg("done!")
	defer log.Info().Msg("shutting down...")

	// Wait for the application to be terminated
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt)
	<-shutdown
}
