package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coursekit/streamgate/config"
	"github.com/coursekit/streamgate/gateway"
	"github.com/coursekit/streamgate/logging"
	"github.com/coursekit/streamgate/origin"
	"github.com/coursekit/streamgate/server"
	"github.com/coursekit/streamgate/store/sqlite"
	"github.com/coursekit/streamgate/token"
	"github.com/coursekit/streamgate/violations"
)

func main() {
	cfg := config.MustLoad()

	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatal().Err(err).Msg("Failed to setup logging")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, err := sqlite.New(cfg.StoragePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer storage.Close()

	recorder := violations.NewRecorder(storage, cfg.ViolationBuffer)
	defer recorder.Close()

	issuer := token.NewIssuer(storage, storage, storage, token.Config{
		OriginBase:        cfg.OriginBase,
		OriginKey:         cfg.OriginKey,
		SignScheme:        cfg.SignScheme,
		ProxyEnabled:      cfg.ProxyEnabled,
		ProxyBase:         cfg.ProxyBase,
		DefaultDomain:     cfg.DefaultDomain,
		FingerprintSecret: cfg.FingerprintSecret,
		TTL:               cfg.TokenTTL,
	})
	gw := gateway.New(storage, origin.New(cfg.UpstreamTimeout), recorder, cfg.FingerprintSecret, cfg.ProxyBase)

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           server.NewRouter(cfg.JWTSecret, issuer, gw),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: segment responses stream for as long as the
		// client keeps consuming.
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Starting server on %s", cfg.Address)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
	log.Info().Msg("Server shut down")
}
