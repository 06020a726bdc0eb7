// Command gateway is the validator-gateway process entrypoint: it loads
// configuration, wires the application context (pkg/appctx), starts the
// public HTTP surface and every background actor, and shuts down
// gracefully on SIGINT/SIGTERM — the same flag-parse/wire/serve/shutdown
// shape as the teacher's root main.go, adapted from a single
// BFT-validator process to this gateway's single-writer transparency log.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/leadpoet/validator-gateway/pkg/appctx"
	"github.com/leadpoet/validator-gateway/pkg/config"
)

func main() {
	var (
		validatorID = flag.String("validator-id", "", "operator-facing identifier for this gateway instance (overrides VALIDATOR_ID)")
		devMode     = flag.Bool("dev", false, "use relaxed configuration validation suitable for local development")
		showHelp    = flag.Bool("help", false, "show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}
	if *validatorID != "" {
		cfg.ValidatorID = *validatorID
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info().Str("validator_id", cfg.ValidatorID).Msg("starting validator gateway")

	if *devMode {
		if err := cfg.ValidateForDevelopment(); err != nil {
			logger.Fatal().Err(err).Msg("development configuration invalid")
		}
	} else {
		if err := cfg.Validate(); err != nil {
			logger.Fatal().Err(err).Msg("configuration invalid")
		}
	}

	app, err := appctx.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire application context")
	}
	defer app.Close()

	logger.Info().Str("enclave_pubkey", app.Enclave.PublicKey()).Str("boot_id", app.Enclave.BootID().String()).Msg("enclave ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go app.Run(ctx)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: app.Server.Router(),
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	logger.Info().Msg("validator gateway stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

func printHelp() {
	fmt.Println("validator-gateway: trustless coordination gateway for a decentralized lead-validation network")
	fmt.Println()
	fmt.Println("Usage: gateway [flags]")
	flag.PrintDefaults()
}
