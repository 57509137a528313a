package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lukasbauer/callguard/internal/app"
	"github.com/lukasbauer/callguard/internal/httpapi"
)

func main() {
	cfg := app.LoadConfigFromEnv()

	logger := app.NewLogger(cfg.LogLevel, cfg.Environment)

	// callguard token [subject] prints a bearer token for the control API.
	if len(os.Args) > 1 && os.Args[1] == "token" {
		subject := "telephony-bridge"
		if len(os.Args) > 2 {
			subject = os.Args[2]
		}
		token, err := httpapi.GenerateToken(cfg.JWTSecret, subject, "client", cfg.JWTExpiry)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	// Initialize Sentry for error monitoring
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
		})
		if err != nil {
			logger.Error().Err(err).Msg("sentry init failed")
		} else {
			logger.Info().Msg("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		if cfg.SentryDSN != "" {
			sentry.CaptureException(err)
			sentry.Flush(2 * time.Second)
		}
		logger.Fatal().Err(err).Msg("init app")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// End the active call first so its cleanup can still reach the store.
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("session cleanup did not finish")
	}
	_ = srv.Shutdown(shutdownCtx)
	_ = a.Close()
}
