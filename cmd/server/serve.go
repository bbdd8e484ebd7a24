package main

import (
	"context"
	"crypto/tls"
	"errors"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atinyakov/memberauth/internal/certgen"
	"github.com/atinyakov/memberauth/internal/config"
	"github.com/atinyakov/memberauth/internal/db"
	"github.com/atinyakov/memberauth/internal/errutil"
	"github.com/atinyakov/memberauth/internal/logger"
	"github.com/atinyakov/memberauth/internal/server/handler/http"
	"github.com/atinyakov/memberauth/internal/service"
	"github.com/atinyakov/memberauth/internal/session"
	"github.com/atinyakov/memberauth/internal/user"
	"github.com/atinyakov/memberauth/internal/validate"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the member site",
		Long: `Serve the member site over HTTP, or HTTPS when both --tls-cert and
--tls-key are given. SQL databases are migrated on startup.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}

	log := logger.New()
	if err := log.Init(cfg.String(config.KeyLogLevel)); err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	zapLogger := log.Log
	defer func() { _ = zapLogger.Sync() }()

	zapLogger.Info("starting", zap.String("version", cmd.Root().Version))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records, closeStore, err := openStore(ctx, cfg, true, zapLogger)
	if err != nil {
		errutil.LogError(zapLogger, "cannot open record store", err)
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			zapLogger.Warn("failed to close record store", zap.Error(err))
		}
	}()

	settings := user.Settings{
		SessionKey:   cfg.String(config.KeySessionName),
		CookieName:   cfg.String(config.KeyRememberCookie),
		CookieExpiry: cfg.Seconds(config.KeyRememberExpiry),
	}
	interval := cfg.Seconds(config.KeyCleanerInterval)

	sessions := session.NewStore(cfg.Seconds(config.KeySessionLifetime))
	sessions.StartJanitor(ctx, interval, zapLogger)
	db.StartTokenCleaner(ctx, records, interval, settings.CookieExpiry, zapLogger)

	pages, err := http.NewPageHandler(
		service.NewAccountService(),
		validate.New(records),
		cfg.String(config.KeyTokenName),
		cfg.Seconds(config.KeyCookieBannerExpiry),
		zapLogger,
	)
	if err != nil {
		return oops.Code("TEMPLATE_INVALID").Wrap(err)
	}
	router := http.NewRouter(pages, sessions, records, settings, cfg.String(config.KeySessionCookie), zapLogger)

	addr := cfg.String(config.KeyAddress)
	server := &nethttp.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	certPath, keyPath := cfg.String(config.KeyTLSCert), cfg.String(config.KeyTLSKey)
	useTLS := certPath != "" && keyPath != ""
	if useTLS {
		pair, err := certgen.LoadKeyPair(certPath, keyPath)
		if err != nil {
			return oops.Code("TLS_INVALID").With("cert", certPath).Wrap(err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{pair},
			MinVersion:   tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)
	go func() {
		zapLogger.Info("listening", zap.String("addr", addr), zap.Bool("tls", useTLS))
		if useTLS {
			errCh <- server.ListenAndServeTLS("", "")
		} else {
			errCh <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, nethttp.ErrServerClosed) {
			zapLogger.Error("server stopped", zap.Error(err))
			return oops.Code("SERVE_FAILED").Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	zapLogger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.Code("SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}
