package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/acme/autocert"

	"prosthesisgw/server"
	"prosthesisgw/store"
	"prosthesisgw/store/migrations"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, cfg, err := setup()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, logger)
	},
}

func runServe(ctx context.Context, cfg server.Config, logger *slog.Logger) error {
	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer store.Close(db)

	if cfg.Database.AutoMigrate {
		group, err := migrations.Apply(ctx, db)
		if err != nil {
			return err
		}
		logger.Info("record store migrated", "group", group.ID)
	}

	idp, err := server.NewKeycloakProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init identity provider: %w", err)
	}

	application := server.NewApp(cfg, idp,
		store.NewUserRepository(db, logger),
		store.NewReportRepository(db, logger),
		logger,
	)
	handler := application.Routes()

	var shutdownFns []func(context.Context) error
	errCh := make(chan error, 2)

	if cfg.Server.DevMode {
		srv := &http.Server{
			Addr:         cfg.Server.DevListenAddr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		shutdownFns = append(shutdownFns, srv.Shutdown)
		logger.Info("server listening", "mode", "dev", "addr", cfg.Server.DevListenAddr, "login_url", server.LoginURL(cfg))
		go serveUntilClosed(errCh, srv.ListenAndServe)
	} else {
		m := &autocert.Manager{
			Cache:      autocert.DirCache(cfg.Server.TLS.CacheDir),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(cfg.Server.TLS.Domains...),
			Email:      cfg.Server.TLS.Email,
		}

		httpRedirect := &http.Server{
			Addr:              cfg.Server.HTTPListenAddr,
			Handler:           m.HTTPHandler(http.HandlerFunc(redirectToHTTPS)),
			ReadHeaderTimeout: 10 * time.Second,
		}
		shutdownFns = append(shutdownFns, httpRedirect.Shutdown)
		go serveUntilClosed(errCh, httpRedirect.ListenAndServe)

		httpsSrv := &http.Server{
			Addr:    cfg.Server.HTTPSListenAddr,
			Handler: handler,
			TLSConfig: &tls.Config{
				GetCertificate: m.GetCertificate,
				MinVersion:     tls.VersionTLS12,
			},
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		shutdownFns = append(shutdownFns, httpsSrv.Shutdown)
		logger.Info("server listening", "mode", "prod", "addr", cfg.Server.HTTPSListenAddr, "domains", cfg.Server.TLS.Domains)
		go serveUntilClosed(errCh, func() error { return httpsSrv.ListenAndServeTLS("", "") })
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		logger.Error("server error", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, fn := range shutdownFns {
		_ = fn(shutdownCtx)
	}
	logger.Info("server stopped")
	return serveErr
}

func serveUntilClosed(errCh chan<- error, serve func() error) {
	if err := serve(); err != nil && err != http.ErrServerClosed {
		errCh <- err
	}
}

func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}
