package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docgate/internal/app"
	"docgate/internal/auth"
	"docgate/internal/authpw"
	"docgate/internal/session"
)

var (
	corsOrigin string
	noSync     bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the review API and the periodic sync loop",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&corsOrigin, "cors-origin", "*", "Access-Control-Allow-Origin for the review API")
	serveCmd.Flags().BoolVar(&noSync, "no-sync", false, "serve the review API without the sync loop")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	issuer, err := auth.NewIssuer(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	c, err := buildReviews(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if !noSync {
		if err := buildPipeline(ctx, cfg, c); err != nil {
			// The review API stays useful without the document store.
			logger.Error("sync pipeline unavailable, serving reviews only", "error", err)
		} else {
			go c.runner.Loop(ctx, cfg.SyncInterval)
		}
	}

	httpServer := app.NewHTTPServer(c.service(), issuer, corsOrigin, logger).
		WithRevocations(openRevocations(c))
	if cfg.ReviewersFile != "" {
		directory, err := authpw.LoadDirectory(cfg.ReviewersFile)
		if err != nil {
			return err
		}
		httpServer.WithDirectory(directory)
		logger.Info("password sign-in enabled", "reviewers", directory.Len())
	}
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("docgate listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openRevocations prefers Redis so revocations reach every replica.
func openRevocations(c *components) session.Revocations {
	if cfg.RedisURL != "" {
		store, err := session.NewRedisStore(cfg.RedisURL)
		if err == nil {
			c.closers = append(c.closers, func() { _ = store.Close() })
			return store
		}
		logger.Warn("redis unavailable, token revocations are process-local", "error", err)
	}
	return session.NewMemoryStore()
}
