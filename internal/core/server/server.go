// Package server wires the HTTP routes and runs the gateway.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spatialworks/sta-provider/internal/core/config"
	"github.com/spatialworks/sta-provider/internal/core/health"
	"github.com/spatialworks/sta-provider/internal/core/middleware"
	"github.com/spatialworks/sta-provider/internal/core/router"
)

// Run sets up http and serves until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, reg *router.Registry, prober health.UpstreamProber) error {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(prober, 5*time.Second))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/collections", router.ListCollections(reg))
	r.Get("/collections/{collection}/items", router.Items(logger, cfg, reg))
	r.Get("/collections/{collection}/items/{id}", router.Item(logger, reg))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
