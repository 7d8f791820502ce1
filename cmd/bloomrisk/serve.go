package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"bloomrisk/internal/handlers"
	"bloomrisk/internal/services"
	"bloomrisk/pkg/logging"
)

func newServeCmd(a *app) *cobra.Command {
	var dir string
	var withDB bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the feature matrix catalog over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if dir == "" {
				dir = a.cfg.Paths.FeaturesDir
			}
			a.logger.Info(ctx, "[STARTUP] Starting feature catalog server", logging.Fields{
				"version":      version,
				"server_host":  a.cfg.Server.Host,
				"server_port":  a.cfg.Server.Port,
				"features_dir": dir,
				"with_db":      withDB,
			})

			var health handlers.HealthChecker
			if withDB {
				db, err := a.openDB(ctx)
				if err != nil {
					return err
				}
				defer db.Close()
				health = db
			}

			catalog := services.NewCatalogService(dir, a.logger)
			handler := handlers.NewFeatureHandler(catalog, health, a.logger, a.metrics)

			router := mux.NewRouter()
			handler.RegisterRoutes(router)

			server := &http.Server{
				Addr:         fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
				Handler:      router,
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
				IdleTimeout:  a.cfg.Server.IdleTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
					"address": server.Addr,
				})
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					a.logger.Error(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
					return err
				}
			case <-ctx.Done():
			}

			a.logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
				return err
			}
			a.logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&dir, "dir", "", "Feature matrix directory (default FEATURES_DIR)")
	f.BoolVar(&withDB, "with-db", false, "Probe PostgreSQL in /health")
	return cmd
}
