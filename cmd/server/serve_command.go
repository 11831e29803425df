package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/rpattn/thumbforge/internal/auth"
	"github.com/rpattn/thumbforge/internal/config"
	"github.com/rpattn/thumbforge/internal/db"
	"github.com/rpattn/thumbforge/internal/httpjson"
	"github.com/rpattn/thumbforge/internal/middleware"
	"github.com/rpattn/thumbforge/internal/templates"
	"github.com/rpattn/thumbforge/internal/versioning"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := ctx.openApp(runCtx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if migrate && a.conn != nil {
				if err := db.RunMigrations(a.conn.Pool, db.Up); err != nil {
					return err
				}
				a.logger.Info("migrations applied")
			}
			return serve(runCtx, a)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "Apply pending migrations before serving (postgres backend only)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      newRouter(a),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting http server",
			"addr", server.Addr,
			"storage", a.cfg.Storage.Backend,
			"tracing", a.tracing.Enabled(),
		)
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

	a.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.logger.Info("server exited")
	return nil
}

func newRouter(a *app) http.Handler {
	templateHandler := templates.NewHTTPHandler(a.templates)
	compositionHandler := versioning.NewHTTPHandler(a.engine)

	mux := http.NewServeMux()
	mux.Handle("/api/roles", templateHandler)
	mux.Handle("/api/templates", templateHandler)
	mux.Handle("/api/templates/", templateHandler)
	mux.Handle("/api/compositions", compositionHandler)
	mux.Handle("/api/compositions/", compositionHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if a.conn != nil {
			if err := a.conn.Pool.Ping(r.Context()); err != nil {
				httpjson.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpjson.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "storage": a.cfg.Storage.Backend})
	})

	handler := middleware.DataLoaderMiddleware(a.repos.templates)(mux)
	handler = auth.ActorMiddleware(handler)
	handler = middleware.LoggingMiddleware(a.logger)(handler)
	return corsHandler(a.cfg.Server).Handler(handler)
}

func corsHandler(cfg config.ServerConfig) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition"},
	})
}
