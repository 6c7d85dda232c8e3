package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bissquit/incident-pager/internal/identity"
	"github.com/bissquit/incident-pager/internal/incidents"
	"github.com/bissquit/incident-pager/internal/pkg/ctxlog"
	"github.com/bissquit/incident-pager/internal/pkg/httputil"
	"github.com/bissquit/incident-pager/internal/sla"
	"github.com/bissquit/incident-pager/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Serve runs the API and metrics servers until ctx is cancelled. The SLA
// watcher runs alongside when enabled. Without a database the bus is
// in-process, so the notifier runs here as well.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.listen(ctx, "api", a.apiServer())
	})
	g.Go(func() error {
		return a.listen(ctx, "metrics", a.metricsServer())
	})
	g.Go(func() error {
		a.collectDBMetrics(ctx)
		return nil
	})

	if a.config.SLA.Enabled {
		watcher := sla.NewWatcher(a.incidents)
		g.Go(func() error {
			return watcher.Run(ctx, a.config.SLA.Schedule)
		})
	}

	if a.memoryBus != nil {
		consumer, err := a.consumer()
		if err != nil {
			return err
		}
		g.Go(func() error {
			return consumer.Run(ctx)
		})
	}

	return g.Wait()
}

// listen serves srv until ctx ends, then shuts it down gracefully.
func (a *App) listen(ctx context.Context, name string, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", "server", name, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.Server.ShutdownTimeout)
	defer cancel()

	a.logger.Info("shutting down server", "server", name)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown %s server: %w", name, err)
	}
	return <-errCh
}

func (a *App) apiServer() *http.Server {
	cfg := a.config.Server
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:           a.Router(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

func (a *App) metricsServer() *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%s", a.config.Server.Host, a.config.Server.MetricsPort),
		Handler:           r,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Router returns the API handler.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	incidentsHandler := incidents.NewHandler(a.incidents)
	identityHandler := identity.NewHandler(a.directory)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(a.tokens))

		identityHandler.RegisterProtectedRoutes(r)
		incidentsHandler.RegisterRoutes(r)
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Backend unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}
