package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hiveroute/hiveroute/internal/api"
	"github.com/hiveroute/hiveroute/internal/config"
	"github.com/hiveroute/hiveroute/internal/database"
	"github.com/hiveroute/hiveroute/internal/metrics"
	"github.com/hiveroute/hiveroute/internal/routing"
)

// switchRefreshInterval is how often the cluster switch table is reloaded.
const switchRefreshInterval = time.Minute

// cacheSweepInterval is how often expired route cache entries are removed.
const cacheSweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting hiveroute",
		"http_port", cfg.HTTPPort,
		"switch_hostname", cfg.SwitchHostname,
		"max_depth", cfg.MaxDepth,
	)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	db, err := database.Open(appCtx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	directory := database.NewDirectory(db.Pool)
	routeCache := database.NewRouteCache(db.Pool)

	// The switch table must resolve the local switch before any routing
	// decision can be made.
	switchTable := database.NewSwitchTable(directory, cfg.SwitchHostname)
	if err := switchTable.Refresh(appCtx); err != nil {
		slog.Error("failed to load switch table", "error", err)
		os.Exit(1)
	}
	go refreshSwitchTable(appCtx, switchTable)

	go sweepRouteCache(appCtx, routeCache)

	router := routing.NewRouter(directory, routing.OSMediaStorage{}, cfg.RingbackDir, cfg.MaxDepth, logger)

	stats := &metrics.RoutingStats{}
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(stats, routeCache, time.Now()))
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	handler := api.NewServer(router, switchTable, routeCache, cfg.CacheTTLDuration(), stats, metricsHandler, cfg.APIToken, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("http server failed", "error", err)
		os.Exit(1)
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	}

	appCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown failed", "error", err)
	}

	slog.Info("hiveroute stopped")
}

// refreshSwitchTable periodically reloads the cluster switch table so new or
// renamed switches are picked up without restarts.
func refreshSwitchTable(ctx context.Context, table *database.SwitchTable) {
	ticker := time.NewTicker(switchRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := table.Refresh(ctx); err != nil {
				slog.Error("switch table refresh failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// sweepRouteCache periodically removes expired deferred routes.
func sweepRouteCache(ctx context.Context, cache *database.RouteCache) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := cache.DeleteExpired(ctx)
			if err != nil {
				slog.Error("route cache sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.Debug("route cache sweep", "removed", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}
