package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"adaptive-proxy/pkg/dialer"
	"adaptive-proxy/pkg/identity"
	"adaptive-proxy/pkg/metrics"
	"adaptive-proxy/pkg/probe"
	"adaptive-proxy/pkg/proxy"
	"adaptive-proxy/pkg/router"
	"adaptive-proxy/pkg/routestore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy on every configured inbound",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runServe(ctx); err != nil {
			logger.Error("Proxy server failed", "error", err)
			os.Exit(1)
		}
	},
}

func runServe(ctx context.Context) error {
	settings, catalog, err := loadCatalog(ctx)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, settings)
	if err != nil {
		return err
	}
	defer closeStore()

	collector := metrics.NewCollector()

	provider := newIdentityProvider(settings)
	defer provider.Close()
	profiles := identity.NewProfileResolver(provider, catalog)
	if profile, err := profiles.CurrentProfile(); err != nil {
		logger.Warn("Network identity not available yet", "error", err)
	} else {
		logger.Info("Network profile", "profile", profile)
	}

	watcher := identity.NewWatcher(settings.Identity.WatchPaths, settings.Identity.PollInterval, logger)
	go func() {
		if err := watcher.Watch(ctx, provider.ScheduleRefresh); err != nil {
			logger.Error("Network watcher stopped", "error", err)
		}
	}()

	d := dialer.New(logger)
	prober := probe.NewProber(d, logger, probe.WithMetrics(collector))
	engine := router.New(catalog, store, prober,
		router.WithStalePolicy(router.StalePolicy(settings.Routes.StalePolicy)),
		router.WithLogger(logger),
		router.WithMetrics(collector))
	defer engine.Close()

	pruner := routestore.NewPruner(store, settings.Routes.PruneSchedule, settings.Routes.Retention, logger)
	if err := pruner.Start(ctx); err != nil {
		return err
	}
	defer pruner.Stop()

	if settings.Metrics.Listen != "" {
		shutdown := serveMetrics(settings.Metrics.Listen, collector)
		defer shutdown()
	}

	listeners, err := proxy.Listen(ctx, catalog.Inbounds())
	if err != nil {
		return err
	}
	server := proxy.NewServer(engine, profiles, d, proxy.Options{
		ClientTimeout:  settings.Proxy.ClientTimeout,
		MaxHeaderBytes: settings.Proxy.MaxHeaderBytes,
		Metrics:        collector,
	}, logger)
	return server.Serve(ctx, listeners)
}

func serveMetrics(addr string, collector *metrics.Collector) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("Metrics listener started", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics listener failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
