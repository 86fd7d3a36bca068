// Command skillforge runs the skill service: it scans and loads a skills
// directory, keeps the registry fresh with the background watcher, and serves
// Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/skillforge"
	"github.com/BaSui01/skillforge/config"
	"github.com/BaSui01/skillforge/internal/metrics"
	"github.com/BaSui01/skillforge/skill"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config file")
		metricsAddr = flag.String("metrics-addr", ":9155", "address for the Prometheus metrics endpoint")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("skillforge", skillforge.Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, *metricsAddr, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(cfg config.Config, metricsAddr string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	loader := skill.NewLoader(skill.NewRegistry(), logger, collector)

	discovered, err := loader.Scan(cfg.Loader.SkillsDir)
	if err != nil {
		return fmt.Errorf("scan skills directory: %w", err)
	}
	for _, d := range discovered {
		if _, err := loader.Load(ctx, d.UnitID, d.Path); err != nil {
			logger.Warn("skipping skill that failed to load",
				zap.String("unit_id", d.UnitID),
				zap.String("path", d.Path),
				zap.Error(err))
		}
	}
	logger.Info("skills loaded",
		zap.String("dir", cfg.Loader.SkillsDir),
		zap.Int("loaded", loader.Registry().Len()))

	if cfg.Loader.WatchEnabled {
		watcher := skill.NewWatcher(loader, cfg.Loader.Watch, logger)
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", zap.String("addr", metricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
	return nil
}
