// Command godel runs the cluster federation daemon: the cluster registry,
// the multi-cluster load balancer, and the transparent execution proxy,
// plus a Prometheus metrics endpoint.
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
	"go.uber.org/zap/zapcore"

	"github.com/davidkimai/godel-sub021/balancer"
	"github.com/davidkimai/godel-sub021/cluster"
	"github.com/davidkimai/godel-sub021/config"
	"github.com/davidkimai/godel-sub021/internal/metrics"
	"github.com/davidkimai/godel-sub021/proxy"
	"github.com/davidkimai/godel-sub021/remote"
	"github.com/davidkimai/godel-sub021/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("daemon failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	collector := metrics.NewCollector("godel_federation", logger)

	var snapshot *cluster.RedisStore
	if cfg.Redis.Enabled {
		var err error
		snapshot, err = cluster.NewRedisStore(cluster.RedisStoreConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fmt.Errorf("redis snapshot store: %w", err)
		}
		defer snapshot.Close() //nolint:errcheck
	}

	registry := cluster.NewRegistry(cluster.RegistryConfig{
		Health:   cfg.Health,
		Snapshot: snapshot,
		Metrics:  collector,
	}, logger)
	defer registry.Dispose()

	if snapshot != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := registry.Rehydrate(ctx, snapshot); err != nil {
			logger.Warn("catalog rehydration failed", zap.Error(err))
		}
		cancel()
	}

	local := runtime.NewMemoryRuntime(cfg.Local.MaxAgents, logger)
	dialer := remote.NewHTTPDialer(remote.HTTPClientConfig{
		Timeout:           cfg.Remote.Timeout,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
		Insecure:          cfg.Remote.Insecure,
	})

	balancerCfg := cfg.Balancer
	balancerCfg.LocalGPU = cfg.Local.GPU
	lb := balancer.New(registry, local, dialer, balancerCfg, collector, logger)
	defer lb.Dispose()

	p := proxy.New(registry, lb, local, dialer, collector, logger)
	defer p.Dispose()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics endpoint listening", zap.Int("port", cfg.Server.MetricsPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
