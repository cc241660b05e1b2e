package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"fxpay/app"
	"fxpay/config"
	"fxpay/logger"
	"fxpay/metrics"
	"fxpay/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("FXPAY_CONFIG"), "path to YAML config")
	flag.Parse()

	if err := config.LoadEnv(); err != nil {
		log.Fatalf("load env: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := app.Build(cfg, lg, metrics.New(reg))
	if err != nil {
		lg.Fatal("Failed to build client", zap.Error(err))
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Chain.HealthCheck(ctx); err != nil {
		lg.Warn("Chain health check failed", zap.Error(err))
	}
	if err := a.Rates.Start(ctx); err != nil {
		lg.Fatal("Failed to start rate polling", zap.Error(err))
	}

	srv, err := server.New(server.Config{
		Rates:       a.Rates,
		Quotes:      a.Calculator,
		Swaps:       a.Swaps,
		Payments:    a.Payments,
		History:     a.History,
		Wallet:      a.Wallet,
		Chain:       a.Chain,
		Gatherer:    reg,
		Logger:      lg,
		BaseContext: ctx,
	})
	if err != nil {
		lg.Fatal("Failed to build server", zap.Error(err))
	}

	lg.Info("Starting fxpay API",
		zap.String("network", cfg.Network.Name),
		zap.Uint64("chain_id", cfg.Network.ChainID),
		zap.String("rate_source", cfg.Rates.Source),
		zap.String("listen", cfg.Server.Listen),
	)
	if err := srv.ListenAndServe(ctx, cfg.Server.Listen); err != nil {
		lg.Error("Server stopped", zap.Error(err))
	}
}
