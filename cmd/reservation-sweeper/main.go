// cmd/reservation-sweeper/main.go
package main

import (
	"context"
	"flag"

	"nexus-wms/internal/pkg/bootstrap"
	"nexus-wms/internal/pkg/logger"
	"nexus-wms/internal/service/reservation/wiring"
)

const serviceName = "reservation-sweeper"

// 独立部署的过期回收进程，可以和 reservation-service 里的回收 worker 同时运行
func main() {
	configPath := flag.String("config", "configs/reservation-service.yaml", "path to the YAML config file")
	workers := flag.Int("workers", 0, "number of sweep workers, 0 uses reservation.sweep.workers")
	flag.Parse()

	cfg, err := bootstrap.LoadConfig(*configPath)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	nacosClient, cfg, err := bootstrap.ConnectNacos(cfg)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to connect nacos")
	}
	logger.Init(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Service: serviceName})

	c, err := wiring.Build(cfg, serviceName)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to build reservation service")
	}

	n := *workers
	if n <= 0 {
		n = cfg.Reservation.Sweep.Workers
	}
	if n <= 0 {
		n = 1
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Config:      cfg,
		Nacos:       nacosClient,
		HealthCheck: func(ctx context.Context) error { return c.Store.Ping(ctx) },
		Workers:     wiring.SweepWorkers(c.Reconciler, n),
		Closers:     c.Closers,
	})
	if err != nil {
		logger.L().Fatal().Err(err).Msg("reservation sweeper exited with error")
	}
}
