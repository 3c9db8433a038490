// cmd/reservation-service/main.go
package main

import (
	"context"
	"flag"

	"nexus-wms/internal/pkg/bootstrap"
	"nexus-wms/internal/pkg/logger"
	"nexus-wms/internal/pkg/mq"
	"nexus-wms/internal/service/reservation/interfaces"
	"nexus-wms/internal/service/reservation/wiring"

	"go.opentelemetry.io/otel"
)

const serviceName = "reservation-service"

func main() {
	configPath := flag.String("config", "configs/reservation-service.yaml", "path to the YAML config file")
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

	workers := wiring.SweepWorkers(c.Reconciler, sweepWorkers(cfg))
	closers := c.Closers

	if cfg.Kafka.Enabled {
		k := cfg.Kafka
		tracer := otel.Tracer(serviceName)
		failures := mq.NewFailureHandler(k.MaxRetries,
			mq.NewKafkaWriter(k.Brokers, mq.RetryTopic(k.FulfillmentTopic)),
			mq.NewKafkaWriter(k.Brokers, mq.DLTTopic(k.FulfillmentTopic)))
		closers = append(closers, failures.Close)

		// 主主题和重试主题共用同一个 FailureHandler，重试次数记在消息头里
		groups := map[string]string{
			k.FulfillmentTopic:                k.GroupID,
			mq.RetryTopic(k.FulfillmentTopic): k.GroupID + "-retry",
		}
		for topic, group := range groups {
			consumer := interfaces.NewFulfillmentConsumerAdapter(
				mq.NewKafkaReader(k.Brokers, topic, group), topic, c.Service, failures, tracer)
			workers = append(workers, consumer.Run)
		}
		dlt := interfaces.NewDltConsumerAdapter(
			mq.NewKafkaReader(k.Brokers, mq.DLTTopic(k.FulfillmentTopic), k.GroupID+"-dlt"), mq.DLTTopic(k.FulfillmentTopic))
		workers = append(workers, dlt.Run)
	}

	handler := interfaces.NewReservationHandler(c.Service, c.Reconciler)
	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Config:      cfg,
		Nacos:       nacosClient,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		HealthCheck: func(ctx context.Context) error { return c.Store.Ping(ctx) },
		Workers:     workers,
		Closers:     closers,
	})
	if err != nil {
		logger.L().Fatal().Err(err).Msg("reservation service exited with error")
	}
}

func sweepWorkers(cfg *bootstrap.Config) int {
	if !cfg.Reservation.Sweep.Enabled {
		return 0
	}
	return cfg.Reservation.Sweep.Workers
}
