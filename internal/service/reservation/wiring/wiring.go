// Package wiring 把配置翻译成预占服务的具体依赖，供各个进程入口复用。
package wiring

import (
	"context"

	"nexus-wms/internal/pkg/bootstrap"
	"nexus-wms/internal/pkg/database"
	"nexus-wms/internal/pkg/logger"
	"nexus-wms/internal/pkg/mq"
	"nexus-wms/internal/pkg/redis"
	"nexus-wms/internal/service/reservation/application"
	"nexus-wms/internal/service/reservation/infrastructure/adapter"
	"nexus-wms/internal/service/reservation/infrastructure/persistence"
	"nexus-wms/internal/service/reservation/infrastructure/policy"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	gormlogger "gorm.io/gorm/logger"
)

// Components 是组装好的服务及其需要在退出时关闭的资源
type Components struct {
	Store      *persistence.GormStore
	Service    *application.ReservationService
	Reconciler *application.ExpiryReconciler
	Closers    []func() error
}

// Close 按逆序关闭资源，只用于启动中途失败的清理
func (c *Components) Close() {
	for i := len(c.Closers) - 1; i >= 0; i-- {
		if err := c.Closers[i](); err != nil {
			logger.L().Error().Err(err).Msg("Error closing resource")
		}
	}
}

// Build 打开数据库，按配置挂上 TTL 策略、Redis 展示缓存和 Kafka 事件发布
func Build(cfg *bootstrap.Config, serviceName string) (*Components, error) {
	c := &Components{}
	db, err := database.Open(database.Options{
		Driver:       cfg.Database.Driver,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Name:         cfg.Database.Name,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		LogLevel:     gormlogger.Warn,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	c.Closers = append(c.Closers, sqlDB.Close)

	if cfg.Database.AutoMigrate {
		if err := persistence.AutoMigrate(db); err != nil {
			c.Close()
			return nil, err
		}
	}
	locker, err := persistence.NewLocker(cfg.Database.Driver, cfg.Database.LockTimeout)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Store = persistence.NewGormStore(db, locker)

	ttl, err := policy.NewCELTTLPolicy(cfg.Reservation.TTLPolicy)
	if err != nil {
		c.Close()
		return nil, err
	}
	bootstrap.OnConfigChange(func(next *bootstrap.Config) {
		if next.Reservation.TTLPolicy == ttl.Expression() {
			return
		}
		if err := ttl.Update(next.Reservation.TTLPolicy); err != nil {
			logger.L().Error().Err(err).Msg("❌ Keep previous ttl policy")
			return
		}
		logger.L().Info().Str("ttl_policy", next.Reservation.TTLPolicy).Msg("🔄 TTL policy updated")
	})
	opts := []application.Option{application.WithTTLPolicy(ttl)}

	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(redis.Options{Addrs: cfg.Redis.Addrs, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Closers = append(c.Closers, rdb.Close)
		opts = append(opts, application.WithAvailabilityCache(adapter.NewAvailabilityRedisCache(rdb, cfg.Redis.CacheTTL)))
	}

	if cfg.Kafka.Enabled {
		publisher := adapter.NewEventKafkaAdapter(mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.ReservationTopic))
		c.Closers = append(c.Closers, publisher.Close)
		opts = append(opts, application.WithPublisher(publisher))
	}

	c.Service = application.NewReservationService(c.Store, otel.Tracer(serviceName), opts...)
	c.Reconciler = application.NewExpiryReconciler(c.Service, SweepSettings)
	return c, nil
}

// SweepSettings 每次都读取当前配置，Nacos 推送的新批量参数下一轮生效
func SweepSettings() application.SweepSettings {
	s := bootstrap.GetCurrentConfig().Reservation.Sweep
	return application.SweepSettings{Interval: s.Interval, BatchSize: s.BatchSize, MaxBatches: s.MaxBatches}
}

// SweepWorkers 返回 n 个并发的回收 worker，n<=0 时不启动
func SweepWorkers(r *application.ExpiryReconciler, n int) []bootstrap.Worker {
	workers := make([]bootstrap.Worker, 0, n)
	for i := 0; i < n; i++ {
		workers = append(workers, func(ctx context.Context) error { return r.Run(ctx) })
	}
	return workers
}
