package application

import (
	"context"
	"time"

	"nexus-wms/internal/pkg/logger"
	"nexus-wms/internal/pkg/metrics"
	"nexus-wms/internal/service/reservation/domain"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SweepSettings 控制一次过期回收的批量和节奏
type SweepSettings struct {
	Interval   time.Duration
	BatchSize  int
	MaxBatches int // <=0 表示不限批次，直到某一批不满
}

// ExpiryReconciler 回收过期的 open 预占：先无锁扫描候选，再逐个加锁复核。
// 多个 worker（同进程或跨进程）可以同时运行，同一个 id 只会有一个 worker 完成转换。
type ExpiryReconciler struct {
	svc      *ReservationService
	settings func() SweepSettings
}

// NewExpiryReconciler settings 每次回收前都会重新读取，配置热更新可以直接生效
func NewExpiryReconciler(svc *ReservationService, settings func() SweepSettings) *ExpiryReconciler {
	return &ExpiryReconciler{svc: svc, settings: settings}
}

// Sweep 执行一轮回收，返回本轮由 open 转为 expired 的数量
func (r *ExpiryReconciler) Sweep(ctx context.Context, now time.Time) (int, error) {
	ctx, span := r.svc.tracer.Start(ctx, "reconciler.Sweep")
	defer span.End()
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	cfg := r.settings()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	released := 0
	// 锁超时跳过的 id 仍是 open，会被下一批重新扫到，本轮不再重试
	skipped := make(map[int64]struct{})
	for batch := 0; cfg.MaxBatches <= 0 || batch < cfg.MaxBatches; batch++ {
		ids, err := r.svc.store.FindExpired(ctx, now, cfg.BatchSize)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return released, errors.Wrap(err, "find expired reservations")
		}

		fresh := 0
		for _, id := range ids {
			if _, ok := skipped[id]; ok {
				continue
			}
			fresh++
			ok, err := r.ReleaseExpired(ctx, id, now)
			if errors.Is(err, domain.ErrLockTimeout) {
				// 锁被占用说明有人正在处理这个业务键，下一轮再看
				logger.Ctx(ctx).Warn().Int64("reservation_id", id).Msg("⏳ Skip expired reservation, key is busy")
				skipped[id] = struct{}{}
				continue
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return released, err
			}
			if ok {
				released++
			}
		}

		// 整批都是已跳过的 id，再扫只会拿到同样的结果
		if fresh == 0 || len(ids) < cfg.BatchSize {
			break
		}
	}

	span.SetAttributes(attribute.Int("sweep.released", released))
	if released > 0 {
		logger.Ctx(ctx).Info().Int("released", released).Msg("🧹 Expired reservations released")
	}
	return released, nil
}

// ReleaseExpired 在业务键的锁内复核并回收一个候选。
// 已不存在、已是终态或过期时间已被延长时返回 false。
func (r *ExpiryReconciler) ReleaseExpired(ctx context.Context, id int64, now time.Time) (bool, error) {
	var (
		expired *domain.Reservation
		lines   []domain.Line
	)
	err := r.svc.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		repo := tx.Reservations()

		head, err := repo.GetByID(ctx, id)
		if errors.Is(err, domain.ErrReservationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Lock(ctx, head.Key); err != nil {
			return err
		}

		// 扫描结果是无锁读到的，加锁后必须重新读取（依赖 READ COMMITTED，见 database.MySQLDSN）
		current, err := repo.GetByID(ctx, id)
		if errors.Is(err, domain.ErrReservationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !current.IsExpiredAt(now) {
			return nil
		}
		if lines, err = repo.GetLines(ctx, id); err != nil {
			return err
		}
		if err := repo.MarkReleased(ctx, id, domain.StatusExpired); err != nil {
			return err
		}
		expired = current
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired == nil {
		return false, nil
	}

	metrics.ExpiredTotal.Inc()
	metrics.ReleaseTotal.WithLabelValues(string(domain.StatusExpired), StatusOK).Inc()
	r.svc.afterCommit(ctx, domain.EventExpired, id, expired.Key, expired.CorrelationID, lines)
	return true, nil
}

// Run 按配置的间隔循环回收，直到 ctx 取消
func (r *ExpiryReconciler) Run(ctx context.Context) error {
	interval := r.interval()
	logger.Ctx(ctx).Info().Dur("interval", interval).Msg("✅ Expiry reconciler started")

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("🛑 Expiry reconciler stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := r.Sweep(ctx, r.svc.now()); err != nil && ctx.Err() == nil {
				logger.Ctx(ctx).Error().Err(err).Msg("❌ Expiry sweep failed")
			}
			timer.Reset(r.interval())
		}
	}
}

func (r *ExpiryReconciler) interval() time.Duration {
	if d := r.settings().Interval; d > 0 {
		return d
	}
	return 30 * time.Second
}
