package persistence

import (
	"context"
	"time"

	"nexus-wms/internal/pkg/metrics"
	"nexus-wms/internal/service/reservation/domain"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// GormStore 是 domain.Store 的关系型数据库实现（MySQL / PostgreSQL）
type GormStore struct {
	db     *gorm.DB
	locker Locker
}

func NewGormStore(db *gorm.DB, locker Locker) *GormStore {
	return &GormStore{db: db, locker: locker}
}

// AutoMigrate 创建预占相关的表，账本表由账本服务维护
func AutoMigrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(&ReservationModel{}, &ReservationLineModel{}), "auto migrate reservation tables")
}

// RunInTx 把整个工作单元固定在一条连接上执行：
// 先开启事务执行 fn，事务结束后再在同一连接上释放命名锁。
func (s *GormStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	err := s.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		defer s.locker.ReleaseAll(ctx, conn)
		return conn.Transaction(func(txdb *gorm.DB) error {
			return fn(ctx, &gormTx{db: txdb, locker: s.locker, held: make(map[string]struct{})})
		})
	})
	return classifyError(err)
}

// FindExpired 不加锁的候选扫描
func (s *GormStore) FindExpired(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&ReservationModel{}).
		Where("status = ? AND expire_at IS NOT NULL AND expire_at < ?", string(domain.StatusOpen), now.UTC()).
		Order("expire_at, id").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, errors.Wrap(err, "find expired reservations")
	}
	return ids, nil
}

// Ping 用于健康检查
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type gormTx struct {
	db     *gorm.DB
	locker Locker
	held   map[string]struct{}
}

func (t *gormTx) Lock(ctx context.Context, key domain.BusinessKey) error {
	return t.lock(ctx, key.LockName())
}

func (t *gormTx) LockItems(ctx context.Context, warehouse int64, items []int64) error {
	for _, name := range domain.SortedStockLockNames(warehouse, items) {
		if err := t.lock(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (t *gormTx) lock(ctx context.Context, name string) error {
	if _, ok := t.held[name]; ok {
		return nil
	}
	start := time.Now()
	err := t.locker.Acquire(ctx, t.db, name)
	metrics.LockWait.WithLabelValues(t.locker.Dialect()).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	t.held[name] = struct{}{}
	return nil
}

func (t *gormTx) Reservations() domain.ReservationRepository {
	return &GormReservationRepository{db: t.db, dialect: t.locker.Dialect()}
}

func (t *gormTx) Ledger() domain.LedgerReader {
	return NewGormLedgerGateway(t.db)
}
