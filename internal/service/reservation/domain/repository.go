// internal/service/reservation/domain/repository.go
package domain

import (
	"context"
	"time"
)

// PersistCommand 是一次幂等写入预占头和行的请求
type PersistCommand struct {
	Key           BusinessKey
	CorrelationID string
	ExpireAt      *time.Time
	Lines         []Line
}

// PersistResult 描述 Persist 的结果；Created 为 false 表示命中了已存在的预占
type PersistResult struct {
	ReservationID int64
	Created       bool
}

// ReservationRepository 定义了预占的持久化接口，所有方法都运行在调用方的事务里。
type ReservationRepository interface {
	// Persist 以插入-冲突-则-更新的方式写入，重复调用不会产生第二条预占。
	// 行按 (预占, 行号) 更新，不存在则插入，从不删除。
	Persist(ctx context.Context, cmd PersistCommand) (PersistResult, error)

	// GetByKey 找不到时返回 ErrReservationNotFound
	GetByKey(ctx context.Context, key BusinessKey) (*Reservation, error)

	GetByID(ctx context.Context, id int64) (*Reservation, error)

	// GetLines 按行号升序返回
	GetLines(ctx context.Context, reservationID int64) ([]Line, error)

	// MarkConsumed 不检查当前状态；调用方必须已持有该业务键的锁并确认是 open
	MarkConsumed(ctx context.Context, reservationID int64) error

	// MarkReleased 把状态置为 reason 并记录 released_at，行数据保持不变
	MarkReleased(ctx context.Context, reservationID int64, reason Status) error

	// OutstandingOpen 返回某商品在某仓库所有 open 预占的未消耗数量之和
	OutstandingOpen(ctx context.Context, item, warehouse int64) (int64, error)
}

// LedgerReader 只读访问库存账本的在手数量，本服务从不写账本
type LedgerReader interface {
	OnHand(ctx context.Context, item, warehouse int64) (int64, error)
}

// Tx 是一个事务内的工作单元
type Tx interface {
	// Lock 获取业务键的命名互斥锁，事务结束时自动释放。
	// 超时返回 ErrLockTimeout。
	Lock(ctx context.Context, key BusinessKey) error
	// LockItems 获取 (仓库, 商品) 级别的锁，内部按商品 ID 升序加锁以避免死锁。
	// 必须在 Lock 之后调用。
	LockItems(ctx context.Context, warehouse int64, items []int64) error
	Reservations() ReservationRepository
	Ledger() LedgerReader
}

// Store 是预占存储的入口
type Store interface {
	// RunInTx 在一个事务中执行 fn，fn 返回错误则整体回滚
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// FindExpired 不加锁地找出过期候选，按 expire_at, id 升序；结果只是候选，处理前必须重新校验
	FindExpired(ctx context.Context, now time.Time, limit int) ([]int64, error)
}
