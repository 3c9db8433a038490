package persistence

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"math"
	"strconv"
	"time"

	"nexus-wms/internal/pkg/database"
	"nexus-wms/internal/pkg/logger"
	"nexus-wms/internal/service/reservation/domain"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Locker 是数据库提供的命名互斥锁。
// 锁的生命周期必须和事务一致：事务结束（提交或回滚）后锁一定被释放。
type Locker interface {
	Dialect() string
	// Acquire 在事务 tx 所在的连接上获取名为 name 的锁
	Acquire(ctx context.Context, tx *gorm.DB, name string) error
	// ReleaseAll 在事务结束后、连接归还连接池之前调用
	ReleaseAll(ctx context.Context, conn *gorm.DB)
}

// NewLocker 按方言创建锁实现
func NewLocker(dialect string, timeout time.Duration) (Locker, error) {
	switch dialect {
	case database.DialectMySQL:
		return &mysqlLocker{timeout: timeout}, nil
	case database.DialectPostgres:
		return &postgresLocker{timeout: timeout}, nil
	}
	return nil, errors.Errorf("no named lock for dialect %q", dialect)
}

// mysqlLocker 使用 GET_LOCK。MySQL 的用户锁属于会话而不是事务，
// 所以整个事务固定在同一条连接上，并在事务结束后 RELEASE_ALL_LOCKS。
type mysqlLocker struct {
	timeout time.Duration
}

func (l *mysqlLocker) Dialect() string { return database.DialectMySQL }

func (l *mysqlLocker) Acquire(ctx context.Context, tx *gorm.DB, name string) error {
	var got sql.NullInt64
	err := tx.WithContext(ctx).Raw("SELECT GET_LOCK(?, ?)", mysqlLockName(name), lockSeconds(l.timeout)).Row().Scan(&got)
	if err != nil {
		return errors.Wrapf(classifyError(err), "get_lock %s", name)
	}
	switch {
	case !got.Valid:
		return errors.Errorf("get_lock %s returned NULL", name)
	case got.Int64 == 0:
		return errors.Wrapf(domain.ErrLockTimeout, "get_lock %s", name)
	}
	return nil
}

func (l *mysqlLocker) ReleaseAll(ctx context.Context, conn *gorm.DB) {
	if err := conn.WithContext(context.WithoutCancel(ctx)).Exec("SELECT RELEASE_ALL_LOCKS()").Error; err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("❌ RELEASE_ALL_LOCKS failed")
	}
}

// mysqlLockName MySQL 的锁名最长 64 个字符，统一哈希成固定长度
func mysqlLockName(name string) string {
	sum := sha1.Sum([]byte(name))
	return "wms:" + hex.EncodeToString(sum[:])
}

// lockSeconds GET_LOCK 的超时单位是秒，向上取整；<=0 表示无限等待
func lockSeconds(d time.Duration) int {
	if d <= 0 {
		return -1
	}
	return int(math.Ceil(d.Seconds()))
}

// postgresLocker 使用事务级 advisory lock，提交或回滚时由数据库自动释放
type postgresLocker struct {
	timeout time.Duration
}

func (l *postgresLocker) Dialect() string { return database.DialectPostgres }

func (l *postgresLocker) Acquire(ctx context.Context, tx *gorm.DB, name string) error {
	db := tx.WithContext(ctx)
	if l.timeout > 0 {
		// SET LOCAL 只在当前事务内生效
		if err := db.Exec("SET LOCAL lock_timeout = " + strconv.FormatInt(l.timeout.Milliseconds(), 10)).Error; err != nil {
			return errors.Wrap(err, "set lock_timeout")
		}
	}
	if err := db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", name).Error; err != nil {
		return errors.Wrapf(classifyError(err), "advisory lock %s", name)
	}
	return nil
}

func (l *postgresLocker) ReleaseAll(context.Context, *gorm.DB) {}
