package persistence

import (
	"nexus-wms/internal/service/reservation/domain"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// 视为"锁等待超时"的驱动错误码
const (
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlock         = 1213
	mysqlUserLockDeadlock = 3058

	pgLockNotAvailable = "55P03"
	pgDeadlockDetected = "40P01"
)

// classifyError 把驱动层的锁冲突错误归一为 domain.ErrLockTimeout，其余错误原样返回
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrLockTimeout) {
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlLockWaitTimeout, mysqlDeadlock, mysqlUserLockDeadlock:
			return errors.Wrap(domain.ErrLockTimeout, myErr.Error())
		}
	}

	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected:
			return errors.Wrap(domain.ErrLockTimeout, pgErr.Error())
		}
	}
	return err
}
