// internal/service/reservation/domain/errors.go
package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrReservationNotFound 业务键或 ID 没有对应的预占
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrInsufficientAvailable 增量超过了当前可用量，整个事务回滚
	ErrInsufficientAvailable = errors.New("insufficient available quantity")
	// ErrReservationNotOpen 对终态预占再次下发 reserve
	ErrReservationNotOpen = errors.New("reservation is not open")
	// ErrInvalidKey 业务键不完整
	ErrInvalidKey = errors.New("invalid business key")
	// ErrInvalidLine 行数据不合法
	ErrInvalidLine = errors.New("invalid reservation line")
	// ErrLockTimeout 在限定时间内没有拿到命名互斥锁，可以重试
	ErrLockTimeout = errors.New("lock wait timeout")
)

// ShortageError 携带缺货的明细，errors.Is(err, ErrInsufficientAvailable) 为真
type ShortageError struct {
	Item      int64
	Warehouse int64
	Need      int64
	Available int64
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("item %d in warehouse %d: need %d, available %d: %s",
		e.Item, e.Warehouse, e.Need, e.Available, ErrInsufficientAvailable)
}

func (e *ShortageError) Unwrap() error { return ErrInsufficientAvailable }
