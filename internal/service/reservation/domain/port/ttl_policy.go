// internal/service/reservation/domain/port/ttl_policy.go
package port

import (
	"context"

	"nexus-wms/internal/service/reservation/domain"
)

// TTLPolicy 在调用方没有指定 ttl 时决定预占的过期分钟数，<=0 表示永不过期
type TTLPolicy interface {
	TTLMinutes(ctx context.Context, key domain.BusinessKey, lines []domain.Line) (int, error)
}

// FixedTTL 总是返回固定的分钟数
type FixedTTL int

func (f FixedTTL) TTLMinutes(context.Context, domain.BusinessKey, []domain.Line) (int, error) {
	return int(f), nil
}
