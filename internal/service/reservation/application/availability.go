package application

import (
	"context"

	"nexus-wms/internal/service/reservation/domain"

	"github.com/pkg/errors"
)

// AvailabilityOracle 计算原始可用量 = 账本在手 - 所有 open 预占的未消耗量。
// 结果可能为负，不做截断；它自己不加锁，校验场景下调用方必须已持有业务键的锁。
type AvailabilityOracle struct{}

func NewAvailabilityOracle() *AvailabilityOracle {
	return &AvailabilityOracle{}
}

// Available 返回单个商品在仓库里的原始可用量
func (o *AvailabilityOracle) Available(ctx context.Context, tx domain.Tx, item, warehouse int64) (int64, error) {
	onHand, err := tx.Ledger().OnHand(ctx, item, warehouse)
	if err != nil {
		return 0, errors.Wrapf(err, "read on-hand of item %d", item)
	}
	reserved, err := tx.Reservations().OutstandingOpen(ctx, item, warehouse)
	if err != nil {
		return 0, errors.Wrapf(err, "sum open reservations of item %d", item)
	}
	return onHand - reserved, nil
}

// AvailableMany 批量查询，只用于只读展示
func (o *AvailabilityOracle) AvailableMany(ctx context.Context, tx domain.Tx, warehouse int64, items []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(items))
	for _, item := range items {
		if _, done := out[item]; done {
			continue
		}
		v, err := o.Available(ctx, tx, item, warehouse)
		if err != nil {
			return nil, err
		}
		out[item] = v
	}
	return out, nil
}
