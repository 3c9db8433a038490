package persistence

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// GormLedgerGateway 从账本维护的 stocks 表汇总在手数量
type GormLedgerGateway struct {
	db *gorm.DB
}

func NewGormLedgerGateway(db *gorm.DB) *GormLedgerGateway {
	return &GormLedgerGateway{db: db}
}

func (g *GormLedgerGateway) OnHand(ctx context.Context, item, warehouse int64) (int64, error) {
	var total int64
	err := g.db.WithContext(ctx).
		Model(&StockModel{}).
		Select("COALESCE(SUM(qty), 0)").
		Where("item = ? AND warehouse = ?", item, warehouse).
		Scan(&total).Error
	if err != nil {
		return 0, errors.Wrapf(err, "sum on-hand of item %d warehouse %d", item, warehouse)
	}
	return total, nil
}
