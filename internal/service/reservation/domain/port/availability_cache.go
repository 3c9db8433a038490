// internal/service/reservation/domain/port/availability_cache.go
package port

import "context"

// AvailabilityCache 缓存只读展示用的可用量。
// 它从不参与预占校验，校验永远在事务内现算。
type AvailabilityCache interface {
	// GetMany 返回命中的部分，未命中的商品不在结果里
	GetMany(ctx context.Context, warehouse int64, items []int64) (map[int64]int64, error)
	SetMany(ctx context.Context, warehouse int64, values map[int64]int64) error
	Invalidate(ctx context.Context, warehouse int64, items []int64) error
}

// NopAvailabilityCache 永不命中
type NopAvailabilityCache struct{}

func (NopAvailabilityCache) GetMany(context.Context, int64, []int64) (map[int64]int64, error) {
	return nil, nil
}

func (NopAvailabilityCache) SetMany(context.Context, int64, map[int64]int64) error { return nil }

func (NopAvailabilityCache) Invalidate(context.Context, int64, []int64) error { return nil }
