// internal/service/reservation/domain/reservation.go
package domain

import (
	"sort"
	"time"
)

// Reservation 是一笔预占的头信息，由业务键唯一确定。
type Reservation struct {
	ID            int64
	Key           BusinessKey
	Status        Status
	CorrelationID string
	ExpireAt      *time.Time // nil 表示永不过期
	ReleasedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsOpen 预占是否仍在占用库存
func (r *Reservation) IsOpen() bool {
	return r.Status == StatusOpen
}

// IsExpiredAt 判断预占在 now 时刻是否已经过期
func (r *Reservation) IsExpiredAt(now time.Time) bool {
	return r.IsOpen() && r.ExpireAt != nil && r.ExpireAt.Before(now)
}

// Line 是预占的一行，(预占, Sequence) 唯一。
type Line struct {
	Sequence    int
	Item        int64
	Qty         int64
	ConsumedQty int64
}

// Outstanding 尚未消耗、仍在占用的数量
func (l Line) Outstanding() int64 {
	return l.Qty - l.ConsumedQty
}

// RequestedLine 是调用方请求预占的一行，同一商品可能出现多次
type RequestedLine struct {
	Item int64
	Qty  int64
}

// AggregateLines 逐行丢弃数量 <=0 的请求，再按商品合并数量，
// 保持商品首次出现的顺序，并依次分配 1..N 的行号。
func AggregateLines(req []RequestedLine) []Line {
	totals := make(map[int64]int64, len(req))
	order := make([]int64, 0, len(req))
	for _, r := range req {
		if r.Qty <= 0 {
			continue
		}
		if _, seen := totals[r.Item]; !seen {
			order = append(order, r.Item)
		}
		totals[r.Item] += r.Qty
	}

	lines := make([]Line, 0, len(order))
	for _, item := range order {
		lines = append(lines, Line{Sequence: len(lines) + 1, Item: item, Qty: totals[item]})
	}
	return lines
}

// OverlayLines 返回 Persist 之后的行集合：按行号用 next 覆盖 old，old 中多出的行保留。
// 结果按行号升序。
func OverlayLines(old, next []Line) []Line {
	bySeq := make(map[int]Line, len(old)+len(next))
	for _, l := range old {
		bySeq[l.Sequence] = l
	}
	for _, l := range next {
		cur := bySeq[l.Sequence]
		cur.Sequence, cur.Item, cur.Qty = l.Sequence, l.Item, l.Qty
		bySeq[l.Sequence] = cur
	}
	out := make([]Line, 0, len(bySeq))
	for _, l := range bySeq {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// QtyByItem 汇总每个商品已预占的数量
func QtyByItem(lines []Line) map[int64]int64 {
	out := make(map[int64]int64, len(lines))
	for _, l := range lines {
		out[l.Item] += l.Qty
	}
	return out
}
