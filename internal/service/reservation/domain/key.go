// internal/service/reservation/domain/key.go
package domain

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// BusinessKey 唯一标识一笔业务预占：同一个渠道、店铺、仓库下的一个外部单据引用。
// 它同时也是命名互斥锁的键。
type BusinessKey struct {
	Channel   string
	Shop      string
	Warehouse int64
	Ref       string
}

// NewBusinessKey 规范化并校验一个业务键，渠道统一转成大写
func NewBusinessKey(channel, shop string, warehouse int64, ref string) (BusinessKey, error) {
	k := BusinessKey{
		Channel:   strings.ToUpper(strings.TrimSpace(channel)),
		Shop:      strings.TrimSpace(shop),
		Warehouse: warehouse,
		Ref:       strings.TrimSpace(ref),
	}
	if err := k.Validate(); err != nil {
		return BusinessKey{}, err
	}
	return k, nil
}

// Validate 检查业务键的各个部分是否齐全
func (k BusinessKey) Validate() error {
	switch {
	case k.Channel == "":
		return errors.Wrap(ErrInvalidKey, "channel is required")
	case k.Shop == "":
		return errors.Wrap(ErrInvalidKey, "shop is required")
	case k.Warehouse <= 0:
		return errors.Wrap(ErrInvalidKey, "warehouse must be positive")
	case k.Ref == "":
		return errors.Wrap(ErrInvalidKey, "ref is required")
	}
	return nil
}

// String 渲染成 channel:shop:warehouse:ref
func (k BusinessKey) String() string {
	return k.Channel + ":" + k.Shop + ":" + strconv.FormatInt(k.Warehouse, 10) + ":" + k.Ref
}

// LockName 业务键互斥锁的名字
func (k BusinessKey) LockName() string {
	return "rsv:" + k.String()
}

// StockLockName 某仓库某商品的互斥锁名字
func StockLockName(warehouse, item int64) string {
	return "stock:" + strconv.FormatInt(warehouse, 10) + ":" + strconv.FormatInt(item, 10)
}

// SortedStockLockNames 去重并按商品 ID 升序生成锁名，所有调用方按同一顺序加锁
func SortedStockLockNames(warehouse int64, items []int64) []string {
	uniq := make([]int64, 0, len(items))
	seen := make(map[int64]struct{}, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		uniq = append(uniq, it)
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })
	names := make([]string, len(uniq))
	for i, it := range uniq {
		names[i] = StockLockName(warehouse, it)
	}
	return names
}
