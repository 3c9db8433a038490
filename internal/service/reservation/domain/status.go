// internal/service/reservation/domain/status.go
package domain

// Status 定义了预占的生命周期状态。
// open 是唯一的非终态，终态之间没有任何转换。
type Status string

const (
	StatusOpen     Status = "open"     // 持有中，计入可用量扣减
	StatusConsumed Status = "consumed" // 已被拣货/发货消耗
	StatusReleased Status = "released" // 人工释放
	StatusExpired  Status = "expired"  // 过期回收
	StatusCanceled Status = "canceled" // 上游取消
)

// IsTerminal 终态的预占不再占用库存，也不能再被修改
func (s Status) IsTerminal() bool {
	return s != StatusOpen
}

// IsValid 判断状态值是否合法
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusConsumed, StatusReleased, StatusExpired, StatusCanceled:
		return true
	}
	return false
}
