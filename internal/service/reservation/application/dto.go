package application

// 接口返回的 status 取值
const (
	StatusOK       = "OK"
	StatusConsumed = "CONSUMED"
	StatusCanceled = "CANCELED"
	StatusNoop     = "NOOP"
)

// KeyRequest 用业务键定位一笔预占
type KeyRequest struct {
	Channel   string `json:"channel"`
	Shop      string `json:"shop"`
	Warehouse int64  `json:"warehouse"`
	Ref       string `json:"ref"`
}

type ReserveLine struct {
	Item int64 `json:"item"`
	Qty  int64 `json:"qty"`
}

// ReserveRequest 是预占请求，重复提交同一业务键会按增量校验
type ReserveRequest struct {
	KeyRequest
	Lines         []ReserveLine `json:"lines"`
	TTLMinutes    *int          `json:"ttl_minutes,omitempty"` // 不传时由 ttl 策略决定，<=0 表示永不过期
	CorrelationID string        `json:"correlation_id,omitempty"`
}

type ReserveResponse struct {
	Status        string `json:"status"`
	ReservationID int64  `json:"reservation_id,omitempty"`
	Created       bool   `json:"created"`
	Lines         int    `json:"lines"`
}

// TransitionResponse 是 consume / release / cancel 的返回
type TransitionResponse struct {
	Status        string `json:"status"`
	ReservationID *int64 `json:"reservation_id"`
}

type SweepResponse struct {
	Released int `json:"released"`
}

type AvailabilityRequest struct {
	Warehouse int64
	Items     []int64
}

// ItemAvailability 中 Available 是原始值，可能为负；Display 截断到 0 供展示
type ItemAvailability struct {
	Item      int64 `json:"item"`
	Available int64 `json:"available"`
	Display   int64 `json:"display"`
}

type AvailabilityResponse struct {
	Warehouse int64              `json:"warehouse"`
	Items     []ItemAvailability `json:"items"`
	Cached    bool               `json:"cached"`
}
