// internal/service/reservation/domain/event.go
package domain

import "time"

// EventType 预占生命周期事件类型
type EventType string

const (
	EventReserved EventType = "reservation.reserved"
	EventConsumed EventType = "reservation.consumed"
	EventReleased EventType = "reservation.released"
	EventCanceled EventType = "reservation.canceled"
	EventExpired  EventType = "reservation.expired"
)

// EventTypeFor 把终态映射成对应的事件类型
func EventTypeFor(s Status) EventType {
	switch s {
	case StatusConsumed:
		return EventConsumed
	case StatusCanceled:
		return EventCanceled
	case StatusExpired:
		return EventExpired
	case StatusReleased:
		return EventReleased
	}
	return EventReserved
}

// LifecycleEvent 在事务提交后发布到事件总线
type LifecycleEvent struct {
	EventID       string      `json:"event_id"`
	Type          EventType   `json:"type"`
	ReservationID int64       `json:"reservation_id"`
	Key           string      `json:"key"`
	Channel       string      `json:"channel"`
	Shop          string      `json:"shop"`
	Warehouse     int64       `json:"warehouse"`
	Ref           string      `json:"ref"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Items         []EventLine `json:"items,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

type EventLine struct {
	Item int64 `json:"item"`
	Qty  int64 `json:"qty"`
}

// FulfillmentEventType 上游履约事件类型
type FulfillmentEventType string

const (
	FulfillmentPick FulfillmentEventType = "PICK"
	FulfillmentShip FulfillmentEventType = "SHIP"
)

// FulfillmentEvent 是拣货/发货事件，任何一种都会触发 Consume
type FulfillmentEvent struct {
	EventID    string               `json:"event_id"`
	Type       FulfillmentEventType `json:"type"`
	Channel    string               `json:"channel"`
	Shop       string               `json:"shop"`
	Warehouse  int64                `json:"warehouse"`
	Ref        string               `json:"ref"`
	OccurredAt time.Time            `json:"occurred_at"`
}
