package adapter

import (
	"context"
	"encoding/json"

	"nexus-wms/internal/pkg/mq"
	"nexus-wms/internal/service/reservation/domain"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const headerEventType = "x-event-type"

// EventKafkaAdapter 实现了 port.EventPublisher，把生命周期事件写入 kafka。
// 消息 key 是业务键，同一业务键的事件落在同一分区，保持顺序。
type EventKafkaAdapter struct {
	writer mq.MessageWriter
}

func NewEventKafkaAdapter(writer mq.MessageWriter) *EventKafkaAdapter {
	return &EventKafkaAdapter{writer: writer}
}

func (a *EventKafkaAdapter) Publish(ctx context.Context, event domain.LifecycleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal reservation event")
	}
	err = mq.ProduceMessage(ctx, a.writer, []byte(event.Key), payload,
		kafka.Header{Key: headerEventType, Value: []byte(event.Type)})
	return errors.Wrapf(err, "publish %s for reservation %d", event.Type, event.ReservationID)
}

// Close 关闭底层的 writer
func (a *EventKafkaAdapter) Close() error {
	return a.writer.Close()
}
