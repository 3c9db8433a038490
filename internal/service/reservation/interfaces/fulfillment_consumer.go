package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"nexus-wms/internal/pkg/logger"
	"nexus-wms/internal/pkg/metrics"
	"nexus-wms/internal/pkg/mq"
	"nexus-wms/internal/service/reservation/application"
	"nexus-wms/internal/service/reservation/domain"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FulfillmentConsumerAdapter 监听拣货/发货事件并驱动 Consume。
// 事件可能早于预占到达，此时 Consume 返回 NOOP，消息照常提交。
type FulfillmentConsumerAdapter struct {
	reader         mq.MessageReader
	topic          string
	svc            *application.ReservationService
	failureHandler *mq.FailureHandler
	tracer         trace.Tracer
	retryBackoff   time.Duration
}

func NewFulfillmentConsumerAdapter(reader mq.MessageReader, topic string, svc *application.ReservationService,
	failureHandler *mq.FailureHandler, tracer trace.Tracer) *FulfillmentConsumerAdapter {
	return &FulfillmentConsumerAdapter{
		reader:         reader,
		topic:          topic,
		svc:            svc,
		failureHandler: failureHandler,
		tracer:         tracer,
		retryBackoff:   time.Second,
	}
}

// Run 阻塞消费，直到 ctx 取消
func (a *FulfillmentConsumerAdapter) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ Fulfillment consumer started")
	defer func() {
		if err := a.reader.Close(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("close fulfillment reader")
		}
		logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("🛑 Fulfillment consumer stopped")
	}()

	for {
		msg, err := a.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Ctx(ctx).Error().Err(err).Str("topic", a.topic).Msg("could not fetch message, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		// 处理成功或已移交给重试/死信才提交 offset，移交失败就原地重试同一条消息
		for {
			err := a.HandleMessage(ctx, msg)
			if err == nil {
				break
			}
			logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("❌ Could not hand off failed message, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.retryBackoff):
			}
		}

		if err := a.reader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Failed to commit messages")
		}
	}
}

// HandleMessage 处理一条消息，失败时交给 FailureHandler。
// 返回非 nil 表示消息既没有处理成功也没能转发出去，调用方不能提交 offset。
func (a *FulfillmentConsumerAdapter) HandleMessage(ctx context.Context, msg kafka.Message) error {
	msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
	msgCtx, span := a.tracer.Start(msgCtx, "consumer.Fulfillment", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	)

	eventType, err := a.process(msgCtx, msg)
	if err == nil {
		return nil
	}
	span.RecordError(err)
	metrics.FulfillmentEvents.WithLabelValues(eventType, "ERROR").Inc()
	if a.failureHandler == nil {
		logger.Ctx(msgCtx).Error().Err(err).Int64("offset", msg.Offset).Msg("❌ Fulfillment event dropped, no failure handler")
		return nil
	}
	if ferr := a.failureHandler.Handle(msgCtx, msg, err); ferr != nil {
		span.SetStatus(codes.Error, ferr.Error())
		return errors.Wrap(ferr, "forward failed fulfillment event")
	}
	return nil
}

func (a *FulfillmentConsumerAdapter) process(ctx context.Context, msg kafka.Message) (string, error) {
	var event domain.FulfillmentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return "UNKNOWN", errors.Wrap(err, "decode fulfillment event")
	}
	switch event.Type {
	case domain.FulfillmentPick, domain.FulfillmentShip:
	default:
		return "UNKNOWN", errors.Errorf("unsupported fulfillment event type %q", event.Type)
	}

	resp, err := a.svc.Consume(ctx, &application.KeyRequest{
		Channel:   event.Channel,
		Shop:      event.Shop,
		Warehouse: event.Warehouse,
		Ref:       event.Ref,
	})
	if err != nil {
		return string(event.Type), err
	}

	metrics.FulfillmentEvents.WithLabelValues(string(event.Type), resp.Status).Inc()
	logger.Ctx(ctx).Info().
		Str("event_id", event.EventID).
		Str("type", string(event.Type)).
		Str("ref", event.Ref).
		Str("result", resp.Status).
		Msg("Fulfillment event handled")
	return string(event.Type), nil
}
