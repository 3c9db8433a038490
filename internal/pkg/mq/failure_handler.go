// internal/pkg/mq/failure_handler.go
package mq

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/segmentio/kafka-go"

	"nexus-wms/internal/pkg/logger"
)

// 重试 / 死信消息使用的消息头
const (
	HeaderRetryCount        = "x-retry-count"
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
)

// MessageWriter 是 FailureHandler 需要的最小写能力，*kafka.Writer 天然满足
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// FailureHandler 处理消费失败的消息：
// 重试次数未用尽时投递到重试主题，否则投递到死信主题 (DLT)。
type FailureHandler struct {
	maxRetries  int
	retryWriter MessageWriter
	dltWriter   MessageWriter
	closeOnce   sync.Once
}

// NewFailureHandler 创建一个失败处理器。retryWriter 为 nil 时失败消息直接进入死信。
func NewFailureHandler(maxRetries int, retryWriter, dltWriter MessageWriter) *FailureHandler {
	return &FailureHandler{
		maxRetries:  maxRetries,
		retryWriter: retryWriter,
		dltWriter:   dltWriter,
	}
}

// Handle 根据消息已重试的次数决定去向。返回错误说明转发失败，调用方不能提交 offset。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) error {
	retries, _ := strconv.Atoi(HeaderValue(msg.Headers, HeaderRetryCount))

	target := h.dltWriter
	targetName := "dlt"
	if h.retryWriter != nil && retries < h.maxRetries {
		target = h.retryWriter
		targetName = "retry"
	}

	out := kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: withFailureHeaders(msg, retries+1, cause),
	}
	InjectTraceContext(ctx, &out.Headers)

	if err := target.WriteMessages(ctx, out); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("target", targetName).
			Str("topic", msg.Topic).
			Int64("offset", msg.Offset).
			Msg("failed to forward failed message")
		return err
	}

	logger.Ctx(ctx).Warn().Err(cause).
		Str("target", targetName).
		Int("retry", retries+1).
		Str("topic", msg.Topic).
		Int64("offset", msg.Offset).
		Msg("message processing failed, forwarded")
	return nil
}

// Close 关闭底层 writer
func (h *FailureHandler) Close() error {
	var err error
	h.closeOnce.Do(func() {
		if h.retryWriter != nil {
			err = h.retryWriter.Close()
		}
		if dErr := h.dltWriter.Close(); dErr != nil && err == nil {
			err = dErr
		}
	})
	return err
}

func withFailureHeaders(msg kafka.Message, retry int, cause error) []kafka.Header {
	headers := make([]kafka.Header, 0, len(msg.Headers)+6)
	for _, h := range msg.Headers {
		switch h.Key {
		case HeaderRetryCount, HeaderExceptionFqcn, HeaderExceptionMessage:
			continue
		}
		headers = append(headers, h)
	}

	// 原始位置只记录第一次失败时的主题
	if HeaderValue(msg.Headers, HeaderOriginalTopic) == "" {
		headers = append(headers,
			kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
			kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
			kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		)
	}

	return append(headers,
		kafka.Header{Key: HeaderRetryCount, Value: []byte(strconv.Itoa(retry))},
		kafka.Header{Key: HeaderExceptionFqcn, Value: []byte(fmt.Sprintf("%T", cause))},
		kafka.Header{Key: HeaderExceptionMessage, Value: []byte(cause.Error())},
	)
}
