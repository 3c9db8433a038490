// internal/service/reservation/domain/port/publisher.go
package port

import (
	"context"

	"nexus-wms/internal/service/reservation/domain"
)

// EventPublisher 把生命周期事件发布到事件总线。
// 只在事务提交之后调用，发布失败不影响已经提交的结果。
type EventPublisher interface {
	Publish(ctx context.Context, event domain.LifecycleEvent) error
}

// NopPublisher 在没有配置消息队列时使用
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.LifecycleEvent) error { return nil }
