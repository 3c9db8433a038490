package memory

import (
	"context"
	"sync"
	"time"

	"nexus-wms/internal/service/reservation/domain"
)

// namedLocks 是进程内的命名互斥锁表，每个名字对应一个容量为 1 的 channel。
// 名字一旦创建就不回收。
type namedLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newNamedLocks() *namedLocks {
	return &namedLocks{slots: make(map[string]chan struct{})}
}

func (l *namedLocks) slot(name string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[name]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[name] = ch
	}
	return ch
}

// acquire 阻塞直到拿到锁、ctx 取消或超时；timeout<=0 表示一直等待
func (l *namedLocks) acquire(ctx context.Context, name string, timeout time.Duration) error {
	ch := l.slot(name)
	select {
	case ch <- struct{}{}:
		return nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case ch <- struct{}{}:
		return nil
	case <-expired:
		return domain.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *namedLocks) release(name string) {
	<-l.slot(name)
}
