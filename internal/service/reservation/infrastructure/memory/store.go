// Package memory 提供进程内的预占存储，用于测试和本地开发。
// 事务通过撤销日志实现回滚，命名互斥锁由 namedLocks 提供。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"nexus-wms/internal/service/reservation/domain"
)

type stockKey struct {
	item      int64
	warehouse int64
}

type record struct {
	head  domain.Reservation
	lines []domain.Line // 按 Sequence 升序
}

func (r *record) clone() *record {
	c := &record{head: r.head, lines: append([]domain.Line(nil), r.lines...)}
	return c
}

// Store 是 domain.Store 的内存实现
type Store struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*record
	byKey  map[domain.BusinessKey]int64
	stock  map[stockKey]int64

	locks       *namedLocks
	lockTimeout time.Duration
	now         func() time.Time
}

type Option func(*Store)

// WithLockTimeout 设置等锁上限，默认 5 秒
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		byID:        make(map[int64]*record),
		byKey:       make(map[domain.BusinessKey]int64),
		stock:       make(map[stockKey]int64),
		locks:       newNamedLocks(),
		lockTimeout: 5 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetOnHand 设置账本在手数量，模拟账本侧的写入
func (s *Store) SetOnHand(item, warehouse, qty int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[stockKey{item, warehouse}] = qty
}

// Purge 物理删除一笔预占，模拟外部的清理任务
func (s *Store) Purge(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.byID[id]; ok {
		delete(s.byKey, r.head.Key)
		delete(s.byID, id)
	}
}

// Snapshot 返回一笔预占的当前提交状态
func (s *Store) Snapshot(key domain.BusinessKey) (domain.Reservation, []domain.Line, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return domain.Reservation{}, nil, false
	}
	r := s.byID[id].clone()
	return r.head, r.lines, true
}

// Count 返回预占总数
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// RunInTx 执行 fn；fn 出错或 panic 时按逆序撤销本事务的所有写入，然后释放本事务持有的锁
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx := &memTx{store: s, held: make(map[string]struct{})}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
		tx.releaseLocks()
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) FindExpired(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	type candidate struct {
		id       int64
		expireAt time.Time
	}
	var found []candidate
	for id, r := range s.byID {
		if r.head.Status == domain.StatusOpen && r.head.ExpireAt != nil && r.head.ExpireAt.Before(now) {
			found = append(found, candidate{id, *r.head.ExpireAt})
		}
	}
	s.mu.Unlock()

	sort.Slice(found, func(i, j int) bool {
		if !found[i].expireAt.Equal(found[j].expireAt) {
			return found[i].expireAt.Before(found[j].expireAt)
		}
		return found[i].id < found[j].id
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	ids := make([]int64, len(found))
	for i, c := range found {
		ids[i] = c.id
	}
	return ids, nil
}

type memTx struct {
	store *Store
	held  map[string]struct{}
	order []string
	undo  []func()
}

func (t *memTx) Lock(ctx context.Context, key domain.BusinessKey) error {
	return t.lock(ctx, key.LockName())
}

func (t *memTx) LockItems(ctx context.Context, warehouse int64, items []int64) error {
	for _, name := range domain.SortedStockLockNames(warehouse, items) {
		if err := t.lock(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// lock 在同一事务内可重入
func (t *memTx) lock(ctx context.Context, name string) error {
	if _, ok := t.held[name]; ok {
		return nil
	}
	if err := t.store.locks.acquire(ctx, name, t.store.lockTimeout); err != nil {
		return err
	}
	t.held[name] = struct{}{}
	t.order = append(t.order, name)
	return nil
}

func (t *memTx) releaseLocks() {
	for i := len(t.order) - 1; i >= 0; i-- {
		t.store.locks.release(t.order[i])
	}
	t.order = nil
	t.held = nil
}

func (t *memTx) rollback() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) Reservations() domain.ReservationRepository {
	return &repository{tx: t}
}

func (t *memTx) Ledger() domain.LedgerReader {
	return ledger{store: t.store}
}

type ledger struct {
	store *Store
}

func (l ledger) OnHand(ctx context.Context, item, warehouse int64) (int64, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return l.store.stock[stockKey{item, warehouse}], nil
}
