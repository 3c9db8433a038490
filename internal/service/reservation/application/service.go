package application

import (
	"context"
	"time"

	"nexus-wms/internal/pkg/logger"
	"nexus-wms/internal/pkg/metrics"
	"nexus-wms/internal/service/reservation/domain"
	"nexus-wms/internal/service/reservation/domain/port"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ReservationService 是预占的用例编排：Reserve 和 Consume 两个入口可以以任意顺序到达，
// 同一业务键上的所有操作都在命名互斥锁里串行执行。
type ReservationService struct {
	store     domain.Store
	oracle    *AvailabilityOracle
	ttl       port.TTLPolicy
	publisher port.EventPublisher
	cache     port.AvailabilityCache
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*ReservationService)

func WithTTLPolicy(p port.TTLPolicy) Option {
	return func(s *ReservationService) { s.ttl = p }
}

func WithPublisher(p port.EventPublisher) Option {
	return func(s *ReservationService) { s.publisher = p }
}

func WithAvailabilityCache(c port.AvailabilityCache) Option {
	return func(s *ReservationService) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *ReservationService) { s.now = now }
}

// NewReservationService 创建预占服务，未指定的依赖使用空实现
func NewReservationService(store domain.Store, tracer trace.Tracer, opts ...Option) *ReservationService {
	s := &ReservationService{
		store:     store,
		oracle:    NewAvailabilityOracle(),
		ttl:       port.FixedTTL(30),
		publisher: port.NopPublisher{},
		cache:     port.NopAvailabilityCache{},
		tracer:    tracer,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reserve 为业务键预占库存。
// 对已存在的 open 预占，只校验每个商品超出已预占部分的增量；任何一个商品不足则整体失败。
func (s *ReservationService) Reserve(ctx context.Context, req *ReserveRequest) (*ReserveResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.Reserve")
	defer span.End()

	key, err := domain.NewBusinessKey(req.Channel, req.Shop, req.Warehouse, req.Ref)
	if err != nil {
		return nil, s.fail(span, metrics.ReserveTotal, "invalid", err)
	}
	span.SetAttributes(attribute.String("reservation.key", key.String()))

	requested := make([]domain.RequestedLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		if l.Item <= 0 {
			return nil, s.fail(span, metrics.ReserveTotal, key.Channel,
				errors.Wrapf(domain.ErrInvalidLine, "item id %d", l.Item))
		}
		requested = append(requested, domain.RequestedLine{Item: l.Item, Qty: l.Qty})
	}
	lines := domain.AggregateLines(requested)
	if len(lines) == 0 {
		metrics.ReserveTotal.WithLabelValues(key.Channel, StatusOK).Inc()
		return &ReserveResponse{Status: StatusOK}, nil
	}

	expireAt, err := s.expireAt(ctx, key, lines, req.TTLMinutes)
	if err != nil {
		return nil, s.fail(span, metrics.ReserveTotal, key.Channel, err)
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = key.Ref
	}

	var result domain.PersistResult
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Lock(ctx, key); err != nil {
			return err
		}
		repo := tx.Reservations()

		var old []domain.Line
		existing, err := repo.GetByKey(ctx, key)
		switch {
		case err == nil:
			if existing.Status.IsTerminal() {
				return errors.Wrapf(domain.ErrReservationNotOpen, "%s is %s", key, existing.Status)
			}
			if old, err = repo.GetLines(ctx, existing.ID); err != nil {
				return err
			}
		case errors.Is(err, domain.ErrReservationNotFound):
		default:
			return err
		}

		// 行按行号覆盖且从不删除，增量要按写入后的实际行集合计算
		previous := domain.QtyByItem(old)
		projectedLines := domain.OverlayLines(old, lines)
		projected := domain.QtyByItem(projectedLines)
		increments := make(map[int64]int64, len(projected))
		growing := make([]int64, 0, len(projected))
		for _, l := range projectedLines {
			if _, done := increments[l.Item]; done {
				continue
			}
			if inc := projected[l.Item] - previous[l.Item]; inc > 0 {
				increments[l.Item] = inc
				growing = append(growing, l.Item)
			}
		}
		// 不同业务键可能同时预占同一商品，校验和写入期间还要持有商品级的锁
		if err := tx.LockItems(ctx, key.Warehouse, growing); err != nil {
			return err
		}
		// 余量必须在商品锁之后读取，READ COMMITTED 下才能看到其他业务键已提交的预占
		for _, item := range growing {
			available, err := s.oracle.Available(ctx, tx, item, key.Warehouse)
			if err != nil {
				return err
			}
			if increments[item] > available {
				return &domain.ShortageError{Item: item, Warehouse: key.Warehouse, Need: increments[item], Available: available}
			}
		}

		result, err = repo.Persist(ctx, domain.PersistCommand{
			Key:           key,
			CorrelationID: correlationID,
			ExpireAt:      expireAt,
			Lines:         lines,
		})
		return err
	})
	if err != nil {
		return nil, s.fail(span, metrics.ReserveTotal, key.Channel, err)
	}

	metrics.ReserveTotal.WithLabelValues(key.Channel, StatusOK).Inc()
	span.SetAttributes(
		attribute.Int64("reservation.id", result.ReservationID),
		attribute.Bool("reservation.created", result.Created),
	)
	logger.Ctx(ctx).Info().
		Str("key", key.String()).
		Int64("reservation_id", result.ReservationID).
		Bool("created", result.Created).
		Int("lines", len(lines)).
		Msg("✅ Reservation held")

	s.afterCommit(ctx, domain.EventReserved, result.ReservationID, key, correlationID, lines)
	return &ReserveResponse{
		Status:        StatusOK,
		ReservationID: result.ReservationID,
		Created:       result.Created,
		Lines:         len(lines),
	}, nil
}

// Consume 在拣货或发货发生时消耗预占。
// 预占不存在（履约事件先到）或已是终态时返回 NOOP，不创建任何状态；只有存储错误会返回 error。
func (s *ReservationService) Consume(ctx context.Context, req *KeyRequest) (*TransitionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.Consume")
	defer span.End()

	key, err := domain.NewBusinessKey(req.Channel, req.Shop, req.Warehouse, req.Ref)
	if err != nil {
		return nil, s.fail(span, metrics.ConsumeTotal, "invalid", err)
	}
	span.SetAttributes(attribute.String("reservation.key", key.String()))

	resp := &TransitionResponse{Status: StatusNoop}
	var (
		consumed      []domain.Line
		correlationID string
	)
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Lock(ctx, key); err != nil {
			return err
		}
		repo := tx.Reservations()

		r, err := repo.GetByKey(ctx, key)
		if errors.Is(err, domain.ErrReservationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		resp.ReservationID = &r.ID
		if !r.IsOpen() {
			return nil
		}

		lines, err := repo.GetLines(ctx, r.ID)
		if err != nil {
			return err
		}
		if err := repo.MarkConsumed(ctx, r.ID); err != nil {
			return err
		}
		// 没有行的预占也要终结掉，但对调用方仍是 NOOP
		if len(lines) > 0 {
			resp.Status = StatusConsumed
			consumed = lines
			correlationID = r.CorrelationID
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(span, metrics.ConsumeTotal, key.Channel, err)
	}

	metrics.ConsumeTotal.WithLabelValues(key.Channel, resp.Status).Inc()
	span.SetAttributes(attribute.String("reservation.result", resp.Status))
	if resp.Status == StatusConsumed {
		logger.Ctx(ctx).Info().Str("key", key.String()).Int64("reservation_id", *resp.ReservationID).Msg("📦 Reservation consumed")
		s.afterCommit(ctx, domain.EventConsumed, *resp.ReservationID, key, correlationID, consumed)
	} else {
		logger.Ctx(ctx).Debug().Str("key", key.String()).Msg("Consume is a no-op")
	}
	return resp, nil
}

// Release 人工释放：不检查当前状态，存在即覆盖为 released。
func (s *ReservationService) Release(ctx context.Context, req *KeyRequest) (*TransitionResponse, error) {
	return s.release(ctx, req, domain.StatusReleased, false)
}

// Cancel 上游取消：只有 open 的预占会被置为 canceled，其余情况返回 NOOP。
func (s *ReservationService) Cancel(ctx context.Context, req *KeyRequest) (*TransitionResponse, error) {
	return s.release(ctx, req, domain.StatusCanceled, true)
}

func (s *ReservationService) release(ctx context.Context, req *KeyRequest, reason domain.Status, guarded bool) (*TransitionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.Release")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.reason", string(reason)))

	key, err := domain.NewBusinessKey(req.Channel, req.Shop, req.Warehouse, req.Ref)
	if err != nil {
		return nil, s.fail(span, metrics.ReleaseTotal, string(reason), err)
	}
	span.SetAttributes(attribute.String("reservation.key", key.String()))

	resp := &TransitionResponse{Status: StatusNoop}
	var (
		lines         []domain.Line
		correlationID string
	)
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Lock(ctx, key); err != nil {
			return err
		}
		repo := tx.Reservations()

		r, err := repo.GetByKey(ctx, key)
		if errors.Is(err, domain.ErrReservationNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		resp.ReservationID = &r.ID
		if guarded && !r.IsOpen() {
			return nil
		}
		if lines, err = repo.GetLines(ctx, r.ID); err != nil {
			return err
		}
		if err := repo.MarkReleased(ctx, r.ID, reason); err != nil {
			return err
		}
		correlationID = r.CorrelationID
		if guarded {
			resp.Status = StatusCanceled
		} else {
			resp.Status = StatusOK
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(span, metrics.ReleaseTotal, string(reason), err)
	}

	metrics.ReleaseTotal.WithLabelValues(string(reason), resp.Status).Inc()
	if resp.Status != StatusNoop {
		logger.Ctx(ctx).Info().Str("key", key.String()).Str("reason", string(reason)).Msg("🔓 Reservation released")
		s.afterCommit(ctx, domain.EventTypeFor(reason), *resp.ReservationID, key, correlationID, lines)
	}
	return resp, nil
}

// Availability 只读查询可用量，优先读缓存。结果不能用来做预占决策。
func (s *ReservationService) Availability(ctx context.Context, req *AvailabilityRequest) (*AvailabilityResponse, error) {
	ctx, span := s.tracer.Start(ctx, "service.Availability")
	defer span.End()

	if req.Warehouse <= 0 {
		err := errors.Wrap(domain.ErrInvalidKey, "warehouse must be positive")
		span.RecordError(err)
		return nil, err
	}
	for _, item := range req.Items {
		if item <= 0 {
			return nil, errors.Wrapf(domain.ErrInvalidLine, "item id %d", item)
		}
	}

	values, err := s.cache.GetMany(ctx, req.Warehouse, req.Items)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("availability cache read failed")
		values = nil
	}
	cached := true
	var missing []int64
	for _, item := range req.Items {
		if _, ok := values[item]; !ok {
			missing = append(missing, item)
		}
	}
	if len(missing) > 0 {
		cached = false
		var fresh map[int64]int64
		err := s.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			var err error
			fresh, err = s.oracle.AvailableMany(ctx, tx, req.Warehouse, missing)
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if err := s.cache.SetMany(ctx, req.Warehouse, fresh); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("availability cache write failed")
		}
		if values == nil {
			values = make(map[int64]int64, len(fresh))
		}
		for k, v := range fresh {
			values[k] = v
		}
	}

	resp := &AvailabilityResponse{Warehouse: req.Warehouse, Cached: cached, Items: make([]ItemAvailability, 0, len(req.Items))}
	for _, item := range req.Items {
		v := values[item]
		resp.Items = append(resp.Items, ItemAvailability{Item: item, Available: v, Display: max(v, 0)})
	}
	return resp, nil
}

func (s *ReservationService) expireAt(ctx context.Context, key domain.BusinessKey, lines []domain.Line, explicit *int) (*time.Time, error) {
	minutes := 0
	if explicit != nil {
		minutes = *explicit
	} else {
		m, err := s.ttl.TTLMinutes(ctx, key, lines)
		if err != nil {
			return nil, errors.Wrap(err, "evaluate ttl policy")
		}
		minutes = m
	}
	if minutes <= 0 {
		return nil, nil
	}
	t := s.now().UTC().Add(time.Duration(minutes) * time.Minute)
	return &t, nil
}

// afterCommit 发布生命周期事件并让展示缓存失效；失败只记录日志，已提交的结果不受影响
func (s *ReservationService) afterCommit(ctx context.Context, typ domain.EventType, id int64, key domain.BusinessKey, correlationID string, lines []domain.Line) {
	items := make([]int64, 0, len(lines))
	eventLines := make([]domain.EventLine, 0, len(lines))
	for _, l := range lines {
		items = append(items, l.Item)
		eventLines = append(eventLines, domain.EventLine{Item: l.Item, Qty: l.Qty})
	}

	if err := s.cache.Invalidate(ctx, key.Warehouse, items); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("warehouse", key.Warehouse).Msg("availability cache invalidation failed")
	}

	event := domain.LifecycleEvent{
		EventID:       uuid.NewString(),
		Type:          typ,
		ReservationID: id,
		Key:           key.String(),
		Channel:       key.Channel,
		Shop:          key.Shop,
		Warehouse:     key.Warehouse,
		Ref:           key.Ref,
		CorrelationID: correlationID,
		Items:         eventLines,
		OccurredAt:    s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event_type", string(typ)).Int64("reservation_id", id).Msg("❌ Failed to publish reservation event")
	}
}

// fail 统一记录错误指标和 span 状态
func (s *ReservationService) fail(span trace.Span, counter *prometheus.CounterVec, label string, err error) error {
	counter.WithLabelValues(label, "ERROR").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
