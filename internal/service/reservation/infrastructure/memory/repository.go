package memory

import (
	"context"
	"sort"

	"nexus-wms/internal/service/reservation/domain"
)

type repository struct {
	tx *memTx
}

// remember 记录 id 当前状态的撤销动作，调用方持有 store.mu
func (r *repository) remember(id int64) {
	s := r.tx.store
	if prev, ok := s.byID[id]; ok {
		saved := prev.clone()
		r.tx.undo = append(r.tx.undo, func() { s.byID[id] = saved })
	}
}

func (r *repository) Persist(ctx context.Context, cmd domain.PersistCommand) (domain.PersistResult, error) {
	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	id, exists := s.byKey[cmd.Key]
	if !exists {
		s.nextID++
		id = s.nextID
		s.byID[id] = &record{head: domain.Reservation{
			ID:            id,
			Key:           cmd.Key,
			Status:        domain.StatusOpen,
			CorrelationID: cmd.CorrelationID,
			ExpireAt:      cmd.ExpireAt,
			CreatedAt:     now,
			UpdatedAt:     now,
		}}
		s.byKey[cmd.Key] = id
		r.tx.undo = append(r.tx.undo, func() {
			delete(s.byKey, cmd.Key)
			delete(s.byID, id)
		})
	} else {
		r.remember(id)
		head := &s.byID[id].head
		head.UpdatedAt = now
		if cmd.ExpireAt != nil {
			head.ExpireAt = cmd.ExpireAt
		}
		if head.CorrelationID == "" {
			head.CorrelationID = cmd.CorrelationID
		}
	}

	rec := s.byID[id]
	for _, l := range cmd.Lines {
		updated := false
		for i := range rec.lines {
			if rec.lines[i].Sequence == l.Sequence {
				rec.lines[i].Item = l.Item
				rec.lines[i].Qty = l.Qty
				updated = true
				break
			}
		}
		if !updated {
			rec.lines = append(rec.lines, domain.Line{Sequence: l.Sequence, Item: l.Item, Qty: l.Qty})
		}
	}
	sort.Slice(rec.lines, func(i, j int) bool { return rec.lines[i].Sequence < rec.lines[j].Sequence })

	return domain.PersistResult{ReservationID: id, Created: !exists}, nil
}

func (r *repository) GetByKey(ctx context.Context, key domain.BusinessKey) (*domain.Reservation, error) {
	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	head := s.byID[id].head
	return &head, nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (*domain.Reservation, error) {
	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	head := rec.head
	return &head, nil
}

func (r *repository) GetLines(ctx context.Context, id int64) ([]domain.Line, error) {
	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return append([]domain.Line(nil), rec.lines...), nil
}

func (r *repository) MarkConsumed(ctx context.Context, id int64) error {
	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil
	}
	r.remember(id)
	for i := range rec.lines {
		rec.lines[i].ConsumedQty = rec.lines[i].Qty
	}
	rec.head.Status = domain.StatusConsumed
	rec.head.UpdatedAt = s.now().UTC()
	return nil
}

func (r *repository) MarkReleased(ctx context.Context, id int64, reason domain.Status) error {
	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil
	}
	r.remember(id)
	now := s.now().UTC()
	rec.head.Status = reason
	rec.head.ReleasedAt = &now
	rec.head.UpdatedAt = now
	return nil
}

func (r *repository) OutstandingOpen(ctx context.Context, item, warehouse int64) (int64, error) {
	s := r.tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, rec := range s.byID {
		if rec.head.Status != domain.StatusOpen || rec.head.Key.Warehouse != warehouse {
			continue
		}
		for _, l := range rec.lines {
			if l.Item == item {
				total += l.Outstanding()
			}
		}
	}
	return total, nil
}
