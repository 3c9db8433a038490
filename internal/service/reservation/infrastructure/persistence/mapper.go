package persistence

import "nexus-wms/internal/service/reservation/domain"

// toDomainReservation 将数据库模型转换为领域模型
func toDomainReservation(m *ReservationModel) *domain.Reservation {
	if m == nil {
		return nil
	}
	r := &domain.Reservation{
		ID: m.ID,
		Key: domain.BusinessKey{
			Channel:   m.Channel,
			Shop:      m.Shop,
			Warehouse: m.Warehouse,
			Ref:       m.Ref,
		},
		Status:     domain.Status(m.Status),
		ExpireAt:   m.ExpireAt,
		ReleasedAt: m.ReleasedAt,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	if m.CorrelationID != nil {
		r.CorrelationID = *m.CorrelationID
	}
	return r
}

func toDomainLines(models []ReservationLineModel) []domain.Line {
	lines := make([]domain.Line, 0, len(models))
	for _, m := range models {
		lines = append(lines, domain.Line{
			Sequence:    m.Sequence,
			Item:        m.Item,
			Qty:         m.Qty,
			ConsumedQty: m.ConsumedQty,
		})
	}
	return lines
}

// nullableString 空串存成 NULL，COALESCE 才能按"先到者为准"工作
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
