package persistence

import (
	"context"
	"time"

	"nexus-wms/internal/pkg/database"
	"nexus-wms/internal/service/reservation/domain"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const mysqlDuplicateEntry = 1062

// GormReservationRepository 是 ReservationRepository 的 GORM 实现，db 是当前事务
type GormReservationRepository struct {
	db      *gorm.DB
	dialect string
}

// Persist 先尝试插入头记录；与已存在的业务键冲突时改为按业务键更新。
// 冲突不是错误，并发的相同请求最终收敛到同一行。
func (r *GormReservationRepository) Persist(ctx context.Context, cmd domain.PersistCommand) (domain.PersistResult, error) {
	db := r.db.WithContext(ctx)
	now := time.Now().UTC()

	head := ReservationModel{
		Channel:       cmd.Key.Channel,
		Shop:          cmd.Key.Shop,
		Warehouse:     cmd.Key.Warehouse,
		Ref:           cmd.Key.Ref,
		Status:        string(domain.StatusOpen),
		CorrelationID: nullableString(cmd.CorrelationID),
		ExpireAt:      cmd.ExpireAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	created, err := r.insertIgnoringConflict(db, &head, "channel", "shop", "warehouse", "ref")
	if err != nil {
		return domain.PersistResult{}, errors.Wrap(err, "insert reservation")
	}

	id := head.ID
	if !created {
		existing, err := r.GetByKey(ctx, cmd.Key)
		if err != nil {
			return domain.PersistResult{}, err
		}
		id = existing.ID
		var expireAt, correlationID any
		if cmd.ExpireAt != nil {
			expireAt = cmd.ExpireAt.UTC()
		}
		if cmd.CorrelationID != "" {
			correlationID = cmd.CorrelationID
		}
		// 新的过期时间优先；关联 ID 以第一次写入的为准
		err = db.Model(&ReservationModel{}).Where("id = ?", id).Updates(map[string]any{
			"updated_at":     now,
			"expire_at":      gorm.Expr("COALESCE(?, expire_at)", expireAt),
			"correlation_id": gorm.Expr("COALESCE(correlation_id, ?)", correlationID),
		}).Error
		if err != nil {
			return domain.PersistResult{}, errors.Wrapf(err, "update reservation %d", id)
		}
	}

	for _, l := range cmd.Lines {
		res := db.Model(&ReservationLineModel{}).
			Where("reservation_id = ? AND line_no = ?", id, l.Sequence).
			Updates(map[string]any{"item": l.Item, "qty": l.Qty})
		if res.Error != nil {
			return domain.PersistResult{}, errors.Wrapf(res.Error, "update line %d of reservation %d", l.Sequence, id)
		}
		if res.RowsAffected > 0 {
			continue
		}
		line := ReservationLineModel{ReservationID: id, Sequence: l.Sequence, Item: l.Item, Qty: l.Qty}
		if _, err := r.insertIgnoringConflict(db, &line, "reservation_id", "line_no"); err != nil {
			return domain.PersistResult{}, errors.Wrapf(err, "insert line %d of reservation %d", l.Sequence, id)
		}
	}

	return domain.PersistResult{ReservationID: id, Created: created}, nil
}

// insertIgnoringConflict 插入一行，唯一键冲突时返回 (false, nil)。
// PostgreSQL 的冲突错误会让整个事务失效，所以用 ON CONFLICT DO NOTHING；
// MySQL 的冲突只回滚当前语句，直接识别 1062 即可。
func (r *GormReservationRepository) insertIgnoringConflict(db *gorm.DB, value any, uniqueColumns ...string) (bool, error) {
	if r.dialect == database.DialectPostgres {
		cols := make([]clause.Column, len(uniqueColumns))
		for i, c := range uniqueColumns {
			cols[i] = clause.Column{Name: c}
		}
		res := db.Clauses(clause.OnConflict{Columns: cols, DoNothing: true}).Create(value)
		return res.RowsAffected > 0, res.Error
	}

	err := db.Create(value).Error
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return false, nil
	}
	return err == nil, err
}

func (r *GormReservationRepository) GetByKey(ctx context.Context, key domain.BusinessKey) (*domain.Reservation, error) {
	var m ReservationModel
	err := r.db.WithContext(ctx).
		Where("channel = ? AND shop = ? AND warehouse = ? AND ref = ?", key.Channel, key.Shop, key.Warehouse, key.Ref).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get reservation %s", key)
	}
	return toDomainReservation(&m), nil
}

func (r *GormReservationRepository) GetByID(ctx context.Context, id int64) (*domain.Reservation, error) {
	var m ReservationModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get reservation %d", id)
	}
	return toDomainReservation(&m), nil
}

func (r *GormReservationRepository) GetLines(ctx context.Context, id int64) ([]domain.Line, error) {
	var models []ReservationLineModel
	err := r.db.WithContext(ctx).Where("reservation_id = ?", id).Order("line_no").Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "get lines of reservation %d", id)
	}
	return toDomainLines(models), nil
}

func (r *GormReservationRepository) MarkConsumed(ctx context.Context, id int64) error {
	db := r.db.WithContext(ctx)
	err := db.Model(&ReservationLineModel{}).
		Where("reservation_id = ?", id).
		Update("consumed_qty", gorm.Expr("qty")).Error
	if err != nil {
		return errors.Wrapf(err, "consume lines of reservation %d", id)
	}
	err = db.Model(&ReservationModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":     string(domain.StatusConsumed),
		"updated_at": time.Now().UTC(),
	}).Error
	return errors.Wrapf(err, "mark reservation %d consumed", id)
}

func (r *GormReservationRepository) MarkReleased(ctx context.Context, id int64, reason domain.Status) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&ReservationModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":      string(reason),
		"released_at": now,
		"updated_at":  now,
	}).Error
	return errors.Wrapf(err, "mark reservation %d %s", id, reason)
}

func (r *GormReservationRepository) OutstandingOpen(ctx context.Context, item, warehouse int64) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&ReservationLineModel{}).
		Select("COALESCE(SUM(reservation_lines.qty - reservation_lines.consumed_qty), 0)").
		Joins("JOIN reservations ON reservations.id = reservation_lines.reservation_id").
		Where("reservations.status = ? AND reservations.warehouse = ? AND reservation_lines.item = ?",
			string(domain.StatusOpen), warehouse, item).
		Scan(&total).Error
	if err != nil {
		return 0, errors.Wrapf(err, "sum open reservations of item %d", item)
	}
	return total, nil
}
