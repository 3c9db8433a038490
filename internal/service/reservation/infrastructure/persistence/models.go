package persistence

import "time"

// ReservationModel 是预占头在数据库中的表示，业务键唯一
type ReservationModel struct {
	ID            int64      `gorm:"primaryKey;autoIncrement"`
	Channel       string     `gorm:"size:32;not null;uniqueIndex:uk_reservation_key,priority:1"`
	Shop          string     `gorm:"size:64;not null;uniqueIndex:uk_reservation_key,priority:2"`
	Warehouse     int64      `gorm:"not null;uniqueIndex:uk_reservation_key,priority:3"`
	Ref           string     `gorm:"size:128;not null;uniqueIndex:uk_reservation_key,priority:4"`
	Status        string     `gorm:"size:16;not null;index:idx_reservation_expiry,priority:1"`
	CorrelationID *string    `gorm:"size:128"`
	ExpireAt      *time.Time `gorm:"index:idx_reservation_expiry,priority:2"`
	ReleasedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ReservationModel) TableName() string {
	return "reservations"
}

// ReservationLineModel (reservation_id, line_no) 唯一
type ReservationLineModel struct {
	ID            int64 `gorm:"primaryKey;autoIncrement"`
	ReservationID int64 `gorm:"not null;uniqueIndex:uk_reservation_line,priority:1"`
	Sequence      int   `gorm:"column:line_no;not null;uniqueIndex:uk_reservation_line,priority:2"`
	Item          int64 `gorm:"not null;index:idx_reservation_line_item"`
	Qty           int64 `gorm:"not null"`
	ConsumedQty   int64 `gorm:"not null;default:0"`
}

func (ReservationLineModel) TableName() string {
	return "reservation_lines"
}

// StockModel 是账本维护的库存余额表，本服务只读
type StockModel struct {
	ID        int64  `gorm:"primaryKey"`
	Item      int64  `gorm:"not null;index:idx_stock_item_wh,priority:1"`
	Warehouse int64  `gorm:"not null;index:idx_stock_item_wh,priority:2"`
	Location  string `gorm:"size:64"`
	Qty       int64  `gorm:"not null"`
}

func (StockModel) TableName() string {
	return "stocks"
}
