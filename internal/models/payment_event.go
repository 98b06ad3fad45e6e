package models

// PaymentEvent maps to the `payment_events` table: one row per gateway
// update applied to an order, forming the reconciliation audit trail.
type PaymentEvent struct {
	ID        uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OrderNo   string `gorm:"column:order_no;size:64;index" json:"order_no"`
	Gateway   string `gorm:"column:gateway;size:30" json:"gateway"`
	Source    string `gorm:"column:source;size:20" json:"source"` // webhook | poll | sweep
	RawStatus string `gorm:"column:raw_status;size:100" json:"raw_status"`
	OldStatus string `gorm:"column:old_status;size:20" json:"old_status"`
	NewStatus string `gorm:"column:new_status;size:20" json:"new_status"`
	CreatedAt int64  `gorm:"column:created_at;index" json:"created_at"`
}

func (PaymentEvent) TableName() string {
	return "payment_events"
}
