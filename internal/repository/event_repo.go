package repository

import (
	"time"

	"gorm.io/gorm"

	"iptvshop/internal/models"
)

// EventRepo appends the payment reconciliation audit trail.
type EventRepo struct {
	db *gorm.DB
}

func NewEventRepo(db *gorm.DB) *EventRepo {
	return &EventRepo{db: db}
}

func (r *EventRepo) Record(ev *models.PaymentEvent) error {
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().Unix()
	}
	return r.db.Create(ev).Error
}

func (r *EventRepo) ListByOrder(orderNo string) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	err := r.db.Where("order_no = ?", orderNo).Order("id ASC").Find(&events).Error
	return events, err
}
