package repository

import (
	"time"

	"gorm.io/gorm"

	"iptvshop/internal/models"
)

type TicketRepo struct {
	db *gorm.DB
}

func NewTicketRepo(db *gorm.DB) *TicketRepo {
	return &TicketRepo{db: db}
}

func (r *TicketRepo) Create(t *models.Ticket, body string) error {
	now := time.Now().Unix()
	t.CreatedAt = now
	t.UpdatedAt = now
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return err
		}
		return tx.Create(&models.TicketMessage{
			TicketID:  t.ID,
			Body:      body,
			CreatedAt: now,
		}).Error
	})
}

func (r *TicketRepo) FindByID(id uint) (*models.Ticket, error) {
	var t models.Ticket
	if err := r.db.First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TicketRepo) ListByUser(userID uint) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := r.db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&tickets).Error
	return tickets, err
}

func (r *TicketRepo) ListAll(status string) ([]models.Ticket, error) {
	q := r.db.Order("updated_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var tickets []models.Ticket
	err := q.Find(&tickets).Error
	return tickets, err
}

func (r *TicketRepo) Messages(ticketID uint) ([]models.TicketMessage, error) {
	var msgs []models.TicketMessage
	err := r.db.Where("ticket_id = ?", ticketID).Order("id ASC").Find(&msgs).Error
	return msgs, err
}

// Reply appends a message and moves the ticket status: staff replies
// mark it answered, customer replies reopen it.
func (r *TicketRepo) Reply(ticketID uint, fromStaff bool, body string) error {
	now := time.Now().Unix()
	status := "open"
	if fromStaff {
		status = "answered"
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.TicketMessage{
			TicketID:  ticketID,
			FromStaff: fromStaff,
			Body:      body,
			CreatedAt: now,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Ticket{}).Where("id = ?", ticketID).
			Updates(map[string]interface{}{"status": status, "updated_at": now}).Error
	})
}

func (r *TicketRepo) Close(ticketID uint) error {
	return r.db.Model(&models.Ticket{}).Where("id = ?", ticketID).
		Updates(map[string]interface{}{"status": "closed", "updated_at": time.Now().Unix()}).Error
}
