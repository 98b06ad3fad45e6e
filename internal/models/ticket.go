package models

// Ticket maps to the `tickets` table.
type Ticket struct {
	ID        uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID    uint   `gorm:"column:user_id;index" json:"user_id"`
	Subject   string `gorm:"column:subject;size:300" json:"subject"`
	Status    string `gorm:"column:status;size:20;default:open" json:"status"` // open | answered | closed
	CreatedAt int64  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt int64  `gorm:"column:updated_at" json:"updated_at"`
}

func (Ticket) TableName() string {
	return "tickets"
}

// TicketMessage maps to the `ticket_messages` table.
type TicketMessage struct {
	ID        uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TicketID  uint   `gorm:"column:ticket_id;index" json:"ticket_id"`
	FromStaff bool   `gorm:"column:from_staff;default:false" json:"from_staff"`
	Body      string `gorm:"column:body;type:text" json:"body"`
	CreatedAt int64  `gorm:"column:created_at" json:"created_at"`
}

func (TicketMessage) TableName() string {
	return "ticket_messages"
}
