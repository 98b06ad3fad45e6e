package models

import "database/sql"

// User maps to the `users` table. Customers are identified by email;
// guests become users the first time an OTP login succeeds.
type User struct {
	ID           uint           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Email        string         `gorm:"column:email;size:191;uniqueIndex" json:"email"`
	FullName     string         `gorm:"column:full_name;size:191" json:"full_name"`
	BalanceCents int64          `gorm:"column:balance_cents;default:0" json:"balance_cents"`
	ReferralCode string         `gorm:"column:referral_code;size:32;uniqueIndex" json:"referral_code"`
	ReferredBy   sql.NullString `gorm:"column:referred_by;size:32" json:"referred_by"`
	Status       string         `gorm:"column:status;size:20;default:active" json:"status"`
	Token        sql.NullString `gorm:"column:token;size:100;index" json:"-"`
	CreatedAt    int64          `gorm:"column:created_at" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}
