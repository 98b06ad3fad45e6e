package models

// Coupon maps to the `coupons` table. Percent-off codes applied at checkout.
type Coupon struct {
	ID         uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Code       string `gorm:"column:code;size:64;uniqueIndex" json:"code"`
	PercentOff int    `gorm:"column:percent_off" json:"percent_off"`
	MaxUses    int    `gorm:"column:max_uses;default:0" json:"max_uses"`
	Used       int    `gorm:"column:used;default:0" json:"used"`
	ExpiresAt  int64  `gorm:"column:expires_at;default:0" json:"expires_at"`
	Active     bool   `gorm:"column:active;default:true" json:"active"`
}

func (Coupon) TableName() string {
	return "coupons"
}
