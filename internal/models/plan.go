package models

// Plan maps to the `plans` table: one purchasable IPTV subscription tier.
type Plan struct {
	ID           uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Code         string `gorm:"column:code;size:64;uniqueIndex" json:"code"`
	Name         string `gorm:"column:name;size:191" json:"name"`
	Description  string `gorm:"column:description;type:text" json:"description"`
	PriceCents   int64  `gorm:"column:price_cents" json:"price_cents"`
	DurationDays int    `gorm:"column:duration_days" json:"duration_days"`
	Connections  int    `gorm:"column:connections;default:1" json:"connections"`
	Active       bool   `gorm:"column:active;default:true" json:"active"`
	SortOrder    int    `gorm:"column:sort_order;default:0" json:"sort_order"`
}

func (Plan) TableName() string {
	return "plans"
}
