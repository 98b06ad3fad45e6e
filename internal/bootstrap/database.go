package bootstrap

import (
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"iptvshop/internal/models"
	"iptvshop/internal/repository"
)

// Migrate creates or updates the schema for every model.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Plan{},
		&models.Coupon{},
		&models.Order{},
		&models.PaymentEvent{},
		&models.Ticket{},
		&models.TicketMessage{},
		&models.Setting{},
	)
}

// defaultSettings are the runtime settings seeded on first boot.
var defaultSettings = map[string]string{
	"affiliate_percent": "10",
	"store_name":        "IPTV Shop",
	"support_email":     "support@example.com",
}

// defaultPlans get the catalog off the ground; staff replace them from
// the admin API.
var defaultPlans = []models.Plan{
	{Code: "basic-1m", Name: "Basic 1 Month", PriceCents: 999, DurationDays: 30, Connections: 1, Active: true, SortOrder: 1},
	{Code: "premium-3m", Name: "Premium 3 Months", PriceCents: 2499, DurationDays: 90, Connections: 2, Active: true, SortOrder: 2},
	{Code: "premium-12m", Name: "Premium 12 Months", PriceCents: 7999, DurationDays: 365, Connections: 3, Active: true, SortOrder: 3},
}

// Seed inserts defaults that are missing. Existing rows are never
// touched.
func Seed(db *gorm.DB, settings *repository.SettingRepo, log *zap.Logger) error {
	if err := settings.Seed(defaultSettings); err != nil {
		return err
	}

	for _, plan := range defaultPlans {
		var existing models.Plan
		err := db.Where("code = ?", plan.Code).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Create(&plan).Error; err != nil {
			return err
		}
		log.Info("seeded plan", zap.String("code", plan.Code))
	}
	return nil
}
