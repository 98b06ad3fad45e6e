package repository

import (
	"errors"
	"strconv"

	"gorm.io/gorm"

	"iptvshop/internal/models"
)

// SettingRepo reads and writes runtime key/value settings.
type SettingRepo struct {
	db *gorm.DB
}

func NewSettingRepo(db *gorm.DB) *SettingRepo {
	return &SettingRepo{db: db}
}

// Get returns the value for a key, or the fallback when unset.
func (r *SettingRepo) Get(key, fallback string) string {
	var s models.Setting
	if err := r.db.Where("name = ?", key).First(&s).Error; err != nil {
		return fallback
	}
	if s.Value == "" {
		return fallback
	}
	return s.Value
}

// GetInt returns the integer value for a key, or the fallback when
// unset or unparsable.
func (r *SettingRepo) GetInt(key string, fallback int) int {
	raw := r.Get(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func (r *SettingRepo) Set(key, value string) error {
	res := r.db.Model(&models.Setting{}).Where("name = ?", key).Update("value", value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.db.Create(&models.Setting{Key: key, Value: value}).Error
	}
	return nil
}

// Seed inserts defaults for keys that do not exist yet.
func (r *SettingRepo) Seed(defaults map[string]string) error {
	for key, value := range defaults {
		var s models.Setting
		err := r.db.Where("name = ?", key).First(&s).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := r.db.Create(&models.Setting{Key: key, Value: value}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *SettingRepo) All() ([]models.Setting, error) {
	var settings []models.Setting
	err := r.db.Order("name ASC").Find(&settings).Error
	return settings, err
}
