package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"iptvshop/internal/models"
)

var (
	ErrCouponExpired   = errors.New("coupon has expired")
	ErrCouponExhausted = errors.New("coupon has no uses left")
)

type PlanRepo struct {
	db *gorm.DB
}

func NewPlanRepo(db *gorm.DB) *PlanRepo {
	return &PlanRepo{db: db}
}

func (r *PlanRepo) ListActive() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Where("active = ?", true).Order("sort_order ASC, price_cents ASC").Find(&plans).Error
	return plans, err
}

func (r *PlanRepo) ListAll() ([]models.Plan, error) {
	var plans []models.Plan
	err := r.db.Order("sort_order ASC, price_cents ASC").Find(&plans).Error
	return plans, err
}

func (r *PlanRepo) FindByCode(code string) (*models.Plan, error) {
	var p models.Plan
	if err := r.db.Where("code = ?", code).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PlanRepo) Save(p *models.Plan) error {
	return r.db.Save(p).Error
}

func (r *PlanRepo) Delete(id uint) error {
	return r.db.Delete(&models.Plan{}, id).Error
}

type CouponRepo struct {
	db *gorm.DB
}

func NewCouponRepo(db *gorm.DB) *CouponRepo {
	return &CouponRepo{db: db}
}

// FindValid returns the coupon for a code only if it is active, not
// expired and not used up.
func (r *CouponRepo) FindValid(code string) (*models.Coupon, error) {
	var c models.Coupon
	if err := r.db.Where("code = ? AND active = ?", code, true).First(&c).Error; err != nil {
		return nil, err
	}
	if c.ExpiresAt > 0 && c.ExpiresAt < time.Now().Unix() {
		return nil, ErrCouponExpired
	}
	if c.MaxUses > 0 && c.Used >= c.MaxUses {
		return nil, ErrCouponExhausted
	}
	return &c, nil
}

// IncrementUse burns one use of the coupon, respecting the use cap
// under concurrent checkouts.
func (r *CouponRepo) IncrementUse(code string) error {
	res := r.db.Model(&models.Coupon{}).
		Where("code = ? AND (max_uses = 0 OR used < max_uses)", code).
		Update("used", gorm.Expr("used + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCouponExhausted
	}
	return nil
}

func (r *CouponRepo) ListAll() ([]models.Coupon, error) {
	var coupons []models.Coupon
	err := r.db.Order("id DESC").Find(&coupons).Error
	return coupons, err
}

func (r *CouponRepo) Save(c *models.Coupon) error {
	return r.db.Save(c).Error
}

func (r *CouponRepo) Delete(id uint) error {
	return r.db.Delete(&models.Coupon{}, id).Error
}
