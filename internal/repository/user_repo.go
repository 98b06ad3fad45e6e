package repository

import (
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"

	"iptvshop/internal/models"
)

var ErrInsufficientBalance = errors.New("insufficient wallet balance")

type UserRepo struct {
	db *gorm.DB
}

func NewUserRepo(db *gorm.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) FindByID(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) FindByEmail(email string) (*models.User, error) {
	var u models.User
	if err := r.db.Where("email = ?", email).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) FindByToken(token string) (*models.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	var u models.User
	if err := r.db.Where("token = ?", token).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) FindByReferralCode(code string) (*models.User, error) {
	if code == "" {
		return nil, ErrNotFound
	}
	var u models.User
	if err := r.db.Where("referral_code = ?", code).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// FindOrCreateByEmail returns the user for an email, creating the
// account on first contact. referredBy is only recorded at creation.
func (r *UserRepo) FindOrCreateByEmail(email, fullName, referralCode, referredBy string) (*models.User, error) {
	u, err := r.FindByEmail(email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	u = &models.User{
		Email:        email,
		FullName:     fullName,
		ReferralCode: referralCode,
		CreatedAt:    time.Now().Unix(),
	}
	if referredBy != "" {
		u.ReferredBy = sql.NullString{String: referredBy, Valid: true}
	}
	if err := r.db.Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

func (r *UserRepo) SetToken(id uint, token string) error {
	return r.db.Model(&models.User{}).Where("id = ?", id).
		Update("token", sql.NullString{String: token, Valid: token != ""}).Error
}

// CreditBalance adds cents to the user's wallet atomically.
func (r *UserRepo) CreditBalance(id uint, cents int64) error {
	if cents <= 0 {
		return errors.New("credit amount must be positive")
	}
	return r.db.Model(&models.User{}).Where("id = ?", id).
		Update("balance_cents", gorm.Expr("balance_cents + ?", cents)).Error
}

// DebitBalance subtracts cents from the user's wallet, refusing to go
// negative. The conditional update makes concurrent debits safe.
func (r *UserRepo) DebitBalance(id uint, cents int64) error {
	if cents <= 0 {
		return errors.New("debit amount must be positive")
	}
	res := r.db.Model(&models.User{}).
		Where("id = ? AND balance_cents >= ?", id, cents).
		Update("balance_cents", gorm.Expr("balance_cents - ?", cents))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (r *UserRepo) FindAll(page, limit int, search string) ([]models.User, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	q := r.db.Model(&models.User{})
	if search != "" {
		like := "%" + search + "%"
		q = q.Where("email LIKE ? OR full_name LIKE ?", like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var users []models.User
	err := q.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&users).Error
	return users, total, err
}
