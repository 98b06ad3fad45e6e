package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"iptvshop/internal/models"
)

var ErrNotFound = gorm.ErrRecordNotFound

// OrderRepo persists orders and owns the status transition guards. The
// conditional updates are what keeps concurrent webhook deliveries and
// poller runs from double-applying a completion.
type OrderRepo struct {
	db *gorm.DB
}

func NewOrderRepo(db *gorm.DB) *OrderRepo {
	return &OrderRepo{db: db}
}

func (r *OrderRepo) Create(o *models.Order) error {
	now := time.Now().Unix()
	o.CreatedAt = now
	o.UpdatedAt = now
	return r.db.Create(o).Error
}

func (r *OrderRepo) Save(o *models.Order) error {
	o.UpdatedAt = time.Now().Unix()
	return r.db.Save(o).Error
}

func (r *OrderRepo) FindByOrderNo(orderNo string) (*models.Order, error) {
	var o models.Order
	if err := r.db.Where("order_no = ?", orderNo).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepo) FindByID(id uint) (*models.Order, error) {
	var o models.Order
	if err := r.db.First(&o, id).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// FindByGatewayRef looks an order up by the gateway-assigned external id
// stored in the given column. Used when a webhook does not echo the
// order number.
func (r *OrderRepo) FindByGatewayRef(refColumn, externalID string) (*models.Order, error) {
	if externalID == "" {
		return nil, ErrNotFound
	}
	var o models.Order
	if err := r.db.Where(fmt.Sprintf("%s = ?", refColumn), externalID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// CompleteIfPending atomically flips the order to completed unless it
// already reached completed or refunded. The returned bool reports
// whether this caller won the transition; only the winner runs the
// downstream side effects.
func (r *OrderRepo) CompleteIfPending(orderNo string) (bool, error) {
	res := r.db.Model(&models.Order{}).
		Where("order_no = ? AND payment_status NOT IN ?", orderNo, []string{models.PaymentCompleted, models.PaymentRefunded}).
		Updates(map[string]interface{}{
			"payment_status": models.PaymentCompleted,
			"order_status":   models.PaymentCompleted,
			"updated_at":     time.Now().Unix(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClosePending moves a pending order to failed or expired. Terminal
// orders are left alone, so a late failure webhook cannot undo a
// completion.
func (r *OrderRepo) ClosePending(orderNo, to string) (bool, error) {
	if to != models.PaymentFailed && to != models.PaymentExpired {
		return false, errors.New("ClosePending accepts failed or expired only")
	}
	res := r.db.Model(&models.Order{}).
		Where("order_no = ? AND payment_status = ?", orderNo, models.PaymentPending).
		Updates(map[string]interface{}{
			"payment_status": to,
			"order_status":   to,
			"updated_at":     time.Now().Unix(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkRefunded moves a completed order to refunded. Refunds are only
// reachable from completed.
func (r *OrderRepo) MarkRefunded(orderNo string) (bool, error) {
	res := r.db.Model(&models.Order{}).
		Where("order_no = ? AND payment_status = ?", orderNo, models.PaymentCompleted).
		Updates(map[string]interface{}{
			"payment_status": models.PaymentRefunded,
			"order_status":   "refunded",
			"updated_at":     time.Now().Unix(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListStalePending returns pending orders created before the cutoff,
// for the hourly expiry sweep.
func (r *OrderRepo) ListStalePending(cutoff int64) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.
		Where("payment_status = ? AND created_at < ?", models.PaymentPending, cutoff).
		Find(&orders).Error
	return orders, err
}

// ListPendingForReconcile returns pending orders that already picked a
// payment method, for the reconciliation poller.
func (r *OrderRepo) ListPendingForReconcile(limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.
		Where("payment_status = ? AND payment_method <> ''", models.PaymentPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *OrderRepo) ListByUser(userID uint) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&orders).Error
	return orders, err
}

// FindAll returns a paginated order listing for the admin API, filtered
// by an optional search term and payment status.
func (r *OrderRepo) FindAll(page, limit int, search, status string) ([]models.Order, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	q := r.db.Model(&models.Order{})
	if search != "" {
		like := "%" + search + "%"
		q = q.Where("order_no LIKE ? OR email LIKE ? OR full_name LIKE ?", like, like, like)
	}
	if status != "" {
		q = q.Where("payment_status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var orders []models.Order
	err := q.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&orders).Error
	return orders, total, err
}

// Stats aggregates order counts and completed revenue for the admin
// dashboard.
type Stats struct {
	Total          int64 `json:"total"`
	Pending        int64 `json:"pending"`
	Completed      int64 `json:"completed"`
	Failed         int64 `json:"failed"`
	Expired        int64 `json:"expired"`
	Refunded       int64 `json:"refunded"`
	RevenueCents   int64 `json:"revenue_cents"`
	CompletedToday int64 `json:"completed_today"`
}

func (r *OrderRepo) Stats() (*Stats, error) {
	var s Stats
	counts := map[string]*int64{
		models.PaymentPending:   &s.Pending,
		models.PaymentCompleted: &s.Completed,
		models.PaymentFailed:    &s.Failed,
		models.PaymentExpired:   &s.Expired,
		models.PaymentRefunded:  &s.Refunded,
	}
	for status, dst := range counts {
		if err := r.db.Model(&models.Order{}).Where("payment_status = ?", status).Count(dst).Error; err != nil {
			return nil, err
		}
	}
	s.Total = s.Pending + s.Completed + s.Failed + s.Expired + s.Refunded

	var revenue struct{ Sum int64 }
	if err := r.db.Model(&models.Order{}).
		Select("COALESCE(SUM(total_cents), 0) AS sum").
		Where("payment_status = ?", models.PaymentCompleted).
		Scan(&revenue).Error; err != nil {
		return nil, err
	}
	s.RevenueCents = revenue.Sum

	dayStart := time.Now().Truncate(24 * time.Hour).Unix()
	if err := r.db.Model(&models.Order{}).
		Where("payment_status = ? AND updated_at >= ?", models.PaymentCompleted, dayStart).
		Count(&s.CompletedToday).Error; err != nil {
		return nil, err
	}
	return &s, nil
}
