package affiliate

import (
	"go.uber.org/zap"

	"iptvshop/internal/models"
	"iptvshop/internal/repository"
)

const (
	settingPercent = "affiliate_percent"
	defaultPercent = 10
)

// Service pays referral cashback: when a referred customer's first
// order completes, the referrer's wallet is credited a percentage of
// the order total. The percentage is a runtime setting.
type Service struct {
	users    *repository.UserRepo
	orders   *repository.OrderRepo
	settings *repository.SettingRepo
	log      *zap.Logger
}

func NewService(users *repository.UserRepo, orders *repository.OrderRepo, settings *repository.SettingRepo, log *zap.Logger) *Service {
	return &Service{users: users, orders: orders, settings: settings, log: log}
}

func (s *Service) RewardFirstCompletion(o *models.Order) {
	if o.UserID == 0 || o.Purpose != models.PurposeSubscription {
		return
	}

	user, err := s.users.FindByID(o.UserID)
	if err != nil || !user.ReferredBy.Valid {
		return
	}

	completed, err := s.orders.ListByUser(user.ID)
	if err != nil {
		s.log.Error("affiliate order lookup failed", zap.Uint("user_id", user.ID), zap.Error(err))
		return
	}
	paid := 0
	for _, prev := range completed {
		if prev.PaymentStatus == models.PaymentCompleted || prev.PaymentStatus == models.PaymentRefunded {
			paid++
		}
	}
	// The completing order itself is already persisted as completed, so
	// anything beyond one paid order means cashback was handled before.
	if paid > 1 {
		return
	}

	referrer, err := s.users.FindByReferralCode(user.ReferredBy.String)
	if err != nil {
		return
	}

	percent := s.settings.GetInt(settingPercent, defaultPercent)
	if percent <= 0 {
		return
	}
	cashback := o.TotalCents * int64(percent) / 100
	if cashback <= 0 {
		return
	}

	if err := s.users.CreditBalance(referrer.ID, cashback); err != nil {
		s.log.Error("affiliate credit failed",
			zap.Uint("referrer_id", referrer.ID),
			zap.Int64("cents", cashback),
			zap.Error(err),
		)
		return
	}
	s.log.Info("affiliate cashback paid",
		zap.Uint("referrer_id", referrer.ID),
		zap.Uint("referred_user_id", user.ID),
		zap.String("order_no", o.OrderNo),
		zap.Int64("cents", cashback),
	)
}
