package cron

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"iptvshop/internal/gateway"
	"iptvshop/internal/models"
	"iptvshop/internal/order"
	"iptvshop/internal/repository"
)

const reconcileBatchSize = 200

// Scheduler runs the two background jobs: the hourly sweep that
// expires stale pending orders and the reconciliation poll that asks
// gateways about pending payments whose webhooks may have been lost.
type Scheduler struct {
	cron       *cron.Cron
	orders     *repository.OrderRepo
	users      *repository.UserRepo
	events     *repository.EventRepo
	registry   *gateway.Registry
	applicator *order.Applicator
	pendingTTL time.Duration
	log        *zap.Logger
}

func NewScheduler(
	orders *repository.OrderRepo,
	users *repository.UserRepo,
	events *repository.EventRepo,
	registry *gateway.Registry,
	applicator *order.Applicator,
	pendingTTL time.Duration,
	log *zap.Logger,
) *Scheduler {
	return &Scheduler{
		cron:       cron.New(),
		orders:     orders,
		users:      users,
		events:     events,
		registry:   registry,
		applicator: applicator,
		pendingTTL: pendingTTL,
		log:        log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 * * * *", s.ExpireStalePending); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("*/10 * * * *", s.ReconcilePending); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("scheduler started",
		zap.Duration("pending_ttl", s.pendingTTL),
	)
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// ExpireStalePending closes pending orders older than the TTL. The
// conditional update leaves anything that completed in the meantime
// untouched.
func (s *Scheduler) ExpireStalePending() {
	cutoff := time.Now().Add(-s.pendingTTL).Unix()
	stale, err := s.orders.ListStalePending(cutoff)
	if err != nil {
		s.log.Error("stale order listing failed", zap.Error(err))
		return
	}

	expired := 0
	for _, o := range stale {
		won, err := s.orders.ClosePending(o.OrderNo, models.PaymentExpired)
		if err != nil {
			s.log.Error("order expiry failed", zap.String("order_no", o.OrderNo), zap.Error(err))
			continue
		}
		if !won {
			continue
		}
		expired++
		if err := s.events.Record(&models.PaymentEvent{
			OrderNo:   o.OrderNo,
			Gateway:   o.PaymentMethod,
			Source:    order.SourceSweep,
			RawStatus: "stale",
			OldStatus: models.PaymentPending,
			NewStatus: models.PaymentExpired,
		}); err != nil {
			s.log.Error("audit event write failed", zap.String("order_no", o.OrderNo), zap.Error(err))
		}
	}
	if len(stale) > 0 {
		s.log.Info("stale pending sweep finished",
			zap.Int("candidates", len(stale)),
			zap.Int("expired", expired),
		)
	}
}

// ReconcilePending asks each gateway about its pending payments and
// folds the answers through the same applicator the webhooks use. A
// gateway error just means no new information for that order.
func (s *Scheduler) ReconcilePending() {
	pending, err := s.orders.ListPendingForReconcile(reconcileBatchSize)
	if err != nil {
		s.log.Error("pending order listing failed", zap.Error(err))
		return
	}

	for i := range pending {
		o := pending[i]
		s.reconcileOne(&o)
	}
}

func (s *Scheduler) reconcileOne(o *models.Order) {
	key := gateway.Key(o.PaymentMethod)
	def, err := gateway.Lookup(key)
	if err != nil {
		return
	}
	attempt := def.Attempt(o)
	if attempt.ExternalID == "" {
		return
	}
	client, err := s.registry.Get(key)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ev, err := client.FetchStatus(ctx, attempt.ExternalID)
	if err != nil {
		s.log.Warn("reconcile fetch failed",
			zap.String("gateway", string(key)),
			zap.String("order_no", o.OrderNo),
			zap.Error(err),
		)
		return
	}

	upd := order.Update{
		Gateway:   key,
		Source:    order.SourcePoll,
		RawStatus: ev.RawStatus,
		Patch:     ev.Patch,
	}
	if o.Purpose == models.PurposeDeposit {
		userID, cents := o.UserID, o.TotalCents
		upd.OnCompleted = func(_ *models.Order) error {
			return s.users.CreditBalance(userID, cents)
		}
	}

	res, err := s.applicator.Apply(ctx, o, upd)
	if err != nil {
		s.log.Error("reconcile apply failed", zap.String("order_no", o.OrderNo), zap.Error(err))
		return
	}
	if res.Transitioned {
		s.log.Info("reconcile transitioned order",
			zap.String("order_no", o.OrderNo),
			zap.String("from", res.Previous),
			zap.String("to", res.Current),
		)
	}
}
