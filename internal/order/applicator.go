package order

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"iptvshop/internal/gateway"
	"iptvshop/internal/models"
)

// Update sources, recorded on the audit trail.
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
	SourceSweep   = "sweep"
)

// Update is one normalized gateway observation to fold into an order.
type Update struct {
	Gateway   gateway.Key
	Source    string
	RawStatus string
	Patch     gateway.Patch

	// OnCompleted runs exactly once, when this update wins the
	// completion. Deposit orders use it to credit the wallet.
	OnCompleted func(o *models.Order) error
}

// Result reports what applying an update did to the order.
type Result struct {
	Previous     string
	Current      string
	Transitioned bool
	// Warning notes an update that was received but intentionally not
	// applied, e.g. a late failure on an already-completed order.
	Warning string
}

type orderStore interface {
	Save(o *models.Order) error
	FindByOrderNo(orderNo string) (*models.Order, error)
	CompleteIfPending(orderNo string) (bool, error)
	ClosePending(orderNo, to string) (bool, error)
	MarkRefunded(orderNo string) (bool, error)
}

type eventStore interface {
	Record(ev *models.PaymentEvent) error
}

// Provisioner delivers the purchased subscriptions after payment. It
// must be idempotent: the applicator may retry it on later updates if
// an earlier attempt failed.
type Provisioner interface {
	ProvisionOrder(ctx context.Context, o *models.Order) error
}

// Rewarder credits the referring user when a referred customer's first
// order completes.
type Rewarder interface {
	RewardFirstCompletion(o *models.Order)
}

// Notifier reports order lifecycle events to the operators' channel.
type Notifier interface {
	PaymentCompleted(o *models.Order)
	PaymentRefunded(o *models.Order)
	ProvisionFailed(o *models.Order, err error)
}

// Applicator folds gateway updates into orders. Transitions are
// monotonic: completed is sticky, failed and expired are only reachable
// from pending, refunded only from completed on gateways that support
// refunds. The conditional store updates make the downstream side
// effects of a completion run at most once no matter how many webhook
// deliveries and poll results race.
type Applicator struct {
	orders      orderStore
	events      eventStore
	provisioner Provisioner
	rewarder    Rewarder
	notifier    Notifier
	log         *zap.Logger
}

func NewApplicator(orders orderStore, events eventStore, provisioner Provisioner, rewarder Rewarder, notifier Notifier, log *zap.Logger) *Applicator {
	return &Applicator{
		orders:      orders,
		events:      events,
		provisioner: provisioner,
		rewarder:    rewarder,
		notifier:    notifier,
		log:         log,
	}
}

// Apply merges one update into the order. The returned error is a
// persistence failure; ignored updates come back as a Result with a
// Warning instead.
func (a *Applicator) Apply(ctx context.Context, o *models.Order, upd Update) (*Result, error) {
	def, err := gateway.Lookup(upd.Gateway)
	if err != nil {
		return nil, err
	}

	next := def.MapStatus(upd.RawStatus)
	res := &Result{Previous: o.PaymentStatus, Current: o.PaymentStatus}

	a.mergeAttempt(o, def, upd)

	switch next {
	case gateway.StatusCompleted:
		return a.applyCompleted(ctx, o, upd, res)

	case gateway.StatusFailed, gateway.StatusExpired:
		return a.applyClosed(o, upd, string(next), res)

	case gateway.StatusRefunded:
		return a.applyRefunded(o, def, upd, res)

	default:
		// Still pending: the attempt fields are worth keeping, but they
		// are persisted against a fresh read so a poll that loaded the
		// order before a racing completion cannot write pending back
		// over it.
		if err := a.saveOnFresh(o, upd); err != nil {
			return nil, err
		}
		res.Current = o.PaymentStatus
		return res, nil
	}
}

// mergeAttempt folds the gateway-specific fields into the order's
// sub-record for that gateway.
func (a *Applicator) mergeAttempt(o *models.Order, def gateway.Definition, upd Update) {
	if upd.Patch != nil {
		upd.Patch.Apply(o)
	}
	attempt := def.Attempt(o)
	attempt.RawStatus = upd.RawStatus
	attempt.StatusUpdatedAt = time.Now().Unix()
	if o.PaymentMethod == "" {
		o.PaymentMethod = string(upd.Gateway)
	}
}

func (a *Applicator) applyCompleted(ctx context.Context, o *models.Order, upd Update, res *Result) (*Result, error) {
	won, err := a.orders.CompleteIfPending(o.OrderNo)
	if err != nil {
		return nil, err
	}
	if !won {
		// Somebody else completed it first, or it is refunded. The
		// attempt fields are still worth keeping.
		res.Warning = fmt.Sprintf("completion for order %s ignored, already %s", o.OrderNo, res.Previous)
		return res, a.saveOnFresh(o, upd)
	}

	o.PaymentStatus = models.PaymentCompleted
	o.OrderStatus = models.PaymentCompleted
	o.PaymentMethod = string(upd.Gateway)
	res.Current = models.PaymentCompleted
	res.Transitioned = true

	if err := a.orders.Save(o); err != nil {
		return nil, err
	}
	a.record(o, upd, res)
	a.log.Info("order completed",
		zap.String("order_no", o.OrderNo),
		zap.String("gateway", string(upd.Gateway)),
		zap.String("source", upd.Source),
		zap.String("raw_status", upd.RawStatus),
	)

	if upd.OnCompleted != nil {
		if err := upd.OnCompleted(o); err != nil {
			a.log.Error("completion callback failed", zap.String("order_no", o.OrderNo), zap.Error(err))
			res.Warning = "completion callback failed: " + err.Error()
		}
	}

	if o.Purpose == models.PurposeSubscription && a.provisioner != nil {
		if err := a.provisioner.ProvisionOrder(ctx, o); err != nil {
			a.log.Error("provisioning failed", zap.String("order_no", o.OrderNo), zap.Error(err))
			if a.notifier != nil {
				a.notifier.ProvisionFailed(o, err)
			}
			res.Warning = "provisioning failed: " + err.Error()
		}
	}

	if a.rewarder != nil {
		a.rewarder.RewardFirstCompletion(o)
	}
	if a.notifier != nil {
		a.notifier.PaymentCompleted(o)
	}
	return res, nil
}

func (a *Applicator) applyClosed(o *models.Order, upd Update, to string, res *Result) (*Result, error) {
	if res.Previous != models.PaymentPending {
		res.Warning = fmt.Sprintf("%s for order %s ignored, already %s", to, o.OrderNo, res.Previous)
		return res, a.saveOnFresh(o, upd)
	}

	won, err := a.orders.ClosePending(o.OrderNo, to)
	if err != nil {
		return nil, err
	}
	if !won {
		res.Warning = fmt.Sprintf("%s for order %s lost to a concurrent transition", to, o.OrderNo)
		return res, a.saveOnFresh(o, upd)
	}

	o.PaymentStatus = to
	o.OrderStatus = to
	res.Current = to
	res.Transitioned = true
	if err := a.orders.Save(o); err != nil {
		return nil, err
	}
	a.record(o, upd, res)
	a.log.Info("order closed",
		zap.String("order_no", o.OrderNo),
		zap.String("status", to),
		zap.String("source", upd.Source),
	)
	return res, nil
}

func (a *Applicator) applyRefunded(o *models.Order, def gateway.Definition, upd Update, res *Result) (*Result, error) {
	if !def.SupportsRefund {
		res.Warning = fmt.Sprintf("refund status from %s ignored, gateway does not support refunds", def.Key)
		return res, a.saveOnFresh(o, upd)
	}
	if res.Previous != models.PaymentCompleted {
		res.Warning = fmt.Sprintf("refund for order %s ignored, status is %s not completed", o.OrderNo, res.Previous)
		return res, a.saveOnFresh(o, upd)
	}

	won, err := a.orders.MarkRefunded(o.OrderNo)
	if err != nil {
		return nil, err
	}
	if !won {
		res.Warning = fmt.Sprintf("refund for order %s lost to a concurrent transition", o.OrderNo)
		return res, a.saveOnFresh(o, upd)
	}

	o.PaymentStatus = models.PaymentRefunded
	o.OrderStatus = "refunded"
	res.Current = models.PaymentRefunded
	res.Transitioned = true
	if err := a.orders.Save(o); err != nil {
		return nil, err
	}
	a.record(o, upd, res)
	a.log.Warn("order refunded",
		zap.String("order_no", o.OrderNo),
		zap.String("gateway", string(upd.Gateway)),
	)
	if a.notifier != nil {
		a.notifier.PaymentRefunded(o)
	}
	return res, nil
}

// saveOnFresh persists the merged attempt fields without clobbering a
// status another worker may have written since this order was loaded.
func (a *Applicator) saveOnFresh(o *models.Order, upd Update) error {
	fresh, err := a.orders.FindByOrderNo(o.OrderNo)
	if err != nil {
		return err
	}
	def, err := gateway.Lookup(upd.Gateway)
	if err != nil {
		return err
	}
	a.mergeAttempt(fresh, def, upd)
	if err := a.orders.Save(fresh); err != nil {
		return err
	}
	*o = *fresh
	return nil
}

func (a *Applicator) record(o *models.Order, upd Update, res *Result) {
	if a.events == nil {
		return
	}
	if err := a.events.Record(&models.PaymentEvent{
		OrderNo:   o.OrderNo,
		Gateway:   string(upd.Gateway),
		Source:    upd.Source,
		RawStatus: upd.RawStatus,
		OldStatus: res.Previous,
		NewStatus: res.Current,
	}); err != nil {
		a.log.Error("audit event write failed", zap.String("order_no", o.OrderNo), zap.Error(err))
	}
}
