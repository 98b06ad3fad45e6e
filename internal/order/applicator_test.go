package order

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"iptvshop/internal/gateway"
	"iptvshop/internal/models"
)

type memOrderStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
}

func newMemOrderStore(orders ...*models.Order) *memOrderStore {
	s := &memOrderStore{orders: make(map[string]*models.Order)}
	for _, o := range orders {
		cp := *o
		s.orders[o.OrderNo] = &cp
	}
	return s
}

func (s *memOrderStore) Save(o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.OrderNo] = &cp
	return nil
}

func (s *memOrderStore) FindByOrderNo(orderNo string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNo]
	if !ok {
		return nil, errors.New("order not found")
	}
	cp := *o
	return &cp, nil
}

func (s *memOrderStore) CompleteIfPending(orderNo string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNo]
	if !ok {
		return false, errors.New("order not found")
	}
	if o.PaymentStatus == models.PaymentCompleted || o.PaymentStatus == models.PaymentRefunded {
		return false, nil
	}
	o.PaymentStatus = models.PaymentCompleted
	o.OrderStatus = models.PaymentCompleted
	return true, nil
}

func (s *memOrderStore) ClosePending(orderNo, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNo]
	if !ok {
		return false, errors.New("order not found")
	}
	if o.PaymentStatus != models.PaymentPending {
		return false, nil
	}
	o.PaymentStatus = to
	o.OrderStatus = to
	return true, nil
}

func (s *memOrderStore) MarkRefunded(orderNo string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderNo]
	if !ok {
		return false, errors.New("order not found")
	}
	if o.PaymentStatus != models.PaymentCompleted {
		return false, nil
	}
	o.PaymentStatus = models.PaymentRefunded
	o.OrderStatus = "refunded"
	return true, nil
}

func (s *memOrderStore) status(orderNo string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[orderNo].PaymentStatus
}

type memEventStore struct {
	mu     sync.Mutex
	events []models.PaymentEvent
}

func (s *memEventStore) Record(ev *models.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

func (s *memEventStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type countingProvisioner struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (p *countingProvisioner) ProvisionOrder(_ context.Context, _ *models.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return errors.New("panel unreachable")
	}
	return nil
}

type countingNotifier struct {
	mu        sync.Mutex
	completed int
	refunded  int
	failed    int
}

func (n *countingNotifier) PaymentCompleted(_ *models.Order) {
	n.mu.Lock()
	n.completed++
	n.mu.Unlock()
}

func (n *countingNotifier) PaymentRefunded(_ *models.Order) {
	n.mu.Lock()
	n.refunded++
	n.mu.Unlock()
}

func (n *countingNotifier) ProvisionFailed(_ *models.Order, _ error) {
	n.mu.Lock()
	n.failed++
	n.mu.Unlock()
}

type countingRewarder struct {
	mu    sync.Mutex
	calls int
}

func (r *countingRewarder) RewardFirstCompletion(_ *models.Order) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
}

func pendingOrder(orderNo string) *models.Order {
	return &models.Order{
		OrderNo:       orderNo,
		Email:         "customer@example.com",
		Purpose:       models.PurposeSubscription,
		Currency:      "USD",
		TotalCents:    1999,
		PaymentStatus: models.PaymentPending,
		OrderStatus:   "pending",
	}
}

func newTestApplicator(store *memOrderStore, events *memEventStore, prov *countingProvisioner, notif *countingNotifier, rew *countingRewarder) *Applicator {
	return NewApplicator(store, events, prov, rew, notif, zap.NewNop())
}

func TestApplyCompletionRunsSideEffectsOnce(t *testing.T) {
	store := newMemOrderStore(pendingOrder("ORD-1"))
	events := &memEventStore{}
	prov := &countingProvisioner{}
	notif := &countingNotifier{}
	rew := &countingRewarder{}
	app := newTestApplicator(store, events, prov, notif, rew)

	o, _ := store.FindByOrderNo("ORD-1")
	upd := Update{
		Gateway:   gateway.Cryptomus,
		Source:    SourceWebhook,
		RawStatus: "paid",
		Patch:     gateway.CryptomusPatch{UUID: "u-1", ActualPaid: "19.99", FromWebhook: true},
	}
	res, err := app.Apply(context.Background(), o, upd)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Transitioned || res.Current != models.PaymentCompleted {
		t.Fatalf("result = %+v", res)
	}
	if prov.calls != 1 || notif.completed != 1 || rew.calls != 1 {
		t.Errorf("side effects: provision=%d completed=%d reward=%d, want 1 each", prov.calls, notif.completed, rew.calls)
	}
	if events.count() != 1 {
		t.Errorf("audit events = %d, want 1", events.count())
	}

	saved, _ := store.FindByOrderNo("ORD-1")
	if saved.PaymentStatus != models.PaymentCompleted || saved.Cryptomus.UUID != "u-1" {
		t.Errorf("saved order = %+v", saved)
	}
	if !saved.Cryptomus.CallbackReceived || saved.Cryptomus.RawStatus != "paid" {
		t.Errorf("attempt fields not merged: %+v", saved.Cryptomus)
	}
}

func TestApplyDuplicateCompletionIsIgnored(t *testing.T) {
	store := newMemOrderStore(pendingOrder("ORD-2"))
	events := &memEventStore{}
	prov := &countingProvisioner{}
	notif := &countingNotifier{}
	app := newTestApplicator(store, events, prov, notif, &countingRewarder{})

	o, _ := store.FindByOrderNo("ORD-2")
	webhook := Update{Gateway: gateway.NOWPayments, Source: SourceWebhook, RawStatus: "finished",
		Patch: gateway.NOWPaymentsPatch{PaymentID: "900", FromWebhook: true}}
	if _, err := app.Apply(context.Background(), o, webhook); err != nil {
		t.Fatalf("first Apply: %v", err)
	}

	// The poller observes the same payment a moment later.
	o2, _ := store.FindByOrderNo("ORD-2")
	poll := Update{Gateway: gateway.NOWPayments, Source: SourcePoll, RawStatus: "finished",
		Patch: gateway.NOWPaymentsPatch{PaymentID: "900", PayinHash: "0xabc"}}
	res, err := app.Apply(context.Background(), o2, poll)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if res.Transitioned {
		t.Error("duplicate completion must not transition")
	}
	if res.Warning == "" {
		t.Error("duplicate completion should carry a warning")
	}
	if prov.calls != 1 || notif.completed != 1 {
		t.Errorf("side effects ran again: provision=%d completed=%d", prov.calls, notif.completed)
	}
	if events.count() != 1 {
		t.Errorf("audit events = %d, want 1", events.count())
	}

	// The late observation still enriches the attempt record.
	saved, _ := store.FindByOrderNo("ORD-2")
	if saved.NowPayments.PayinHash != "0xabc" {
		t.Errorf("payin hash not merged on duplicate: %+v", saved.NowPayments)
	}
}

func TestApplyConcurrentCompletionsOneWinner(t *testing.T) {
	store := newMemOrderStore(pendingOrder("ORD-3"))
	prov := &countingProvisioner{}
	notif := &countingNotifier{}
	app := newTestApplicator(store, &memEventStore{}, prov, notif, &countingRewarder{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	transitions := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, _ := store.FindByOrderNo("ORD-3")
			res, err := app.Apply(context.Background(), o, Update{
				Gateway:   gateway.Plisio,
				Source:    SourceWebhook,
				RawStatus: "completed",
				Patch:     gateway.PlisioPatch{TxnID: "txn-3", FromWebhook: true},
			})
			if err != nil {
				t.Errorf("Apply: %v", err)
				return
			}
			if res.Transitioned {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if transitions != 1 {
		t.Errorf("transitions = %d, want exactly 1", transitions)
	}
	if prov.calls != 1 {
		t.Errorf("provisioner calls = %d, want exactly 1", prov.calls)
	}
}

func TestApplyLateFailureDoesNotUndoCompletion(t *testing.T) {
	store := newMemOrderStore(pendingOrder("ORD-4"))
	app := newTestApplicator(store, &memEventStore{}, &countingProvisioner{}, &countingNotifier{}, &countingRewarder{})

	o, _ := store.FindByOrderNo("ORD-4")
	if _, err := app.Apply(context.Background(), o, Update{Gateway: gateway.Cryptomus, Source: SourceWebhook, RawStatus: "paid"}); err != nil {
		t.Fatal(err)
	}

	o2, _ := store.FindByOrderNo("ORD-4")
	res, err := app.Apply(context.Background(), o2, Update{Gateway: gateway.Cryptomus, Source: SourceWebhook, RawStatus: "fail"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Transitioned {
		t.Error("late failure must not transition a completed order")
	}
	if store.status("ORD-4") != models.PaymentCompleted {
		t.Errorf("status = %q, want completed", store.status("ORD-4"))
	}
}

func TestApplyExpiryOnlyFromPending(t *testing.T) {
	store := newMemOrderStore(pendingOrder("ORD-5"))
	events := &memEventStore{}
	app := newTestApplicator(store, events, &countingProvisioner{}, &countingNotifier{}, &countingRewarder{})

	o, _ := store.FindByOrderNo("ORD-5")
	res, err := app.Apply(context.Background(), o, Update{Gateway: gateway.HoodPay, Source: SourceSweep, RawStatus: "expired"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Transitioned || store.status("ORD-5") != models.PaymentExpired {
		t.Fatalf("expiry did not apply: %+v, status %q", res, store.status("ORD-5"))
	}

	// A second expiry is a no-op.
	o2, _ := store.FindByOrderNo("ORD-5")
	res2, err := app.Apply(context.Background(), o2, Update{Gateway: gateway.HoodPay, Source: SourceSweep, RawStatus: "expired"})
	if err != nil {
		t.Fatal(err)
	}
	if res2.Transitioned {
		t.Error("second expiry must not transition")
	}
	if events.count() != 1 {
		t.Errorf("audit events = %d, want 1", events.count())
	}
}

func TestApplyLatePaymentCompletesExpiredOrder(t *testing.T) {
	o := pendingOrder("ORD-6")
	o.PaymentStatus = models.PaymentExpired
	o.OrderStatus = models.PaymentExpired
	store := newMemOrderStore(o)
	prov := &countingProvisioner{}
	app := newTestApplicator(store, &memEventStore{}, prov, &countingNotifier{}, &countingRewarder{})

	loaded, _ := store.FindByOrderNo("ORD-6")
	res, err := app.Apply(context.Background(), loaded, Update{Gateway: gateway.Volet, Source: SourceWebhook, RawStatus: "completed"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Transitioned || store.status("ORD-6") != models.PaymentCompleted {
		t.Errorf("late payment should complete an expired order: %+v", res)
	}
	if prov.calls != 1 {
		t.Errorf("provisioner calls = %d, want 1", prov.calls)
	}
}

func TestApplyRefundRules(t *testing.T) {
	completed := pendingOrder("ORD-7")
	completed.PaymentStatus = models.PaymentCompleted
	store := newMemOrderStore(completed)
	notif := &countingNotifier{}
	app := newTestApplicator(store, &memEventStore{}, &countingProvisioner{}, notif, &countingRewarder{})

	o, _ := store.FindByOrderNo("ORD-7")
	res, err := app.Apply(context.Background(), o, Update{Gateway: gateway.Cryptomus, Source: SourceWebhook, RawStatus: "refund_paid"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Transitioned || store.status("ORD-7") != models.PaymentRefunded {
		t.Fatalf("refund from completed should apply: %+v", res)
	}
	if notif.refunded != 1 {
		t.Errorf("refund notifications = %d, want 1", notif.refunded)
	}

	// Refund from pending is ignored.
	store3 := newMemOrderStore(pendingOrder("ORD-9"))
	app3 := newTestApplicator(store3, &memEventStore{}, &countingProvisioner{}, &countingNotifier{}, &countingRewarder{})
	o3, _ := store3.FindByOrderNo("ORD-9")
	res3, err := app3.Apply(context.Background(), o3, Update{Gateway: gateway.NOWPayments, Source: SourceWebhook, RawStatus: "refunded"})
	if err != nil {
		t.Fatal(err)
	}
	if res3.Transitioned || store3.status("ORD-9") != models.PaymentPending {
		t.Errorf("refund from pending must be ignored: %+v", res3)
	}
	if res3.Warning == "" {
		t.Error("ignored refund should carry a warning")
	}
}

func TestApplyPendingRefreshesAttemptOnly(t *testing.T) {
	store := newMemOrderStore(pendingOrder("ORD-10"))
	events := &memEventStore{}
	app := newTestApplicator(store, events, &countingProvisioner{}, &countingNotifier{}, &countingRewarder{})

	o, _ := store.FindByOrderNo("ORD-10")
	res, err := app.Apply(context.Background(), o, Update{
		Gateway:   gateway.Cryptomus,
		Source:    SourcePoll,
		RawStatus: "confirmations",
		Patch:     gateway.CryptomusPatch{UUID: "u-10", Network: "eth"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Transitioned || res.Current != models.PaymentPending {
		t.Errorf("pending update must not transition: %+v", res)
	}
	if events.count() != 0 {
		t.Error("pending refresh must not write an audit event")
	}

	saved, _ := store.FindByOrderNo("ORD-10")
	if saved.Cryptomus.Network != "eth" || saved.Cryptomus.RawStatus != "confirmations" {
		t.Errorf("attempt not refreshed: %+v", saved.Cryptomus)
	}
	if saved.PaymentMethod != "cryptomus" {
		t.Errorf("payment method = %q", saved.PaymentMethod)
	}
}

func TestApplyStalePendingPollDoesNotRegressCompletion(t *testing.T) {
	store := newMemOrderStore(pendingOrder("ORD-13"))
	app := newTestApplicator(store, &memEventStore{}, &countingProvisioner{}, &countingNotifier{}, &countingRewarder{})

	// A poller loads the order while it is still pending.
	stale, _ := store.FindByOrderNo("ORD-13")

	// A webhook completes it before the poll result lands.
	fresh, _ := store.FindByOrderNo("ORD-13")
	if _, err := app.Apply(context.Background(), fresh, Update{Gateway: gateway.Cryptomus, Source: SourceWebhook, RawStatus: "paid"}); err != nil {
		t.Fatal(err)
	}

	// The stale pending observation arrives last.
	res, err := app.Apply(context.Background(), stale, Update{
		Gateway:   gateway.Cryptomus,
		Source:    SourcePoll,
		RawStatus: "check",
		Patch:     gateway.CryptomusPatch{Network: "tron"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Transitioned {
		t.Error("stale pending poll must not transition")
	}
	if res.Current != models.PaymentCompleted {
		t.Errorf("result current = %q, want completed", res.Current)
	}
	if store.status("ORD-13") != models.PaymentCompleted {
		t.Errorf("status = %q, stale pending poll regressed a completed order", store.status("ORD-13"))
	}
	saved, _ := store.FindByOrderNo("ORD-13")
	if saved.Cryptomus.Network != "tron" || saved.Cryptomus.RawStatus != "check" {
		t.Errorf("late attempt fields not merged: %+v", saved.Cryptomus)
	}
}

func TestApplyDepositOrderCreditsWalletOnce(t *testing.T) {
	dep := pendingOrder("ORD-11")
	dep.Purpose = models.PurposeDeposit
	store := newMemOrderStore(dep)
	prov := &countingProvisioner{}
	app := newTestApplicator(store, &memEventStore{}, prov, &countingNotifier{}, &countingRewarder{})

	credited := 0
	upd := Update{
		Gateway:   gateway.Stripe,
		Source:    SourceWebhook,
		RawStatus: "checkout.session.completed",
		OnCompleted: func(_ *models.Order) error {
			credited++
			return nil
		},
	}

	o, _ := store.FindByOrderNo("ORD-11")
	if _, err := app.Apply(context.Background(), o, upd); err != nil {
		t.Fatal(err)
	}
	o2, _ := store.FindByOrderNo("ORD-11")
	if _, err := app.Apply(context.Background(), o2, upd); err != nil {
		t.Fatal(err)
	}

	if credited != 1 {
		t.Errorf("wallet credited %d times, want 1", credited)
	}
	if prov.calls != 0 {
		t.Errorf("deposit orders must not be provisioned, calls = %d", prov.calls)
	}
}

func TestApplyProvisionFailureKeepsOrderCompleted(t *testing.T) {
	store := newMemOrderStore(pendingOrder("ORD-12"))
	prov := &countingProvisioner{fail: true}
	notif := &countingNotifier{}
	app := newTestApplicator(store, &memEventStore{}, prov, notif, &countingRewarder{})

	o, _ := store.FindByOrderNo("ORD-12")
	res, err := app.Apply(context.Background(), o, Update{Gateway: gateway.Plisio, Source: SourceWebhook, RawStatus: "completed"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Transitioned {
		t.Fatal("completion must still apply when provisioning fails")
	}
	if !strings.Contains(res.Warning, "provisioning failed") {
		t.Errorf("warning = %q", res.Warning)
	}
	if store.status("ORD-12") != models.PaymentCompleted {
		t.Errorf("status = %q, want completed", store.status("ORD-12"))
	}
	if notif.failed != 1 {
		t.Errorf("provision failure notifications = %d, want 1", notif.failed)
	}
}
