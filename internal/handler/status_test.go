package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"iptvshop/internal/gateway"
	"iptvshop/internal/models"
	"iptvshop/internal/order"
)

// stubClient is a registry entry with scripted FetchStatus behavior.
type stubClient struct {
	key      gateway.Key
	fetchEv  *gateway.Event
	fetchErr error
}

func (s *stubClient) Key() gateway.Key { return s.key }

func (s *stubClient) CreateInvoice(context.Context, *models.Order) (*gateway.Invoice, error) {
	return nil, errors.New("not used")
}

func (s *stubClient) ParseWebhook(http.Header, []byte) (*gateway.Event, error) {
	return nil, errors.New("not used")
}

func (s *stubClient) FetchStatus(context.Context, string) (*gateway.Event, error) {
	return s.fetchEv, s.fetchErr
}

func statusContext(gatewayParam, orderNo string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/payments/"+gatewayParam+"/status/"+orderNo, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("gateway", "orderNo")
	c.SetParamValues(gatewayParam, orderNo)
	return c, rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) statusResponse {
	t.Helper()
	var envelope struct {
		Status bool           `json:"status"`
		Obj    statusResponse `json:"obj"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return envelope.Obj
}

func pendingCryptomusOrder(orderNo string) *models.Order {
	o := &models.Order{
		OrderNo:       orderNo,
		PaymentStatus: models.PaymentPending,
		OrderStatus:   "pending",
		PaymentMethod: "cryptomus",
	}
	o.Cryptomus.ExternalID = "u-1"
	o.Cryptomus.RawStatus = "check"
	return o
}

func TestStatusDegradesToPersistedOnFetchError(t *testing.T) {
	reg := gateway.NewRegistry(&stubClient{key: gateway.Cryptomus, fetchErr: errors.New("upstream 500")})
	applier := &fakeApplier{}
	h := NewStatusHandler(reg, newFakeOrders(pendingCryptomusOrder("ORD-1")), &fakeUsers{}, applier, zap.NewNop())

	c, rec := statusContext("cryptomus", "ORD-1")
	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even when the gateway is down", rec.Code)
	}
	resp := decodeStatus(t, rec)
	if resp.PaymentStatus != models.PaymentPending || resp.Live {
		t.Errorf("resp = %+v, want persisted pending with live=false", resp)
	}
	if resp.RawStatus != "check" {
		t.Errorf("raw status = %q, want last persisted", resp.RawStatus)
	}
	if len(applier.applied) != 0 {
		t.Error("a failed fetch must not reach the applicator")
	}
}

func TestStatusAppliesLiveUpdate(t *testing.T) {
	reg := gateway.NewRegistry(&stubClient{
		key: gateway.Cryptomus,
		fetchEv: &gateway.Event{
			ExternalID: "u-1",
			RawStatus:  "paid",
			Patch:      gateway.CryptomusPatch{UUID: "u-1", ActualPaid: "19.99"},
		},
	})
	applier := &fakeApplier{result: &order.Result{Previous: "pending", Current: "completed", Transitioned: true}}
	h := NewStatusHandler(reg, newFakeOrders(pendingCryptomusOrder("ORD-2")), &fakeUsers{}, applier, zap.NewNop())

	c, rec := statusContext("cryptomus", "ORD-2")
	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	resp := decodeStatus(t, rec)
	if resp.PaymentStatus != models.PaymentCompleted || !resp.Live {
		t.Errorf("resp = %+v, want live completed", resp)
	}
	if len(applier.applied) != 1 {
		t.Fatalf("applied %d updates, want 1", len(applier.applied))
	}
	if applier.applied[0].Source != order.SourcePoll {
		t.Errorf("source = %q, want poll", applier.applied[0].Source)
	}
}

func TestStatusTerminalOrderSkipsGateway(t *testing.T) {
	o := pendingCryptomusOrder("ORD-3")
	o.PaymentStatus = models.PaymentCompleted
	o.OrderStatus = models.PaymentCompleted

	// A client that would fail loudly if called.
	reg := gateway.NewRegistry(&stubClient{key: gateway.Cryptomus, fetchErr: errors.New("must not be called")})
	applier := &fakeApplier{}
	h := NewStatusHandler(reg, newFakeOrders(o), &fakeUsers{}, applier, zap.NewNop())

	c, rec := statusContext("cryptomus", "ORD-3")
	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	resp := decodeStatus(t, rec)
	if resp.PaymentStatus != models.PaymentCompleted || resp.Live {
		t.Errorf("resp = %+v, want persisted completed", resp)
	}
	if len(applier.applied) != 0 {
		t.Error("terminal orders must not be polled")
	}
}

func TestStatusUnknownOrder(t *testing.T) {
	reg := gateway.NewRegistry(&stubClient{key: gateway.Cryptomus})
	h := NewStatusHandler(reg, newFakeOrders(), &fakeUsers{}, &fakeApplier{}, zap.NewNop())

	c, rec := statusContext("cryptomus", "ORD-NOPE")
	if err := h.Handle(c); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
