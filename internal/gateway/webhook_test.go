package gateway

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"

	"iptvshop/internal/config"
)

func cryptomusTestConfig() config.CryptomusConfig {
	return config.CryptomusConfig{MerchantID: "merchant-1", APIKey: "cryptomus-key"}
}

func nowpaymentsTestConfig() config.NOWPaymentsConfig {
	return config.NOWPaymentsConfig{APIKey: "np-key", IPNSecret: "np-ipn-secret"}
}

func plisioTestConfig() config.PlisioConfig {
	return config.PlisioConfig{APIKey: "plisio-key"}
}

func voletTestConfig() config.VoletConfig {
	return config.VoletConfig{SCIName: "shop-sci", Account: "pay@shop.example", Secret: "volet-secret"}
}

func hoodpayTestConfig() config.HoodPayConfig {
	return config.HoodPayConfig{BusinessID: "biz-1", APIKey: "hp-key", WebhookSecret: "hp-wh-secret"}
}

func signCryptomusBody(t *testing.T, apiKey string, payload map[string]interface{}) []byte {
	t.Helper()
	unsigned, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	sum := md5.Sum([]byte(base64.StdEncoding.EncodeToString(unsigned) + apiKey))
	payload["sign"] = hex.EncodeToString(sum[:])
	signed, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestCryptomusWebhook(t *testing.T) {
	c := NewCryptomusClient(cryptomusTestConfig(), "https://shop.example")

	body := signCryptomusBody(t, "cryptomus-key", map[string]interface{}{
		"uuid":           "8b03432e-385b-4670-8d06-064591096795",
		"order_id":       "ORD-1",
		"status":         "paid",
		"network":        "tron",
		"payer_currency": "USDT",
		"payment_amount": "25.00",
	})

	ev, err := c.ParseWebhook(http.Header{}, body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.OrderNo != "ORD-1" || ev.RawStatus != "paid" {
		t.Errorf("event = %+v", ev)
	}
	if ev.ExternalID != "8b03432e-385b-4670-8d06-064591096795" {
		t.Errorf("external id = %q", ev.ExternalID)
	}
	patch, ok := ev.Patch.(CryptomusPatch)
	if !ok {
		t.Fatalf("patch type %T", ev.Patch)
	}
	if patch.Network != "tron" || patch.ActualPaid != "25.00" || !patch.FromWebhook {
		t.Errorf("patch = %+v", patch)
	}
}

func TestCryptomusWebhookRejectsBadSignature(t *testing.T) {
	c := NewCryptomusClient(cryptomusTestConfig(), "https://shop.example")

	body := signCryptomusBody(t, "wrong-key", map[string]interface{}{
		"uuid": "u-1", "order_id": "ORD-1", "status": "paid",
	})
	if _, err := c.ParseWebhook(http.Header{}, body); !errors.Is(err, ErrBadSignature) {
		t.Errorf("forged sign: err = %v, want ErrBadSignature", err)
	}

	if _, err := c.ParseWebhook(http.Header{}, []byte(`{"uuid":"u-1","status":"paid"}`)); !errors.Is(err, ErrBadSignature) {
		t.Errorf("missing sign: err = %v, want ErrBadSignature", err)
	}

	if _, err := c.ParseWebhook(http.Header{}, []byte("not json")); !errors.Is(err, ErrBadPayload) {
		t.Errorf("garbage body: err = %v, want ErrBadPayload", err)
	}
}

func signNOWPaymentsBody(t *testing.T, secret string, body []byte) string {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatal(err)
	}
	sorted, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(sorted)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestNOWPaymentsWebhook(t *testing.T) {
	c := NewNOWPaymentsClient(nowpaymentsTestConfig(), "https://shop.example")

	body := []byte(`{"payment_id":6271873,"invoice_id":4031,"order_id":"ORD-2","payment_status":"finished","pay_currency":"btc","payin_hash":"0xdead","actually_paid":0.0006}`)
	h := http.Header{}
	h.Set("x-nowpayments-sig", signNOWPaymentsBody(t, "np-ipn-secret", body))

	ev, err := c.ParseWebhook(h, body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.OrderNo != "ORD-2" || ev.RawStatus != "finished" || ev.ExternalID != "6271873" {
		t.Errorf("event = %+v", ev)
	}
	patch := ev.Patch.(NOWPaymentsPatch)
	if patch.InvoiceID != "4031" || patch.PayCurrency != "btc" || patch.PayinHash != "0xdead" {
		t.Errorf("patch = %+v", patch)
	}
}

func TestNOWPaymentsWebhookRejectsBadSignature(t *testing.T) {
	c := NewNOWPaymentsClient(nowpaymentsTestConfig(), "https://shop.example")
	body := []byte(`{"payment_id":1,"order_id":"ORD-2","payment_status":"finished"}`)

	h := http.Header{}
	h.Set("x-nowpayments-sig", signNOWPaymentsBody(t, "other-secret", body))
	if _, err := c.ParseWebhook(h, body); !errors.Is(err, ErrBadSignature) {
		t.Errorf("forged sig: err = %v, want ErrBadSignature", err)
	}

	if _, err := c.ParseWebhook(http.Header{}, body); !errors.Is(err, ErrBadSignature) {
		t.Errorf("missing sig: err = %v, want ErrBadSignature", err)
	}
}

func signPlisioBody(t *testing.T, apiKey string, payload map[string]interface{}) []byte {
	t.Helper()
	unsigned, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	mac := hmac.New(sha1.New, []byte(apiKey))
	mac.Write(unsigned)
	payload["verify_hash"] = hex.EncodeToString(mac.Sum(nil))
	signed, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestPlisioWebhook(t *testing.T) {
	c := NewPlisioClient(plisioTestConfig(), "https://shop.example")

	body := signPlisioBody(t, "plisio-key", map[string]interface{}{
		"txn_id":        "txn-77",
		"order_number":  "ORD-3",
		"status":        "completed",
		"currency":      "LTC",
		"amount":        "0.41",
		"confirmations": "6",
	})

	ev, err := c.ParseWebhook(http.Header{}, body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.OrderNo != "ORD-3" || ev.RawStatus != "completed" || ev.ExternalID != "txn-77" {
		t.Errorf("event = %+v", ev)
	}
	patch := ev.Patch.(PlisioPatch)
	if patch.Currency != "LTC" || patch.ActualPaid != "0.41" || patch.Confirmations != 6 {
		t.Errorf("patch = %+v", patch)
	}
}

func TestPlisioWebhookRejectsBadSignature(t *testing.T) {
	c := NewPlisioClient(plisioTestConfig(), "https://shop.example")

	body := signPlisioBody(t, "stolen-key", map[string]interface{}{
		"txn_id": "txn-77", "order_number": "ORD-3", "status": "completed",
	})
	if _, err := c.ParseWebhook(http.Header{}, body); !errors.Is(err, ErrBadSignature) {
		t.Errorf("forged hash: err = %v, want ErrBadSignature", err)
	}

	if _, err := c.ParseWebhook(http.Header{}, []byte(`{"txn_id":"txn-77","status":"completed"}`)); !errors.Is(err, ErrBadSignature) {
		t.Errorf("missing hash: err = %v, want ErrBadSignature", err)
	}
}

func voletNotification(t *testing.T, secret, orderNo, amount string) []byte {
	t.Helper()
	form := url.Values{}
	form.Set("ac_transfer", "transfer-555")
	form.Set("ac_start_date", "2025-04-01 10:00:00")
	form.Set("ac_sci_name", "shop-sci")
	form.Set("ac_src_wallet", "U111111")
	form.Set("ac_dest_wallet", "U222222")
	form.Set("ac_order_id", orderNo)
	form.Set("ac_amount", amount)
	form.Set("ac_merchant_currency", "USD")
	hash := sha256.Sum256([]byte(strings.Join([]string{
		form.Get("ac_transfer"),
		form.Get("ac_start_date"),
		form.Get("ac_sci_name"),
		form.Get("ac_src_wallet"),
		form.Get("ac_dest_wallet"),
		form.Get("ac_order_id"),
		form.Get("ac_amount"),
		form.Get("ac_merchant_currency"),
		secret,
	}, ":")))
	form.Set("ac_hash", hex.EncodeToString(hash[:]))
	return []byte(form.Encode())
}

func TestVoletWebhook(t *testing.T) {
	c := NewVoletClient(voletTestConfig(), "https://shop.example")

	ev, err := c.ParseWebhook(http.Header{}, voletNotification(t, "volet-secret", "ORD-4", "9.99"))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.OrderNo != "ORD-4" || ev.ExternalID != "transfer-555" {
		t.Errorf("event = %+v", ev)
	}
	// A signed notification without ac_status is a settled transfer.
	if ev.RawStatus != "completed" {
		t.Errorf("raw status = %q, want completed", ev.RawStatus)
	}
	patch := ev.Patch.(VoletPatch)
	if patch.SrcWallet != "U111111" || patch.ActualPaid != "9.99" || !patch.FromWebhook {
		t.Errorf("patch = %+v", patch)
	}
}

func TestVoletWebhookRejectsBadSignature(t *testing.T) {
	c := NewVoletClient(voletTestConfig(), "https://shop.example")

	if _, err := c.ParseWebhook(http.Header{}, voletNotification(t, "leaked-secret", "ORD-4", "9.99")); !errors.Is(err, ErrBadSignature) {
		t.Errorf("forged hash: err = %v, want ErrBadSignature", err)
	}
	if _, err := c.ParseWebhook(http.Header{}, []byte("ac_order_id=ORD-4&ac_amount=9.99")); !errors.Is(err, ErrBadSignature) {
		t.Errorf("missing hash: err = %v, want ErrBadSignature", err)
	}
}

func stripeEventBody(apiVersion string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"api_version": %q,
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_test_1", "object": "checkout.session", "client_reference_id": "ORD-5", "amount_total": 1999, "metadata": {"order_no": "ORD-5"}}}
	}`, apiVersion))
}

func signStripeBody(body []byte, secret string) string {
	ts := time.Now()
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(webhook.ComputeSignature(ts, body, secret)))
}

func TestStripeWebhook(t *testing.T) {
	c := NewStripeClient(config.StripeConfig{SecretKey: "sk_test_x", WebhookSecret: "whsec_test"}, "https://shop.example")

	body := stripeEventBody(stripe.APIVersion)
	h := http.Header{}
	h.Set("Stripe-Signature", signStripeBody(body, "whsec_test"))

	ev, err := c.ParseWebhook(h, body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.OrderNo != "ORD-5" || ev.RawStatus != "checkout.session.completed" || ev.ExternalID != "cs_test_1" {
		t.Errorf("event = %+v", ev)
	}
	if MapStripeStatus(ev.RawStatus) != StatusCompleted {
		t.Errorf("mapped status for %q != completed", ev.RawStatus)
	}
	patch := ev.Patch.(StripePatch)
	if patch.ActualPaid != "19.99" || !patch.FromWebhook {
		t.Errorf("patch = %+v", patch)
	}
}

func TestStripeWebhookAcceptsOlderAPIVersion(t *testing.T) {
	c := NewStripeClient(config.StripeConfig{SecretKey: "sk_test_x", WebhookSecret: "whsec_test"}, "https://shop.example")

	// Accounts pinned to an older release train sign events with that
	// train's version string.
	body := stripeEventBody("2024-06-20")
	h := http.Header{}
	h.Set("Stripe-Signature", signStripeBody(body, "whsec_test"))

	ev, err := c.ParseWebhook(h, body)
	if err != nil {
		t.Fatalf("ParseWebhook rejected a validly signed older-version event: %v", err)
	}
	if ev.OrderNo != "ORD-5" || ev.ExternalID != "cs_test_1" {
		t.Errorf("event = %+v", ev)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	c := NewStripeClient(config.StripeConfig{SecretKey: "sk_test_x", WebhookSecret: "whsec_test"}, "https://shop.example")

	body := []byte(`{"type":"checkout.session.completed"}`)
	ts := time.Now()
	sig := fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(webhook.ComputeSignature(ts, body, "whsec_other")))
	h := http.Header{}
	h.Set("Stripe-Signature", sig)
	if _, err := c.ParseWebhook(h, body); !errors.Is(err, ErrBadSignature) {
		t.Errorf("forged sig: err = %v, want ErrBadSignature", err)
	}

	if _, err := c.ParseWebhook(http.Header{}, body); !errors.Is(err, ErrBadSignature) {
		t.Errorf("missing sig: err = %v, want ErrBadSignature", err)
	}
}

func TestHoodPayWebhook(t *testing.T) {
	c := NewHoodPayClient(hoodpayTestConfig(), "https://shop.example")

	body := []byte(`{"event":"payment.updated","data":{"id":4410,"status":"COMPLETED","amount":14.5,"metadata":{"order_no":"ORD-6"}}}`)
	mac := hmac.New(sha256.New, []byte("hp-wh-secret"))
	mac.Write(body)
	h := http.Header{}
	h.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))

	ev, err := c.ParseWebhook(h, body)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.OrderNo != "ORD-6" || ev.RawStatus != "COMPLETED" || ev.ExternalID != "4410" {
		t.Errorf("event = %+v", ev)
	}
	if MapHoodPayStatus(ev.RawStatus) != StatusCompleted {
		t.Errorf("mapped status for %q != completed", ev.RawStatus)
	}
}

func TestHoodPayWebhookRejectsBadSignature(t *testing.T) {
	c := NewHoodPayClient(hoodpayTestConfig(), "https://shop.example")
	body := []byte(`{"data":{"id":4410,"status":"COMPLETED"}}`)

	mac := hmac.New(sha256.New, []byte("other-secret"))
	mac.Write(body)
	h := http.Header{}
	h.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	if _, err := c.ParseWebhook(h, body); !errors.Is(err, ErrBadSignature) {
		t.Errorf("forged sig: err = %v, want ErrBadSignature", err)
	}

	if _, err := c.ParseWebhook(http.Header{}, body); !errors.Is(err, ErrBadSignature) {
		t.Errorf("missing sig: err = %v, want ErrBadSignature", err)
	}
}
