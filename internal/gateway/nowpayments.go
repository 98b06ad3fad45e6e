package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"iptvshop/internal/config"
	"iptvshop/internal/models"
	"iptvshop/internal/pkg/httpclient"
)

const nowpaymentsBaseURL = "https://api.nowpayments.io/v1"

// MapNOWPaymentsStatus normalizes NOWPayments IPN statuses.
func MapNOWPaymentsStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "finished", "confirmed":
		return StatusCompleted
	case "failed":
		return StatusFailed
	case "expired":
		return StatusExpired
	case "refunded":
		return StatusRefunded
	default:
		// waiting, confirming, sending, partially_paid
		return StatusPending
	}
}

// NOWPaymentsPatch merges IPN/status fields into the order.
type NOWPaymentsPatch struct {
	PaymentID     string
	InvoiceID     string
	PayCurrency   string
	PayinHash     string
	ActualPaid    string
	Confirmations int
	FromWebhook   bool
}

func (p NOWPaymentsPatch) Apply(o *models.Order) {
	if p.PaymentID != "" {
		o.NowPayments.ExternalID = p.PaymentID
	}
	if p.InvoiceID != "" {
		o.NowPayments.InvoiceID = p.InvoiceID
	}
	if p.PayCurrency != "" {
		o.NowPayments.PayCurrency = p.PayCurrency
	}
	if p.PayinHash != "" {
		o.NowPayments.PayinHash = p.PayinHash
	}
	if p.ActualPaid != "" {
		o.NowPayments.ActualPaid = p.ActualPaid
	}
	if p.Confirmations > 0 {
		o.NowPayments.Confirmations = p.Confirmations
	}
	if p.FromWebhook {
		o.NowPayments.CallbackReceived = true
	}
}

// NOWPaymentsClient talks to the NOWPayments API.
type NOWPaymentsClient struct {
	cfg     config.NOWPaymentsConfig
	baseURL string
	appURL  string
	http    *httpclient.Client
}

func NewNOWPaymentsClient(cfg config.NOWPaymentsConfig, appBaseURL string) *NOWPaymentsClient {
	return &NOWPaymentsClient{
		cfg:     cfg,
		baseURL: nowpaymentsBaseURL,
		appURL:  strings.TrimRight(appBaseURL, "/"),
		http:    httpclient.New().WithHeader("x-api-key", cfg.APIKey),
	}
}

func (c *NOWPaymentsClient) Key() Key {
	return NOWPayments
}

func (c *NOWPaymentsClient) CreateInvoice(ctx context.Context, o *models.Order) (*Invoice, error) {
	resp, err := c.http.Post(ctx, c.baseURL+"/invoice", map[string]interface{}{
		"price_amount":     float64(o.TotalCents) / 100,
		"price_currency":   strings.ToLower(o.Currency),
		"order_id":         o.OrderNo,
		"ipn_callback_url": c.appURL + "/payments/nowpayments/webhook",
		"success_url":      c.appURL + "/order/" + o.OrderNo,
	})
	if err != nil {
		return nil, fmt.Errorf("nowpayments create invoice failed: %w", err)
	}

	var result struct {
		ID         json.Number `json:"id"`
		InvoiceURL string      `json:"invoice_url"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("nowpayments parse error: %w", err)
	}
	if result.InvoiceURL == "" {
		return nil, fmt.Errorf("nowpayments invoice response missing invoice_url")
	}
	return &Invoice{ExternalID: result.ID.String(), PayURL: result.InvoiceURL}, nil
}

// ipnSignature computes HMAC-SHA512 of the JSON payload with keys
// sorted, which is what NOWPayments signs.
func (c *NOWPaymentsClient) ipnSignature(body []byte) (string, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", err
	}
	sorted, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha512.New, []byte(c.cfg.IPNSecret))
	mac.Write(sorted)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (c *NOWPaymentsClient) ParseWebhook(header http.Header, body []byte) (*Event, error) {
	sig := strings.TrimSpace(header.Get("x-nowpayments-sig"))
	if sig == "" {
		return nil, ErrBadSignature
	}
	expected, err := c.ipnSignature(body)
	if err != nil {
		return nil, ErrBadPayload
	}
	if !hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected)) {
		return nil, ErrBadSignature
	}

	var payload struct {
		PaymentID     json.Number `json:"payment_id"`
		InvoiceID     json.Number `json:"invoice_id"`
		OrderID       string      `json:"order_id"`
		PaymentStatus string      `json:"payment_status"`
		PayCurrency   string      `json:"pay_currency"`
		PayinHash     string      `json:"payin_hash"`
		ActuallyPaid  json.Number `json:"actually_paid"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrBadPayload
	}

	return &Event{
		ExternalID: payload.PaymentID.String(),
		OrderNo:    payload.OrderID,
		RawStatus:  payload.PaymentStatus,
		Patch: NOWPaymentsPatch{
			PaymentID:   payload.PaymentID.String(),
			InvoiceID:   payload.InvoiceID.String(),
			PayCurrency: payload.PayCurrency,
			PayinHash:   payload.PayinHash,
			ActualPaid:  payload.ActuallyPaid.String(),
			FromWebhook: true,
		},
	}, nil
}

func (c *NOWPaymentsClient) FetchStatus(ctx context.Context, externalID string) (*Event, error) {
	resp, err := c.http.Get(ctx, c.baseURL+"/payment/"+externalID)
	if err != nil {
		return nil, fmt.Errorf("nowpayments status fetch failed: %w", err)
	}

	var result struct {
		PaymentID     json.Number `json:"payment_id"`
		OrderID       string      `json:"order_id"`
		PaymentStatus string      `json:"payment_status"`
		PayCurrency   string      `json:"pay_currency"`
		ActuallyPaid  json.Number `json:"actually_paid"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("nowpayments status parse error: %w", err)
	}
	if result.PaymentStatus == "" {
		return nil, fmt.Errorf("nowpayments status response missing payment_status")
	}

	return &Event{
		ExternalID: externalID,
		OrderNo:    result.OrderID,
		RawStatus:  result.PaymentStatus,
		Patch: NOWPaymentsPatch{
			PaymentID:   result.PaymentID.String(),
			PayCurrency: result.PayCurrency,
			ActualPaid:  result.ActuallyPaid.String(),
		},
	}, nil
}
