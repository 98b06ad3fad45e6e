package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"iptvshop/internal/config"
	"iptvshop/internal/models"
	"iptvshop/internal/pkg/httpclient"
)

const hoodpayBaseURL = "https://api.hoodpay.io/v1"

// MapHoodPayStatus normalizes HoodPay payment statuses.
func MapHoodPayStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "payment_completed":
		return StatusCompleted
	case "failed", "cancelled", "canceled":
		return StatusFailed
	case "expired", "payment_expired":
		return StatusExpired
	default:
		// created, pending, processing, waiting_for_confirmations
		return StatusPending
	}
}

// HoodPayPatch merges HoodPay webhook fields into the order.
type HoodPayPatch struct {
	PaymentID   string
	CheckoutURL string
	ActualPaid  string
	FromWebhook bool
}

func (p HoodPayPatch) Apply(o *models.Order) {
	if p.PaymentID != "" {
		o.HoodPay.ExternalID = p.PaymentID
	}
	if p.CheckoutURL != "" {
		o.HoodPay.CheckoutURL = p.CheckoutURL
	}
	if p.ActualPaid != "" {
		o.HoodPay.ActualPaid = p.ActualPaid
	}
	if p.FromWebhook {
		o.HoodPay.CallbackReceived = true
	}
}

// HoodPayClient talks to the HoodPay business API.
type HoodPayClient struct {
	cfg     config.HoodPayConfig
	baseURL string
	appURL  string
	http    *httpclient.Client
}

func NewHoodPayClient(cfg config.HoodPayConfig, appBaseURL string) *HoodPayClient {
	return &HoodPayClient{
		cfg:     cfg,
		baseURL: hoodpayBaseURL,
		appURL:  strings.TrimRight(appBaseURL, "/"),
		http:    httpclient.New().WithBearerToken(cfg.APIKey),
	}
}

func (c *HoodPayClient) Key() Key {
	return HoodPay
}

func (c *HoodPayClient) CreateInvoice(ctx context.Context, o *models.Order) (*Invoice, error) {
	resp, err := c.http.Post(ctx, c.baseURL+"/businesses/"+c.cfg.BusinessID+"/payments", map[string]interface{}{
		"currency":    o.Currency,
		"amount":      float64(o.TotalCents) / 100,
		"name":        "Order " + o.OrderNo,
		"redirectUrl": c.appURL + "/order/" + o.OrderNo,
		"metadata":    map[string]string{"order_no": o.OrderNo},
	})
	if err != nil {
		return nil, fmt.Errorf("hoodpay create payment failed: %w", err)
	}

	var result struct {
		Data struct {
			ID  json.Number `json:"id"`
			URL string      `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("hoodpay parse error: %w", err)
	}
	if result.Data.URL == "" {
		return nil, fmt.Errorf("hoodpay payment response missing url")
	}
	return &Invoice{ExternalID: result.Data.ID.String(), PayURL: result.Data.URL}, nil
}

func (c *HoodPayClient) ParseWebhook(header http.Header, body []byte) (*Event, error) {
	sig := strings.TrimSpace(header.Get("X-Signature"))
	if sig == "" {
		return nil, ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected)) {
		return nil, ErrBadSignature
	}

	var payload struct {
		Event string `json:"event"`
		Data  struct {
			ID       json.Number       `json:"id"`
			Status   string            `json:"status"`
			Amount   json.Number       `json:"amount"`
			Metadata map[string]string `json:"metadata"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrBadPayload
	}

	status := payload.Data.Status
	if status == "" {
		status = payload.Event
	}

	return &Event{
		ExternalID: payload.Data.ID.String(),
		OrderNo:    payload.Data.Metadata["order_no"],
		RawStatus:  status,
		Patch: HoodPayPatch{
			PaymentID:   payload.Data.ID.String(),
			ActualPaid:  payload.Data.Amount.String(),
			FromWebhook: true,
		},
	}, nil
}

func (c *HoodPayClient) FetchStatus(ctx context.Context, externalID string) (*Event, error) {
	resp, err := c.http.Get(ctx, c.baseURL+"/businesses/"+c.cfg.BusinessID+"/payments/"+externalID)
	if err != nil {
		return nil, fmt.Errorf("hoodpay status fetch failed: %w", err)
	}

	var result struct {
		Data struct {
			ID       json.Number       `json:"id"`
			Status   string            `json:"status"`
			Amount   json.Number       `json:"amount"`
			Metadata map[string]string `json:"metadata"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("hoodpay status parse error: %w", err)
	}
	if result.Data.Status == "" {
		return nil, fmt.Errorf("hoodpay status response missing status")
	}

	return &Event{
		ExternalID: externalID,
		OrderNo:    result.Data.Metadata["order_no"],
		RawStatus:  result.Data.Status,
		Patch: HoodPayPatch{
			PaymentID:  result.Data.ID.String(),
			ActualPaid: result.Data.Amount.String(),
		},
	}, nil
}
