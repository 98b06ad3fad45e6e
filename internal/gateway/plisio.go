package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"iptvshop/internal/config"
	"iptvshop/internal/models"
	"iptvshop/internal/pkg/httpclient"
	"iptvshop/internal/pkg/utils"
)

const plisioBaseURL = "https://plisio.net/api/v1"

// MapPlisioStatus normalizes Plisio invoice statuses. "mismatch" means
// the paid sum differs from the invoice sum; Plisio still settles it,
// so it counts as completed and the actual sum is kept on the record.
func MapPlisioStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "mismatch":
		return StatusCompleted
	case "error", "cancelled":
		return StatusFailed
	case "expired":
		return StatusExpired
	default:
		// new, pending, pending internal
		return StatusPending
	}
}

// PlisioPatch merges Plisio callback fields into the order.
type PlisioPatch struct {
	TxnID         string
	Currency      string
	ActualPaid    string
	Confirmations int
	FromWebhook   bool
}

func (p PlisioPatch) Apply(o *models.Order) {
	if p.TxnID != "" {
		o.Plisio.TxnID = p.TxnID
		o.Plisio.ExternalID = p.TxnID
	}
	if p.Currency != "" {
		o.Plisio.Currency = p.Currency
	}
	if p.ActualPaid != "" {
		o.Plisio.ActualPaid = p.ActualPaid
	}
	if p.Confirmations > 0 {
		o.Plisio.Confirmations = p.Confirmations
	}
	if p.FromWebhook {
		o.Plisio.CallbackReceived = true
	}
}

// PlisioClient talks to the Plisio API.
type PlisioClient struct {
	cfg     config.PlisioConfig
	baseURL string
	appURL  string
	http    *httpclient.Client
}

func NewPlisioClient(cfg config.PlisioConfig, appBaseURL string) *PlisioClient {
	return &PlisioClient{
		cfg:     cfg,
		baseURL: plisioBaseURL,
		appURL:  strings.TrimRight(appBaseURL, "/"),
		http:    httpclient.New(),
	}
}

func (c *PlisioClient) Key() Key {
	return Plisio
}

func (c *PlisioClient) CreateInvoice(ctx context.Context, o *models.Order) (*Invoice, error) {
	q := url.Values{}
	q.Set("source_currency", o.Currency)
	q.Set("source_amount", utils.FormatCents(o.TotalCents))
	q.Set("order_number", o.OrderNo)
	q.Set("order_name", "Order "+o.OrderNo)
	q.Set("callback_url", c.appURL+"/payments/plisio/webhook?json=true")
	q.Set("api_key", c.cfg.APIKey)

	resp, err := c.http.Get(ctx, c.baseURL+"/invoices/new?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("plisio create invoice failed: %w", err)
	}

	var result struct {
		Status string `json:"status"`
		Data   struct {
			TxnID      string `json:"txn_id"`
			InvoiceURL string `json:"invoice_url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("plisio parse error: %w", err)
	}
	if result.Status != "success" || result.Data.TxnID == "" {
		return nil, fmt.Errorf("plisio invoice creation rejected (status %q)", result.Status)
	}
	return &Invoice{ExternalID: result.Data.TxnID, PayURL: result.Data.InvoiceURL}, nil
}

// verifyHash checks the verify_hash field Plisio includes in callbacks:
// HMAC-SHA1 of the remaining payload with the API key.
func (c *PlisioClient) verifyHash(payload map[string]interface{}) bool {
	provided, _ := payload["verify_hash"].(string)
	if provided == "" {
		return false
	}
	delete(payload, "verify_hash")
	unsigned, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, []byte(c.cfg.APIKey))
	mac.Write(unsigned)
	return hmac.Equal([]byte(strings.ToLower(provided)), []byte(hex.EncodeToString(mac.Sum(nil))))
}

func (c *PlisioClient) ParseWebhook(_ http.Header, body []byte) (*Event, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrBadPayload
	}
	if !c.verifyHash(payload) {
		return nil, ErrBadSignature
	}

	txnID, _ := payload["txn_id"].(string)
	orderNo, _ := payload["order_number"].(string)
	status, _ := payload["status"].(string)
	currency, _ := payload["currency"].(string)
	amount, _ := payload["amount"].(string)
	confirmations := 0
	switch v := payload["confirmations"].(type) {
	case float64:
		confirmations = int(v)
	case string:
		confirmations = utils.ParseInt(v, 0)
	}

	return &Event{
		ExternalID: txnID,
		OrderNo:    orderNo,
		RawStatus:  status,
		Patch: PlisioPatch{
			TxnID:         txnID,
			Currency:      currency,
			ActualPaid:    amount,
			Confirmations: confirmations,
			FromWebhook:   true,
		},
	}, nil
}

func (c *PlisioClient) FetchStatus(ctx context.Context, externalID string) (*Event, error) {
	resp, err := c.http.Get(ctx, c.baseURL+"/operations/"+externalID+"?api_key="+url.QueryEscape(c.cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("plisio status fetch failed: %w", err)
	}

	var result struct {
		Status string `json:"status"`
		Data   struct {
			Status        string      `json:"status"`
			Amount        string      `json:"amount"`
			Confirmations json.Number `json:"confirmations"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("plisio status parse error: %w", err)
	}
	if result.Status != "success" {
		return nil, fmt.Errorf("plisio status lookup rejected (status %q)", result.Status)
	}

	confirmations, _ := result.Data.Confirmations.Int64()
	return &Event{
		ExternalID: externalID,
		RawStatus:  result.Data.Status,
		Patch: PlisioPatch{
			TxnID:         externalID,
			ActualPaid:    result.Data.Amount,
			Confirmations: int(confirmations),
		},
	}, nil
}
