package gateway

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"iptvshop/internal/config"
	"iptvshop/internal/models"
	"iptvshop/internal/pkg/httpclient"
	"iptvshop/internal/pkg/utils"
)

const cryptomusBaseURL = "https://api.cryptomus.com/v1"

// MapCryptomusStatus normalizes Cryptomus invoice statuses. Unknown
// values resolve to pending so a new upstream status cannot fail an order.
func MapCryptomusStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "paid_over":
		return StatusCompleted
	case "fail", "system_fail", "wrong_amount":
		return StatusFailed
	case "cancel":
		return StatusExpired
	case "refund_paid":
		return StatusRefunded
	default:
		// check, process, confirm_check, confirmations, locked,
		// wrong_amount_waiting, refund_process, refund_fail
		return StatusPending
	}
}

// CryptomusPatch merges Cryptomus callback fields into the order.
type CryptomusPatch struct {
	UUID          string
	Network       string
	PayerCurrency string
	ActualPaid    string
	FromWebhook   bool
}

func (p CryptomusPatch) Apply(o *models.Order) {
	if p.UUID != "" {
		o.Cryptomus.UUID = p.UUID
		o.Cryptomus.ExternalID = p.UUID
	}
	if p.Network != "" {
		o.Cryptomus.Network = p.Network
	}
	if p.PayerCurrency != "" {
		o.Cryptomus.PayerCurrency = p.PayerCurrency
	}
	if p.ActualPaid != "" {
		o.Cryptomus.ActualPaid = p.ActualPaid
	}
	if p.FromWebhook {
		o.Cryptomus.CallbackReceived = true
	}
}

// CryptomusClient talks to the Cryptomus merchant API.
type CryptomusClient struct {
	cfg     config.CryptomusConfig
	baseURL string
	appURL  string
	http    *httpclient.Client
}

func NewCryptomusClient(cfg config.CryptomusConfig, appBaseURL string) *CryptomusClient {
	return &CryptomusClient{
		cfg:     cfg,
		baseURL: cryptomusBaseURL,
		appURL:  strings.TrimRight(appBaseURL, "/"),
		http:    httpclient.New().WithHeader("merchant", cfg.MerchantID),
	}
}

func (c *CryptomusClient) Key() Key {
	return Cryptomus
}

// sign computes the Cryptomus request/callback signature:
// md5(base64(body) + api_key).
func (c *CryptomusClient) sign(body []byte) string {
	sum := md5.Sum([]byte(base64.StdEncoding.EncodeToString(body) + c.cfg.APIKey))
	return hex.EncodeToString(sum[:])
}

func (c *CryptomusClient) post(ctx context.Context, path string, payload interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Request().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("sign", c.sign(body)).
		SetBody(body).
		Post(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("cryptomus request failed: %w", err)
	}

	var parsed struct {
		State  int                    `json:"state"`
		Result map[string]interface{} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("cryptomus response parse error: %w", err)
	}
	if parsed.Result == nil {
		return nil, fmt.Errorf("cryptomus returned no result (state %d)", parsed.State)
	}
	return parsed.Result, nil
}

func (c *CryptomusClient) CreateInvoice(ctx context.Context, o *models.Order) (*Invoice, error) {
	result, err := c.post(ctx, "/payment", map[string]interface{}{
		"amount":       utils.FormatCents(o.TotalCents),
		"currency":     o.Currency,
		"order_id":     o.OrderNo,
		"url_callback": c.appURL + "/payments/cryptomus/webhook",
		"url_return":   c.appURL + "/order/" + o.OrderNo,
	})
	if err != nil {
		return nil, err
	}

	uuid, _ := result["uuid"].(string)
	payURL, _ := result["url"].(string)
	if uuid == "" || payURL == "" {
		return nil, fmt.Errorf("cryptomus invoice response missing uuid or url")
	}
	return &Invoice{ExternalID: uuid, PayURL: payURL}, nil
}

func (c *CryptomusClient) ParseWebhook(_ http.Header, body []byte) (*Event, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrBadPayload
	}

	sig, _ := payload["sign"].(string)
	if sig == "" {
		return nil, ErrBadSignature
	}
	delete(payload, "sign")
	unsigned, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrBadPayload
	}
	if !strings.EqualFold(sig, c.sign(unsigned)) {
		return nil, ErrBadSignature
	}

	uuid, _ := payload["uuid"].(string)
	orderNo, _ := payload["order_id"].(string)
	status, _ := payload["status"].(string)
	network, _ := payload["network"].(string)
	payerCurrency, _ := payload["payer_currency"].(string)
	paid, _ := payload["payment_amount"].(string)

	return &Event{
		ExternalID: uuid,
		OrderNo:    orderNo,
		RawStatus:  status,
		Patch: CryptomusPatch{
			UUID:          uuid,
			Network:       network,
			PayerCurrency: payerCurrency,
			ActualPaid:    paid,
			FromWebhook:   true,
		},
	}, nil
}

func (c *CryptomusClient) FetchStatus(ctx context.Context, externalID string) (*Event, error) {
	result, err := c.post(ctx, "/payment/info", map[string]interface{}{
		"uuid": externalID,
	})
	if err != nil {
		return nil, err
	}

	status, _ := result["payment_status"].(string)
	if status == "" {
		status, _ = result["status"].(string)
	}
	network, _ := result["network"].(string)
	paid, _ := result["payment_amount"].(string)
	orderNo, _ := result["order_id"].(string)

	return &Event{
		ExternalID: externalID,
		OrderNo:    orderNo,
		RawStatus:  status,
		Patch: CryptomusPatch{
			UUID:       externalID,
			Network:    network,
			ActualPaid: paid,
		},
	}, nil
}
