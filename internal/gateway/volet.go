package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"iptvshop/internal/config"
	"iptvshop/internal/models"
	"iptvshop/internal/pkg/utils"
)

const voletSCIURL = "https://account.volet.com/sci"

// MapVoletStatus normalizes Volet (ex-AdvCash) SCI statuses. Volet only
// notifies on settled transfers, so the vocabulary is small.
func MapVoletStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "success":
		return StatusCompleted
	case "canceled", "cancelled":
		return StatusFailed
	case "expired":
		return StatusExpired
	default:
		return StatusPending
	}
}

// VoletPatch merges Volet notification fields into the order.
type VoletPatch struct {
	TransferID  string
	SrcWallet   string
	ActualPaid  string
	FromWebhook bool
}

func (p VoletPatch) Apply(o *models.Order) {
	if p.TransferID != "" {
		o.Volet.TransferID = p.TransferID
		o.Volet.ExternalID = p.TransferID
	}
	if p.SrcWallet != "" {
		o.Volet.SrcWallet = p.SrcWallet
	}
	if p.ActualPaid != "" {
		o.Volet.ActualPaid = p.ActualPaid
	}
	if p.FromWebhook {
		o.Volet.CallbackReceived = true
	}
}

// VoletClient builds Volet SCI payment links and verifies status
// notifications. Volet has no pollable status API: FetchStatus always
// errors, which the poller treats as "no new information".
type VoletClient struct {
	cfg    config.VoletConfig
	appURL string
}

func NewVoletClient(cfg config.VoletConfig, appBaseURL string) *VoletClient {
	return &VoletClient{cfg: cfg, appURL: strings.TrimRight(appBaseURL, "/")}
}

func (c *VoletClient) Key() Key {
	return Volet
}

func (c *VoletClient) CreateInvoice(_ context.Context, o *models.Order) (*Invoice, error) {
	amount := utils.FormatCents(o.TotalCents)
	sign := sha256Hex(strings.Join([]string{
		c.cfg.Account, c.cfg.SCIName, amount, o.Currency, c.cfg.Secret,
	}, ":"))

	q := url.Values{}
	q.Set("ac_account_email", c.cfg.Account)
	q.Set("ac_sci_name", c.cfg.SCIName)
	q.Set("ac_amount", amount)
	q.Set("ac_currency", o.Currency)
	q.Set("ac_order_id", o.OrderNo)
	q.Set("ac_sign", sign)
	q.Set("ac_status_url", c.appURL+"/payments/volet/webhook")
	q.Set("ac_status_url_method", "POST")
	q.Set("ac_success_url", c.appURL+"/order/"+o.OrderNo)

	// The order id doubles as the external reference until the transfer
	// id arrives with the status notification.
	return &Invoice{ExternalID: o.OrderNo, PayURL: voletSCIURL + "?" + q.Encode()}, nil
}

func (c *VoletClient) ParseWebhook(_ http.Header, body []byte) (*Event, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, ErrBadPayload
	}

	hash := strings.TrimSpace(form.Get("ac_hash"))
	if hash == "" {
		return nil, ErrBadSignature
	}
	expected := sha256Hex(strings.Join([]string{
		form.Get("ac_transfer"),
		form.Get("ac_start_date"),
		form.Get("ac_sci_name"),
		form.Get("ac_src_wallet"),
		form.Get("ac_dest_wallet"),
		form.Get("ac_order_id"),
		form.Get("ac_amount"),
		form.Get("ac_merchant_currency"),
		c.cfg.Secret,
	}, ":"))
	if !strings.EqualFold(hash, expected) {
		return nil, ErrBadSignature
	}

	status := form.Get("ac_status")
	if status == "" {
		// A signed transfer notification without an explicit status is a
		// settled payment.
		status = "completed"
	}

	return &Event{
		ExternalID: form.Get("ac_transfer"),
		OrderNo:    form.Get("ac_order_id"),
		RawStatus:  status,
		Patch: VoletPatch{
			TransferID:  form.Get("ac_transfer"),
			SrcWallet:   form.Get("ac_src_wallet"),
			ActualPaid:  form.Get("ac_amount"),
			FromWebhook: true,
		},
	}, nil
}

func (c *VoletClient) FetchStatus(context.Context, string) (*Event, error) {
	return nil, fmt.Errorf("volet does not expose a status API")
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
