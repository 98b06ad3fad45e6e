package models

import (
	"encoding/json"
)

// Payment status values shared by orders and gateway sub-records.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentExpired   = "expired"
	PaymentRefunded  = "refunded"
)

// Order purposes.
const (
	PurposeSubscription = "subscription"
	PurposeDeposit      = "deposit"
)

// PaymentAttempt holds the fields every gateway sub-record shares.
// ExternalID is the gateway-assigned payment/invoice/session identifier.
type PaymentAttempt struct {
	ExternalID       string `gorm:"column:external_id;size:191;index" json:"external_id"`
	RawStatus        string `gorm:"column:raw_status;size:100" json:"raw_status"`
	Confirmations    int    `gorm:"column:confirmations;default:0" json:"confirmations"`
	ActualPaid       string `gorm:"column:actual_paid;size:100" json:"actual_paid"`
	CallbackReceived bool   `gorm:"column:callback_received;default:false" json:"callback_received"`
	StatusUpdatedAt  int64  `gorm:"column:status_updated_at;default:0" json:"status_updated_at"`
}

// Per-gateway sub-records. Each gateway gets its own type so a typo'd
// field can't silently land in the wrong column.

type CryptomusPayment struct {
	PaymentAttempt
	UUID          string `gorm:"column:uuid;size:100" json:"uuid"`
	Network       string `gorm:"column:network;size:50" json:"network"`
	PayerCurrency string `gorm:"column:payer_currency;size:20" json:"payer_currency"`
}

type NowPaymentsPayment struct {
	PaymentAttempt
	InvoiceID   string `gorm:"column:invoice_id;size:100" json:"invoice_id"`
	PayCurrency string `gorm:"column:pay_currency;size:20" json:"pay_currency"`
	PayinHash   string `gorm:"column:payin_hash;size:191" json:"payin_hash"`
}

type PlisioPayment struct {
	PaymentAttempt
	TxnID    string `gorm:"column:txn_id;size:191" json:"txn_id"`
	Currency string `gorm:"column:currency;size:20" json:"currency"`
}

type VoletPayment struct {
	PaymentAttempt
	TransferID string `gorm:"column:transfer_id;size:191" json:"transfer_id"`
	SrcWallet  string `gorm:"column:src_wallet;size:100" json:"src_wallet"`
}

type StripePayment struct {
	PaymentAttempt
	PaymentIntentID string `gorm:"column:payment_intent_id;size:191" json:"payment_intent_id"`
	ReceiptURL      string `gorm:"column:receipt_url;size:500" json:"receipt_url"`
}

type HoodPayPayment struct {
	PaymentAttempt
	CheckoutURL string `gorm:"column:checkout_url;size:500" json:"checkout_url"`
}

// LineItem is one purchased plan inside an order, serialized into ItemsJSON.
type LineItem struct {
	PlanCode     string `json:"plan_code"`
	PlanName     string `json:"plan_name"`
	Quantity     int    `json:"quantity"`
	UnitCents    int64  `json:"unit_cents"`
	DurationDays int    `json:"duration_days"`
	Connections  int    `json:"connections"`
}

// Credential is one provisioned IPTV account, serialized into CredentialsJSON.
type Credential struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	M3UURL    string `json:"m3u_url"`
	PortalURL string `json:"portal_url"`
	ExpiresAt int64  `json:"expires_at"`
}

// Order maps to the `orders` table. One row per checkout; the gateway
// sub-records accumulate whatever gateways the customer attempted.
type Order struct {
	ID        uint   `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OrderNo   string `gorm:"column:order_no;size:64;uniqueIndex" json:"order_no"`
	UserID    uint   `gorm:"column:user_id;index" json:"user_id"`
	Email     string `gorm:"column:email;size:191" json:"email"`
	FullName  string `gorm:"column:full_name;size:191" json:"full_name"`
	Purpose   string `gorm:"column:purpose;size:30;default:subscription" json:"purpose"`
	ItemsJSON string `gorm:"column:items_json;type:text" json:"-"`

	Currency      string `gorm:"column:currency;size:10;default:USD" json:"currency"`
	TotalCents    int64  `gorm:"column:total_cents;default:0" json:"total_cents"`
	CouponCode    string `gorm:"column:coupon_code;size:64" json:"coupon_code"`
	DiscountCents int64  `gorm:"column:discount_cents;default:0" json:"discount_cents"`

	PaymentStatus string `gorm:"column:payment_status;size:20;default:pending;index" json:"payment_status"`
	OrderStatus   string `gorm:"column:order_status;size:20;default:pending" json:"order_status"`
	PaymentMethod string `gorm:"column:payment_method;size:30" json:"payment_method"`

	Cryptomus   CryptomusPayment   `gorm:"embedded;embeddedPrefix:cryptomus_" json:"cryptomus"`
	NowPayments NowPaymentsPayment `gorm:"embedded;embeddedPrefix:nowpayments_" json:"nowpayments"`
	Plisio      PlisioPayment      `gorm:"embedded;embeddedPrefix:plisio_" json:"plisio"`
	Volet       VoletPayment       `gorm:"embedded;embeddedPrefix:volet_" json:"volet"`
	Stripe      StripePayment      `gorm:"embedded;embeddedPrefix:stripe_" json:"stripe"`
	HoodPay     HoodPayPayment     `gorm:"embedded;embeddedPrefix:hoodpay_" json:"hoodpay"`

	CredentialsJSON      string `gorm:"column:credentials_json;type:text" json:"-"`
	CredentialsEmailSent bool   `gorm:"column:credentials_email_sent;default:false" json:"credentials_email_sent"`

	CreatedAt int64 `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt int64 `gorm:"column:updated_at" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// Items decodes the order line items. A broken blob decodes as empty.
func (o *Order) Items() []LineItem {
	var items []LineItem
	if o.ItemsJSON != "" {
		_ = json.Unmarshal([]byte(o.ItemsJSON), &items)
	}
	return items
}

func (o *Order) SetItems(items []LineItem) {
	raw, _ := json.Marshal(items)
	o.ItemsJSON = string(raw)
}

// Credentials decodes the provisioned IPTV accounts.
func (o *Order) Credentials() []Credential {
	var creds []Credential
	if o.CredentialsJSON != "" {
		_ = json.Unmarshal([]byte(o.CredentialsJSON), &creds)
	}
	return creds
}

func (o *Order) SetCredentials(creds []Credential) {
	raw, _ := json.Marshal(creds)
	o.CredentialsJSON = string(raw)
}
