package gateway

import (
	"context"
	"errors"
	"net/http"

	"iptvshop/internal/models"
)

// Status is the normalized payment status vocabulary every gateway's
// native statuses are mapped into.
type Status string

const (
	StatusPending   Status = models.PaymentPending
	StatusCompleted Status = models.PaymentCompleted
	StatusFailed    Status = models.PaymentFailed
	StatusExpired   Status = models.PaymentExpired
	StatusRefunded  Status = models.PaymentRefunded
)

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusRefunded:
		return true
	default:
		return false
	}
}

func (s Status) Completed() bool { return s == StatusCompleted }
func (s Status) Pending() bool   { return s == StatusPending }
func (s Status) Failed() bool    { return s == StatusFailed }
func (s Status) Expired() bool   { return s == StatusExpired }

// Key identifies a supported payment gateway.
type Key string

const (
	Cryptomus   Key = "cryptomus"
	NOWPayments Key = "nowpayments"
	Plisio      Key = "plisio"
	Volet       Key = "volet"
	Stripe      Key = "stripe"
	HoodPay     Key = "hoodpay"
)

var (
	ErrUnknownGateway = errors.New("unknown payment gateway")
	ErrBadSignature   = errors.New("webhook signature verification failed")
	ErrBadPayload     = errors.New("webhook payload is malformed")
)

// Patch carries gateway-specific fields of one update and knows how to
// merge them into the order's sub-record. Only fields the gateway
// actually sent are set.
type Patch interface {
	Apply(o *models.Order)
}

// Event is a normalized gateway observation, produced by webhook
// parsing or a live status fetch.
type Event struct {
	ExternalID string // gateway-assigned payment/invoice/session id
	OrderNo    string // our order number, when the gateway echoes it
	RawStatus  string
	Patch      Patch
}

// Invoice is the result of creating a payment at a gateway.
type Invoice struct {
	ExternalID string
	PayURL     string
}

// Client is implemented by each gateway integration.
type Client interface {
	Key() Key

	// CreateInvoice registers a payment for the order and returns the
	// URL the customer is redirected to.
	CreateInvoice(ctx context.Context, o *models.Order) (*Invoice, error)

	// ParseWebhook verifies authenticity of a push notification and
	// extracts the normalized event. Returns ErrBadSignature before
	// looking at anything else if verification fails.
	ParseWebhook(header http.Header, body []byte) (*Event, error)

	// FetchStatus asks the gateway's live API for the current state of
	// a payment. An error means "no new information", never a status.
	FetchStatus(ctx context.Context, externalID string) (*Event, error)
}

// Definition is the static description of a gateway: its status
// mapper, refund capability and order sub-record accessor.
type Definition struct {
	Key            Key
	MapStatus      func(string) Status
	SupportsRefund bool
	Attempt        func(*models.Order) *models.PaymentAttempt
	// RefColumn is the orders column holding the gateway's external id,
	// used for webhook order lookup.
	RefColumn string
}

var definitions = map[Key]Definition{
	Cryptomus: {
		Key:            Cryptomus,
		MapStatus:      MapCryptomusStatus,
		SupportsRefund: true,
		Attempt:        func(o *models.Order) *models.PaymentAttempt { return &o.Cryptomus.PaymentAttempt },
		RefColumn:      "cryptomus_external_id",
	},
	NOWPayments: {
		Key:            NOWPayments,
		MapStatus:      MapNOWPaymentsStatus,
		SupportsRefund: true,
		Attempt:        func(o *models.Order) *models.PaymentAttempt { return &o.NowPayments.PaymentAttempt },
		RefColumn:      "nowpayments_external_id",
	},
	Plisio: {
		Key:            Plisio,
		MapStatus:      MapPlisioStatus,
		SupportsRefund: false,
		Attempt:        func(o *models.Order) *models.PaymentAttempt { return &o.Plisio.PaymentAttempt },
		RefColumn:      "plisio_external_id",
	},
	Volet: {
		Key:            Volet,
		MapStatus:      MapVoletStatus,
		SupportsRefund: false,
		Attempt:        func(o *models.Order) *models.PaymentAttempt { return &o.Volet.PaymentAttempt },
		RefColumn:      "volet_external_id",
	},
	Stripe: {
		Key:            Stripe,
		MapStatus:      MapStripeStatus,
		SupportsRefund: true,
		Attempt:        func(o *models.Order) *models.PaymentAttempt { return &o.Stripe.PaymentAttempt },
		RefColumn:      "stripe_external_id",
	},
	HoodPay: {
		Key:            HoodPay,
		MapStatus:      MapHoodPayStatus,
		SupportsRefund: false,
		Attempt:        func(o *models.Order) *models.PaymentAttempt { return &o.HoodPay.PaymentAttempt },
		RefColumn:      "hoodpay_external_id",
	},
}

// Lookup returns the static definition for a gateway key.
func Lookup(k Key) (Definition, error) {
	def, ok := definitions[k]
	if !ok {
		return Definition{}, ErrUnknownGateway
	}
	return def, nil
}

// All returns every supported gateway key in a stable order.
func All() []Key {
	return []Key{Cryptomus, NOWPayments, Plisio, Volet, Stripe, HoodPay}
}

// Registry holds the configured gateway clients.
type Registry struct {
	clients map[Key]Client
}

func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[Key]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Key()] = c
	}
	return r
}

// Get returns the client for a gateway key.
func (r *Registry) Get(k Key) (Client, error) {
	c, ok := r.clients[k]
	if !ok {
		return nil, ErrUnknownGateway
	}
	return c, nil
}

// Keys returns the keys of all configured clients.
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(r.clients))
	for _, k := range All() {
		if _, ok := r.clients[k]; ok {
			keys = append(keys, k)
		}
	}
	return keys
}
