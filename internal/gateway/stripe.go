package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/checkout/session"
	"github.com/stripe/stripe-go/v80/webhook"

	"iptvshop/internal/config"
	"iptvshop/internal/models"
)

// MapStripeStatus normalizes both Stripe webhook event types and
// checkout session statuses into the internal vocabulary.
func MapStripeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "complete", "succeeded",
		"checkout.session.completed", "payment_intent.succeeded":
		return StatusCompleted
	case "failed", "canceled", "payment_intent.payment_failed":
		return StatusFailed
	case "expired", "checkout.session.expired":
		return StatusExpired
	case "refunded", "charge.refunded":
		return StatusRefunded
	default:
		// open, unpaid, processing, unhandled event types
		return StatusPending
	}
}

// StripePatch merges Stripe event fields into the order.
type StripePatch struct {
	SessionID       string
	PaymentIntentID string
	ReceiptURL      string
	ActualPaid      string
	FromWebhook     bool
}

func (p StripePatch) Apply(o *models.Order) {
	if p.SessionID != "" {
		o.Stripe.ExternalID = p.SessionID
	}
	if p.PaymentIntentID != "" {
		o.Stripe.PaymentIntentID = p.PaymentIntentID
	}
	if p.ReceiptURL != "" {
		o.Stripe.ReceiptURL = p.ReceiptURL
	}
	if p.ActualPaid != "" {
		o.Stripe.ActualPaid = p.ActualPaid
	}
	if p.FromWebhook {
		o.Stripe.CallbackReceived = true
	}
}

// StripeClient wraps stripe-go checkout sessions and webhook parsing.
type StripeClient struct {
	cfg    config.StripeConfig
	appURL string
}

func NewStripeClient(cfg config.StripeConfig, appBaseURL string) *StripeClient {
	stripe.Key = cfg.SecretKey
	return &StripeClient{cfg: cfg, appURL: strings.TrimRight(appBaseURL, "/")}
}

func (c *StripeClient) Key() Key {
	return Stripe
}

func (c *StripeClient) CreateInvoice(ctx context.Context, o *models.Order) (*Invoice, error) {
	name := "Order " + o.OrderNo
	if o.Purpose == models.PurposeDeposit {
		name = "Wallet deposit " + o.OrderNo
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(o.Currency)),
				UnitAmount: stripe.Int64(o.TotalCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(c.appURL + "/order/" + o.OrderNo),
		CancelURL:         stripe.String(c.appURL + "/checkout"),
		ClientReferenceID: stripe.String(o.OrderNo),
	}
	params.Context = ctx
	params.AddMetadata("order_no", o.OrderNo)

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session failed: %w", err)
	}
	return &Invoice{ExternalID: sess.ID, PayURL: sess.URL}, nil
}

func (c *StripeClient) ParseWebhook(header http.Header, body []byte) (*Event, error) {
	// An account pinned to an older API release train still sends
	// validly signed events; a version mismatch is not a forgery.
	event, err := webhook.ConstructEventWithOptions(body, header.Get("Stripe-Signature"), c.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, ErrBadSignature
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.expired":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, ErrBadPayload
		}
		orderNo := sess.Metadata["order_no"]
		if orderNo == "" {
			orderNo = sess.ClientReferenceID
		}
		patch := StripePatch{SessionID: sess.ID, FromWebhook: true}
		if sess.PaymentIntent != nil {
			patch.PaymentIntentID = sess.PaymentIntent.ID
		}
		if sess.AmountTotal > 0 {
			patch.ActualPaid = fmt.Sprintf("%d.%02d", sess.AmountTotal/100, sess.AmountTotal%100)
		}
		return &Event{
			ExternalID: sess.ID,
			OrderNo:    orderNo,
			RawStatus:  string(event.Type),
			Patch:      patch,
		}, nil

	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, ErrBadPayload
		}
		return &Event{
			OrderNo:   pi.Metadata["order_no"],
			RawStatus: string(event.Type),
			Patch:     StripePatch{PaymentIntentID: pi.ID, FromWebhook: true},
		}, nil

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return nil, ErrBadPayload
		}
		patch := StripePatch{ReceiptURL: ch.ReceiptURL, FromWebhook: true}
		if ch.PaymentIntent != nil {
			patch.PaymentIntentID = ch.PaymentIntent.ID
		}
		return &Event{
			OrderNo:   ch.Metadata["order_no"],
			RawStatus: string(event.Type),
			Patch:     patch,
		}, nil
	}

	// Acknowledge unhandled event types without inventing a transition.
	return &Event{RawStatus: string(event.Type), Patch: StripePatch{FromWebhook: true}}, nil
}

func (c *StripeClient) FetchStatus(ctx context.Context, externalID string) (*Event, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := session.Get(externalID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe session fetch failed: %w", err)
	}

	raw := string(sess.Status)
	if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		raw = "paid"
	}
	patch := StripePatch{SessionID: sess.ID}
	if sess.PaymentIntent != nil {
		patch.PaymentIntentID = sess.PaymentIntent.ID
	}
	return &Event{
		ExternalID: sess.ID,
		OrderNo:    sess.Metadata["order_no"],
		RawStatus:  raw,
		Patch:      patch,
	}, nil
}
