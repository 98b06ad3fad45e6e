package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"iptvshop/internal/gateway"
	"iptvshop/internal/models"
	"iptvshop/internal/order"
)

type orderFinder interface {
	FindByOrderNo(orderNo string) (*models.Order, error)
	FindByGatewayRef(refColumn, externalID string) (*models.Order, error)
}

type walletCreditor interface {
	CreditBalance(id uint, cents int64) error
}

type updateApplier interface {
	Apply(ctx context.Context, o *models.Order, upd order.Update) (*order.Result, error)
}

// WebhookHandler receives gateway push notifications on
// POST /payments/:gateway/webhook.
type WebhookHandler struct {
	registry   *gateway.Registry
	orders     orderFinder
	users      walletCreditor
	applicator updateApplier
	log        *zap.Logger
}

func NewWebhookHandler(registry *gateway.Registry, orders orderFinder, users walletCreditor, applicator updateApplier, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		registry:   registry,
		orders:     orders,
		users:      users,
		applicator: applicator,
		log:        log,
	}
}

func (h *WebhookHandler) Handle(c echo.Context) error {
	key := gateway.Key(c.Param("gateway"))
	client, err := h.registry.Get(key)
	if err != nil {
		return c.JSON(http.StatusNotFound, models.APIResponse{Msg: "unknown gateway"})
	}
	def, err := gateway.Lookup(key)
	if err != nil {
		return c.JSON(http.StatusNotFound, models.APIResponse{Msg: "unknown gateway"})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "unreadable body"})
	}

	ev, err := client.ParseWebhook(c.Request().Header, body)
	if err != nil {
		// An unverifiable notification gets a 4xx so a misconfigured
		// secret is visible in the gateway's delivery log.
		h.log.Warn("webhook rejected",
			zap.String("gateway", string(key)),
			zap.Error(err),
		)
		if errors.Is(err, gateway.ErrBadSignature) {
			return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "bad signature"})
		}
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "bad payload"})
	}

	o, err := h.findOrder(def, ev)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Unknown order: acknowledge so the gateway stops retrying,
			// the log keeps the evidence.
			h.log.Warn("webhook for unknown order",
				zap.String("gateway", string(key)),
				zap.String("order_no", ev.OrderNo),
				zap.String("external_id", ev.ExternalID),
				zap.String("raw_status", ev.RawStatus),
			)
			return c.JSON(http.StatusOK, models.APIResponse{Status: true, Msg: "unknown order acknowledged"})
		}
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "lookup failed"})
	}

	upd := order.Update{
		Gateway:   key,
		Source:    order.SourceWebhook,
		RawStatus: ev.RawStatus,
		Patch:     ev.Patch,
	}
	if o.Purpose == models.PurposeDeposit {
		userID, cents := o.UserID, o.TotalCents
		upd.OnCompleted = func(_ *models.Order) error {
			return h.users.CreditBalance(userID, cents)
		}
	}

	res, err := h.applicator.Apply(c.Request().Context(), o, upd)
	if err != nil {
		h.log.Error("webhook apply failed",
			zap.String("gateway", string(key)),
			zap.String("order_no", o.OrderNo),
			zap.Error(err),
		)
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "update failed"})
	}
	if res.Warning != "" {
		h.log.Info("webhook applied with warning",
			zap.String("order_no", o.OrderNo),
			zap.String("warning", res.Warning),
		)
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Msg: "ok"})
}

func (h *WebhookHandler) findOrder(def gateway.Definition, ev *gateway.Event) (*models.Order, error) {
	if ev.OrderNo != "" {
		o, err := h.orders.FindByOrderNo(ev.OrderNo)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if ev.ExternalID != "" {
		return h.orders.FindByGatewayRef(def.RefColumn, ev.ExternalID)
	}
	return nil, gorm.ErrRecordNotFound
}
