package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"iptvshop/internal/gateway"
	"iptvshop/internal/models"
	"iptvshop/internal/order"
)

// StatusHandler serves GET /payments/:gateway/status/:orderNo. It asks
// the gateway's live API first and falls back to the last persisted
// status when the upstream is unreachable, so the customer-facing page
// never errors because a gateway is down.
type StatusHandler struct {
	registry   *gateway.Registry
	orders     orderFinder
	users      walletCreditor
	applicator updateApplier
	log        *zap.Logger
}

func NewStatusHandler(registry *gateway.Registry, orders orderFinder, users walletCreditor, applicator updateApplier, log *zap.Logger) *StatusHandler {
	return &StatusHandler{
		registry:   registry,
		orders:     orders,
		users:      users,
		applicator: applicator,
		log:        log,
	}
}

type statusResponse struct {
	OrderNo       string `json:"order_no"`
	PaymentStatus string `json:"payment_status"`
	OrderStatus   string `json:"order_status"`
	PaymentMethod string `json:"payment_method"`
	RawStatus     string `json:"raw_status,omitempty"`
	// Live reports whether the gateway answered, as opposed to the
	// last persisted state being served.
	Live bool `json:"live"`
}

func (h *StatusHandler) Handle(c echo.Context) error {
	key := gateway.Key(c.Param("gateway"))
	def, err := gateway.Lookup(key)
	if err != nil {
		return c.JSON(http.StatusNotFound, models.APIResponse{Msg: "unknown gateway"})
	}

	o, err := h.orders.FindByOrderNo(c.Param("orderNo"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, models.APIResponse{Msg: "order not found"})
		}
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "lookup failed"})
	}

	attempt := def.Attempt(o)
	resp := statusResponse{
		OrderNo:       o.OrderNo,
		PaymentStatus: o.PaymentStatus,
		OrderStatus:   o.OrderStatus,
		PaymentMethod: o.PaymentMethod,
		RawStatus:     attempt.RawStatus,
	}

	// Terminal orders and attempts the gateway knows nothing about are
	// answered from the database.
	if o.PaymentStatus != models.PaymentPending || attempt.ExternalID == "" {
		return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: resp})
	}

	client, err := h.registry.Get(key)
	if err != nil {
		return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: resp})
	}

	ev, err := client.FetchStatus(c.Request().Context(), attempt.ExternalID)
	if err != nil {
		h.log.Warn("live status fetch failed, serving persisted status",
			zap.String("gateway", string(key)),
			zap.String("order_no", o.OrderNo),
			zap.Error(err),
		)
		return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: resp})
	}

	upd := order.Update{
		Gateway:   key,
		Source:    order.SourcePoll,
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
		h.log.Error("status apply failed", zap.String("order_no", o.OrderNo), zap.Error(err))
		return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: resp})
	}

	resp.PaymentStatus = res.Current
	resp.OrderStatus = o.OrderStatus
	resp.PaymentMethod = o.PaymentMethod
	resp.RawStatus = ev.RawStatus
	resp.Live = true
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: resp})
}
