package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"iptvshop/internal/gateway"
	"iptvshop/internal/models"
	"iptvshop/internal/order"
	"iptvshop/internal/pkg/utils"
	"iptvshop/internal/repository"
)

// AdminHandler serves the staff API behind the admin key middleware.
type AdminHandler struct {
	orders      *repository.OrderRepo
	users       *repository.UserRepo
	plans       *repository.PlanRepo
	coupons     *repository.CouponRepo
	tickets     *repository.TicketRepo
	events      *repository.EventRepo
	settings    *repository.SettingRepo
	registry    *gateway.Registry
	applicator  updateApplier
	provisioner order.Provisioner
	log         *zap.Logger
}

func NewAdminHandler(
	orders *repository.OrderRepo,
	users *repository.UserRepo,
	plans *repository.PlanRepo,
	coupons *repository.CouponRepo,
	tickets *repository.TicketRepo,
	events *repository.EventRepo,
	settings *repository.SettingRepo,
	registry *gateway.Registry,
	applicator updateApplier,
	provisioner order.Provisioner,
	log *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		orders:      orders,
		users:       users,
		plans:       plans,
		coupons:     coupons,
		tickets:     tickets,
		events:      events,
		settings:    settings,
		registry:    registry,
		applicator:  applicator,
		provisioner: provisioner,
		log:         log,
	}
}

// pageParams clamps the page/limit query parameters to the same bounds
// the repositories enforce, so the totalPages math cannot divide by zero.
func pageParams(c echo.Context) (page, limit int) {
	page = utils.ParseInt(c.QueryParam("page"), 1)
	limit = utils.ParseInt(c.QueryParam("limit"), 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

func (h *AdminHandler) Stats(c echo.Context) error {
	stats, err := h.orders.Stats()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "stats failed"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: stats})
}

func (h *AdminHandler) Orders(c echo.Context) error {
	page, limit := pageParams(c)
	orders, total, err := h.orders.FindAll(page, limit, c.QueryParam("search"), c.QueryParam("status"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "lookup failed"})
	}
	totalPages := (int(total) + limit - 1) / limit
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: models.PaginatedResponse{
		Data: orders, Total: total, Page: page, Limit: limit, TotalPages: totalPages,
	}})
}

// Order returns one order with its line items, credentials and the
// payment audit trail.
func (h *AdminHandler) Order(c echo.Context) error {
	o, err := h.orders.FindByOrderNo(c.Param("orderNo"))
	if err != nil {
		return c.JSON(http.StatusNotFound, models.APIResponse{Msg: "order not found"})
	}
	events, err := h.events.ListByOrder(o.OrderNo)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "lookup failed"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: map[string]interface{}{
		"order":       o,
		"items":       o.Items(),
		"credentials": o.Credentials(),
		"events":      events,
	}})
}

// RefreshOrder forces a live status fetch for a pending order, the
// same path the reconciliation poller takes.
func (h *AdminHandler) RefreshOrder(c echo.Context) error {
	o, err := h.orders.FindByOrderNo(c.Param("orderNo"))
	if err != nil {
		return c.JSON(http.StatusNotFound, models.APIResponse{Msg: "order not found"})
	}

	key := gateway.Key(o.PaymentMethod)
	def, err := gateway.Lookup(key)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "order has no pollable gateway"})
	}
	attempt := def.Attempt(o)
	if attempt.ExternalID == "" {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "order has no gateway payment yet"})
	}
	client, err := h.registry.Get(key)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "gateway is not configured"})
	}

	ev, err := client.FetchStatus(c.Request().Context(), attempt.ExternalID)
	if err != nil {
		return c.JSON(http.StatusBadGateway, models.APIResponse{Msg: "gateway fetch failed: " + err.Error()})
	}
	res, err := h.applicator.Apply(c.Request().Context(), o, order.Update{
		Gateway:   key,
		Source:    order.SourcePoll,
		RawStatus: ev.RawStatus,
		Patch:     ev.Patch,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "update failed"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: res})
}

// Reprovision re-runs provisioning for a completed order, e.g. after a
// panel outage.
func (h *AdminHandler) Reprovision(c echo.Context) error {
	o, err := h.orders.FindByOrderNo(c.Param("orderNo"))
	if err != nil {
		return c.JSON(http.StatusNotFound, models.APIResponse{Msg: "order not found"})
	}
	if o.PaymentStatus != models.PaymentCompleted {
		return c.JSON(http.StatusConflict, models.APIResponse{Msg: "order is not paid"})
	}
	if o.Purpose != models.PurposeSubscription {
		return c.JSON(http.StatusConflict, models.APIResponse{Msg: "only subscription orders are provisioned"})
	}
	if err := h.provisioner.ProvisionOrder(c.Request().Context(), o); err != nil {
		return c.JSON(http.StatusBadGateway, models.APIResponse{Msg: "provisioning failed: " + err.Error()})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: o.Credentials()})
}

func (h *AdminHandler) Users(c echo.Context) error {
	page, limit := pageParams(c)
	users, total, err := h.users.FindAll(page, limit, c.QueryParam("search"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "lookup failed"})
	}
	totalPages := (int(total) + limit - 1) / limit
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: models.PaginatedResponse{
		Data: users, Total: total, Page: page, Limit: limit, TotalPages: totalPages,
	}})
}

type adjustBalanceRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}

// AdjustBalance credits or debits a user's wallet manually.
func (h *AdminHandler) AdjustBalance(c echo.Context) error {
	id := uint(utils.ParseInt(c.Param("id"), 0))
	var req adjustBalanceRequest
	if err := c.Bind(&req); err != nil || req.AmountCents == 0 {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "amount_cents must be non-zero"})
	}

	var err error
	if req.AmountCents > 0 {
		err = h.users.CreditBalance(id, req.AmountCents)
	} else {
		err = h.users.DebitBalance(id, -req.AmountCents)
	}
	if err != nil {
		return c.JSON(http.StatusConflict, models.APIResponse{Msg: err.Error()})
	}
	h.log.Info("manual balance adjustment",
		zap.Uint("user_id", id),
		zap.Int64("amount_cents", req.AmountCents),
		zap.String("reason", req.Reason),
	)
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Msg: "balance adjusted"})
}

func (h *AdminHandler) Plans(c echo.Context) error {
	plans, err := h.plans.ListAll()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "lookup failed"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: plans})
}

func (h *AdminHandler) SavePlan(c echo.Context) error {
	var p models.Plan
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "invalid plan"})
	}
	if p.Code == "" || p.PriceCents <= 0 || p.DurationDays <= 0 {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "code, price_cents and duration_days are required"})
	}
	if err := h.plans.Save(&p); err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "could not save plan"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: p})
}

func (h *AdminHandler) DeletePlan(c echo.Context) error {
	if err := h.plans.Delete(uint(utils.ParseInt(c.Param("id"), 0))); err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "could not delete plan"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Msg: "plan deleted"})
}

func (h *AdminHandler) Coupons(c echo.Context) error {
	coupons, err := h.coupons.ListAll()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "lookup failed"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: coupons})
}

func (h *AdminHandler) SaveCoupon(c echo.Context) error {
	var coupon models.Coupon
	if err := c.Bind(&coupon); err != nil {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "invalid coupon"})
	}
	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
	if coupon.Code == "" || coupon.PercentOff < 1 || coupon.PercentOff > 100 {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "code and a percent_off between 1 and 100 are required"})
	}
	if err := h.coupons.Save(&coupon); err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "could not save coupon"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: coupon})
}

func (h *AdminHandler) DeleteCoupon(c echo.Context) error {
	if err := h.coupons.Delete(uint(utils.ParseInt(c.Param("id"), 0))); err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "could not delete coupon"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Msg: "coupon deleted"})
}

func (h *AdminHandler) Tickets(c echo.Context) error {
	tickets, err := h.tickets.ListAll(c.QueryParam("status"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "lookup failed"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: tickets})
}

func (h *AdminHandler) Ticket(c echo.Context) error {
	t, err := h.tickets.FindByID(uint(utils.ParseInt(c.Param("id"), 0)))
	if err != nil {
		return c.JSON(http.StatusNotFound, models.APIResponse{Msg: "ticket not found"})
	}
	msgs, err := h.tickets.Messages(t.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "lookup failed"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: map[string]interface{}{
		"ticket":   t,
		"messages": msgs,
	}})
}

func (h *AdminHandler) ReplyTicket(c echo.Context) error {
	var req ticketReplyRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Body) == "" {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "body is required"})
	}
	id := uint(utils.ParseInt(c.Param("id"), 0))
	if _, err := h.tickets.FindByID(id); err != nil {
		return c.JSON(http.StatusNotFound, models.APIResponse{Msg: "ticket not found"})
	}
	if err := h.tickets.Reply(id, true, strings.TrimSpace(req.Body)); err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "could not reply"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Msg: "reply added"})
}

func (h *AdminHandler) CloseTicket(c echo.Context) error {
	if err := h.tickets.Close(uint(utils.ParseInt(c.Param("id"), 0))); err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "could not close ticket"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Msg: "ticket closed"})
}

func (h *AdminHandler) Settings(c echo.Context) error {
	settings, err := h.settings.All()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "lookup failed"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: settings})
}

type settingRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (h *AdminHandler) SaveSetting(c echo.Context) error {
	var req settingRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "name is required"})
	}
	if err := h.settings.Set(strings.TrimSpace(req.Name), req.Value); err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "could not save setting"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Msg: "setting saved"})
}
