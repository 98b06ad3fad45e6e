package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"iptvshop/internal/config"
	"iptvshop/internal/gateway"
	"iptvshop/internal/mailer"
	"iptvshop/internal/models"
	"iptvshop/internal/order"
	"iptvshop/internal/pkg/utils"
	"iptvshop/internal/repository"
)

// PayWithBalance is the pseudo-gateway for paying from the wallet.
const PayWithBalance = "balance"

// CheckoutHandler creates orders and hands the customer to a payment
// gateway.
type CheckoutHandler struct {
	cfg         config.CheckoutConfig
	plans       *repository.PlanRepo
	coupons     *repository.CouponRepo
	users       *repository.UserRepo
	orders      *repository.OrderRepo
	registry    *gateway.Registry
	provisioner order.Provisioner
	notifier    order.Notifier
	mailer      *mailer.Mailer
	log         *zap.Logger
}

func NewCheckoutHandler(
	cfg config.CheckoutConfig,
	plans *repository.PlanRepo,
	coupons *repository.CouponRepo,
	users *repository.UserRepo,
	orders *repository.OrderRepo,
	registry *gateway.Registry,
	provisioner order.Provisioner,
	notifier order.Notifier,
	m *mailer.Mailer,
	log *zap.Logger,
) *CheckoutHandler {
	return &CheckoutHandler{
		cfg:         cfg,
		plans:       plans,
		coupons:     coupons,
		users:       users,
		orders:      orders,
		registry:    registry,
		provisioner: provisioner,
		notifier:    notifier,
		mailer:      m,
		log:         log,
	}
}

type checkoutItem struct {
	PlanCode string `json:"plan_code"`
	Quantity int    `json:"quantity"`
}

type checkoutRequest struct {
	Email        string         `json:"email"`
	FullName     string         `json:"full_name"`
	Items        []checkoutItem `json:"items"`
	CouponCode   string         `json:"coupon_code"`
	Gateway      string         `json:"gateway"`
	ReferralCode string         `json:"referral_code"`
}

type checkoutResponse struct {
	OrderNo       string `json:"order_no"`
	TotalCents    int64  `json:"total_cents"`
	DiscountCents int64  `json:"discount_cents"`
	PaymentStatus string `json:"payment_status"`
	PayURL        string `json:"pay_url,omitempty"`
}

func (h *CheckoutHandler) Checkout(c echo.Context) error {
	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "invalid request body"})
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "a valid email is required"})
	}
	if len(req.Items) == 0 {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "cart is empty"})
	}

	items, total, err := h.priceItems(req.Items)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: err.Error()})
	}

	var discount int64
	if req.CouponCode != "" {
		coupon, err := h.coupons.FindValid(req.CouponCode)
		if err != nil {
			return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "coupon is not valid"})
		}
		discount = total * int64(coupon.PercentOff) / 100
		total -= discount
	}

	user, err := h.users.FindOrCreateByEmail(req.Email, req.FullName, strings.ToUpper(utils.RandomCode(8)), req.ReferralCode)
	if err != nil {
		h.log.Error("user lookup failed", zap.String("email", req.Email), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "could not create account"})
	}

	o := &models.Order{
		OrderNo:       utils.GenerateOrderNo(),
		UserID:        user.ID,
		Email:         req.Email,
		FullName:      req.FullName,
		Purpose:       models.PurposeSubscription,
		Currency:      "USD",
		TotalCents:    total,
		CouponCode:    req.CouponCode,
		DiscountCents: discount,
		PaymentStatus: models.PaymentPending,
		OrderStatus:   "pending",
		PaymentMethod: req.Gateway,
	}
	o.SetItems(items)
	if err := h.orders.Create(o); err != nil {
		h.log.Error("order create failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "could not create order"})
	}

	if req.Gateway == PayWithBalance {
		return h.payWithBalance(c, user, o)
	}
	return h.payWithGateway(c, o, gateway.Key(req.Gateway))
}

func (h *CheckoutHandler) priceItems(reqItems []checkoutItem) ([]models.LineItem, int64, error) {
	var items []models.LineItem
	var total int64
	for _, it := range reqItems {
		if it.Quantity < 1 || it.Quantity > 20 {
			return nil, 0, errors.New("item quantity must be between 1 and 20")
		}
		plan, err := h.plans.FindByCode(it.PlanCode)
		if err != nil || !plan.Active {
			return nil, 0, errors.New("unknown plan: " + it.PlanCode)
		}
		items = append(items, models.LineItem{
			PlanCode:     plan.Code,
			PlanName:     plan.Name,
			Quantity:     it.Quantity,
			UnitCents:    plan.PriceCents,
			DurationDays: plan.DurationDays,
			Connections:  plan.Connections,
		})
		total += plan.PriceCents * int64(it.Quantity)
	}
	return items, total, nil
}

func (h *CheckoutHandler) payWithGateway(c echo.Context, o *models.Order, key gateway.Key) error {
	client, err := h.registry.Get(key)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "unknown payment gateway"})
	}
	def, _ := gateway.Lookup(key)

	inv, err := client.CreateInvoice(c.Request().Context(), o)
	if err != nil {
		h.log.Error("invoice creation failed",
			zap.String("gateway", string(key)),
			zap.String("order_no", o.OrderNo),
			zap.Error(err),
		)
		return c.JSON(http.StatusBadGateway, models.APIResponse{Msg: "payment gateway is unavailable, try another method"})
	}

	def.Attempt(o).ExternalID = inv.ExternalID
	if err := h.orders.Save(o); err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "could not save order"})
	}
	h.burnCoupon(o)

	if h.mailer != nil {
		go func(email string, o models.Order, payURL string) {
			if err := h.mailer.SendOrderReceived(email, &o, payURL); err != nil {
				h.log.Warn("order received email failed", zap.String("order_no", o.OrderNo), zap.Error(err))
			}
		}(o.Email, *o, inv.PayURL)
	}

	return c.JSON(http.StatusCreated, models.APIResponse{Status: true, Obj: checkoutResponse{
		OrderNo:       o.OrderNo,
		TotalCents:    o.TotalCents,
		DiscountCents: o.DiscountCents,
		PaymentStatus: o.PaymentStatus,
		PayURL:        inv.PayURL,
	}})
}

func (h *CheckoutHandler) payWithBalance(c echo.Context, user *models.User, o *models.Order) error {
	if err := h.users.DebitBalance(user.ID, o.TotalCents); err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return c.JSON(http.StatusPaymentRequired, models.APIResponse{Msg: "insufficient wallet balance"})
		}
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "wallet debit failed"})
	}

	won, err := h.orders.CompleteIfPending(o.OrderNo)
	if err != nil || !won {
		// The debit went through but the order could not be completed;
		// give the money back.
		if crErr := h.users.CreditBalance(user.ID, o.TotalCents); crErr != nil {
			h.log.Error("wallet refund after failed completion also failed",
				zap.String("order_no", o.OrderNo), zap.Error(crErr))
		}
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "could not complete order"})
	}

	o.PaymentStatus = models.PaymentCompleted
	o.OrderStatus = models.PaymentCompleted
	o.PaymentMethod = PayWithBalance
	if err := h.orders.Save(o); err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "could not save order"})
	}
	h.burnCoupon(o)

	if h.provisioner != nil {
		if err := h.provisioner.ProvisionOrder(c.Request().Context(), o); err != nil {
			h.log.Error("provisioning failed", zap.String("order_no", o.OrderNo), zap.Error(err))
			if h.notifier != nil {
				h.notifier.ProvisionFailed(o, err)
			}
		}
	}
	if h.notifier != nil {
		h.notifier.PaymentCompleted(o)
	}

	return c.JSON(http.StatusCreated, models.APIResponse{Status: true, Obj: checkoutResponse{
		OrderNo:       o.OrderNo,
		TotalCents:    o.TotalCents,
		DiscountCents: o.DiscountCents,
		PaymentStatus: o.PaymentStatus,
	}})
}

func (h *CheckoutHandler) burnCoupon(o *models.Order) {
	if o.CouponCode == "" {
		return
	}
	if err := h.coupons.IncrementUse(o.CouponCode); err != nil {
		h.log.Warn("coupon use increment failed",
			zap.String("coupon", o.CouponCode),
			zap.String("order_no", o.OrderNo),
			zap.Error(err),
		)
	}
}

type depositRequest struct {
	Email       string `json:"email"`
	AmountCents int64  `json:"amount_cents"`
	Gateway     string `json:"gateway"`
}

// Deposit creates a wallet top-up order. The wallet is credited when
// the payment completes, through the completion callback.
func (h *CheckoutHandler) Deposit(c echo.Context) error {
	var req depositRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "invalid request body"})
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "a valid email is required"})
	}
	if req.AmountCents < h.cfg.MinDepositCents {
		return c.JSON(http.StatusBadRequest, models.APIResponse{
			Msg: "minimum deposit is " + utils.FormatCents(h.cfg.MinDepositCents) + " USD",
		})
	}
	if req.Gateway == PayWithBalance {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "deposits cannot be paid from the wallet"})
	}

	user, err := h.users.FindByEmail(req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, models.APIResponse{Msg: "no account for this email"})
		}
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "lookup failed"})
	}

	o := &models.Order{
		OrderNo:       utils.GenerateOrderNo(),
		UserID:        user.ID,
		Email:         user.Email,
		FullName:      user.FullName,
		Purpose:       models.PurposeDeposit,
		Currency:      "USD",
		TotalCents:    req.AmountCents,
		PaymentStatus: models.PaymentPending,
		OrderStatus:   "pending",
		PaymentMethod: req.Gateway,
	}
	if err := h.orders.Create(o); err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "could not create order"})
	}

	return h.payWithGateway(c, o, gateway.Key(req.Gateway))
}
