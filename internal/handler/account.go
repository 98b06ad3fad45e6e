package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"iptvshop/internal/config"
	"iptvshop/internal/mailer"
	"iptvshop/internal/models"
	"iptvshop/internal/notify"
	"iptvshop/internal/otp"
	"iptvshop/internal/pkg/utils"
	"iptvshop/internal/repository"
)

// AccountHandler serves the customer self-service API: passwordless
// OTP login, order history and support tickets.
type AccountHandler struct {
	cfg     config.CheckoutConfig
	users   *repository.UserRepo
	orders  *repository.OrderRepo
	tickets *repository.TicketRepo
	otp     *otp.Store
	mailer  *mailer.Mailer
	tg      *notify.Telegram
	log     *zap.Logger
}

func NewAccountHandler(
	cfg config.CheckoutConfig,
	users *repository.UserRepo,
	orders *repository.OrderRepo,
	tickets *repository.TicketRepo,
	otpStore *otp.Store,
	m *mailer.Mailer,
	tg *notify.Telegram,
	log *zap.Logger,
) *AccountHandler {
	return &AccountHandler{
		cfg:     cfg,
		users:   users,
		orders:  orders,
		tickets: tickets,
		otp:     otpStore,
		mailer:  m,
		tg:      tg,
		log:     log,
	}
}

type otpRequest struct {
	Email string `json:"email"`
}

// RequestOTP issues a login code and mails it. The response is the
// same whether or not the account exists, so the endpoint cannot be
// used to probe emails.
func (h *AccountHandler) RequestOTP(c echo.Context) error {
	var req otpRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "invalid request body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "a valid email is required"})
	}

	if _, err := h.users.FindByEmail(req.Email); err == nil {
		code, err := h.otp.Issue(c.Request().Context(), req.Email)
		if err == nil {
			go func() {
				if err := h.mailer.SendOTP(req.Email, code, h.cfg.OTPTTL); err != nil {
					h.log.Error("otp email failed", zap.String("email", req.Email), zap.Error(err))
				}
			}()
		}
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Msg: "if the account exists, a code was sent"})
}

type otpVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// VerifyOTP exchanges a valid code for a bearer token.
func (h *AccountHandler) VerifyOTP(c echo.Context) error {
	var req otpVerifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "invalid request body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if err := h.otp.Verify(c.Request().Context(), req.Email, req.Code); err != nil {
		switch {
		case errors.Is(err, otp.ErrTooManyAttempts):
			return c.JSON(http.StatusTooManyRequests, models.APIResponse{Msg: "too many attempts, request a new code"})
		case errors.Is(err, otp.ErrCodeExpired):
			return c.JSON(http.StatusUnauthorized, models.APIResponse{Msg: "code expired, request a new one"})
		default:
			return c.JSON(http.StatusUnauthorized, models.APIResponse{Msg: "wrong code"})
		}
	}

	user, err := h.users.FindByEmail(req.Email)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, models.APIResponse{Msg: "no account for this email"})
	}

	token := utils.RandomHex(32)
	if err := h.users.SetToken(user.ID, token); err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "login failed"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: map[string]interface{}{
		"token":         token,
		"email":         user.Email,
		"full_name":     user.FullName,
		"balance_cents": user.BalanceCents,
		"referral_code": user.ReferralCode,
	}})
}

// authed resolves the bearer token to a user, or writes a 401.
func (h *AccountHandler) authed(c echo.Context) (*models.User, bool) {
	token := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
	user, err := h.users.FindByToken(strings.TrimSpace(token))
	if err != nil {
		_ = c.JSON(http.StatusUnauthorized, models.APIResponse{Msg: "login required"})
		return nil, false
	}
	return user, true
}

func (h *AccountHandler) Me(c echo.Context) error {
	user, ok := h.authed(c)
	if !ok {
		return nil
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: map[string]interface{}{
		"email":         user.Email,
		"full_name":     user.FullName,
		"balance_cents": user.BalanceCents,
		"referral_code": user.ReferralCode,
	}})
}

func (h *AccountHandler) Logout(c echo.Context) error {
	user, ok := h.authed(c)
	if !ok {
		return nil
	}
	if err := h.users.SetToken(user.ID, ""); err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "logout failed"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Msg: "logged out"})
}

func (h *AccountHandler) Orders(c echo.Context) error {
	user, ok := h.authed(c)
	if !ok {
		return nil
	}
	orders, err := h.orders.ListByUser(user.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "lookup failed"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: orders})
}

// Order returns one order with its credentials. Credentials are only
// exposed to the order's owner.
func (h *AccountHandler) Order(c echo.Context) error {
	user, ok := h.authed(c)
	if !ok {
		return nil
	}
	o, err := h.orders.FindByOrderNo(c.Param("orderNo"))
	if err != nil || o.UserID != user.ID {
		return c.JSON(http.StatusNotFound, models.APIResponse{Msg: "order not found"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: map[string]interface{}{
		"order":       o,
		"items":       o.Items(),
		"credentials": o.Credentials(),
	}})
}

type ticketRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *AccountHandler) CreateTicket(c echo.Context) error {
	user, ok := h.authed(c)
	if !ok {
		return nil
	}
	var req ticketRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "invalid request body"})
	}
	req.Subject = strings.TrimSpace(req.Subject)
	req.Body = strings.TrimSpace(req.Body)
	if req.Subject == "" || req.Body == "" {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "subject and body are required"})
	}

	t := &models.Ticket{UserID: user.ID, Subject: req.Subject, Status: "open"}
	if err := h.tickets.Create(t, req.Body); err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "could not create ticket"})
	}
	if h.tg != nil {
		h.tg.NewTicket(t, user.Email)
	}
	return c.JSON(http.StatusCreated, models.APIResponse{Status: true, Obj: t})
}

func (h *AccountHandler) Tickets(c echo.Context) error {
	user, ok := h.authed(c)
	if !ok {
		return nil
	}
	tickets, err := h.tickets.ListByUser(user.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "lookup failed"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: tickets})
}

func (h *AccountHandler) Ticket(c echo.Context) error {
	user, ok := h.authed(c)
	if !ok {
		return nil
	}
	t, err := h.tickets.FindByID(uint(utils.ParseInt(c.Param("id"), 0)))
	if err != nil || t.UserID != user.ID {
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

type ticketReplyRequest struct {
	Body string `json:"body"`
}

func (h *AccountHandler) ReplyTicket(c echo.Context) error {
	user, ok := h.authed(c)
	if !ok {
		return nil
	}
	t, err := h.tickets.FindByID(uint(utils.ParseInt(c.Param("id"), 0)))
	if err != nil || t.UserID != user.ID {
		return c.JSON(http.StatusNotFound, models.APIResponse{Msg: "ticket not found"})
	}
	if t.Status == "closed" {
		return c.JSON(http.StatusConflict, models.APIResponse{Msg: "ticket is closed"})
	}

	var req ticketReplyRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Body) == "" {
		return c.JSON(http.StatusBadRequest, models.APIResponse{Msg: "body is required"})
	}
	if err := h.tickets.Reply(t.ID, false, strings.TrimSpace(req.Body)); err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "could not reply"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Msg: "reply added"})
}
