package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"iptvshop/internal/handler"
	"iptvshop/internal/middleware"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	Webhook  *handler.WebhookHandler
	Status   *handler.StatusHandler
	Checkout *handler.CheckoutHandler
	Account  *handler.AccountHandler
	Catalog  *handler.CatalogHandler
	Admin    *handler.AdminHandler
}

// New wires all routes onto a fresh echo instance.
func New(h Handlers, deduper *middleware.Deduper, adminKey string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Storefront.
	e.GET("/plans", h.Catalog.Plans)
	e.GET("/gateways", h.Catalog.Gateways)
	e.GET("/coupons/:code", h.Catalog.CheckCoupon)
	e.POST("/checkout", h.Checkout.Checkout)
	e.POST("/deposit", h.Checkout.Deposit)

	// Payment callbacks and customer-facing status.
	e.POST("/payments/:gateway/webhook", h.Webhook.Handle, deduper.Webhook())
	e.GET("/payments/:gateway/status/:orderNo", h.Status.Handle)

	// Customer self-service.
	account := e.Group("/api/account")
	account.POST("/otp/request", h.Account.RequestOTP)
	account.POST("/otp/verify", h.Account.VerifyOTP)
	account.GET("/me", h.Account.Me)
	account.POST("/logout", h.Account.Logout)
	account.GET("/orders", h.Account.Orders)
	account.GET("/orders/:orderNo", h.Account.Order)
	account.POST("/tickets", h.Account.CreateTicket)
	account.GET("/tickets", h.Account.Tickets)
	account.GET("/tickets/:id", h.Account.Ticket)
	account.POST("/tickets/:id/reply", h.Account.ReplyTicket)

	// Staff API.
	admin := e.Group("/api/admin", middleware.AdminAuth(adminKey))
	admin.GET("/stats", h.Admin.Stats)
	admin.GET("/orders", h.Admin.Orders)
	admin.GET("/orders/:orderNo", h.Admin.Order)
	admin.POST("/orders/:orderNo/refresh", h.Admin.RefreshOrder)
	admin.POST("/orders/:orderNo/reprovision", h.Admin.Reprovision)
	admin.GET("/users", h.Admin.Users)
	admin.POST("/users/:id/balance", h.Admin.AdjustBalance)
	admin.GET("/plans", h.Admin.Plans)
	admin.POST("/plans", h.Admin.SavePlan)
	admin.DELETE("/plans/:id", h.Admin.DeletePlan)
	admin.GET("/coupons", h.Admin.Coupons)
	admin.POST("/coupons", h.Admin.SaveCoupon)
	admin.DELETE("/coupons/:id", h.Admin.DeleteCoupon)
	admin.GET("/tickets", h.Admin.Tickets)
	admin.GET("/tickets/:id", h.Admin.Ticket)
	admin.POST("/tickets/:id/reply", h.Admin.ReplyTicket)
	admin.POST("/tickets/:id/close", h.Admin.CloseTicket)
	admin.GET("/settings", h.Admin.Settings)
	admin.POST("/settings", h.Admin.SaveSetting)

	return e
}
