package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"iptvshop/internal/gateway"
	"iptvshop/internal/models"
	"iptvshop/internal/repository"
)

// CatalogHandler serves the public storefront data.
type CatalogHandler struct {
	plans    *repository.PlanRepo
	coupons  *repository.CouponRepo
	registry *gateway.Registry
}

func NewCatalogHandler(plans *repository.PlanRepo, coupons *repository.CouponRepo, registry *gateway.Registry) *CatalogHandler {
	return &CatalogHandler{plans: plans, coupons: coupons, registry: registry}
}

func (h *CatalogHandler) Plans(c echo.Context) error {
	plans, err := h.plans.ListActive()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, models.APIResponse{Msg: "lookup failed"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: plans})
}

// Gateways lists the configured payment methods so the storefront only
// offers what is actually wired up.
func (h *CatalogHandler) Gateways(c echo.Context) error {
	keys := h.registry.Keys()
	methods := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		methods = append(methods, string(k))
	}
	methods = append(methods, PayWithBalance)
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: methods})
}

// CheckCoupon validates a coupon code for the checkout page.
func (h *CatalogHandler) CheckCoupon(c echo.Context) error {
	coupon, err := h.coupons.FindValid(c.Param("code"))
	if err != nil {
		return c.JSON(http.StatusNotFound, models.APIResponse{Msg: "coupon is not valid"})
	}
	return c.JSON(http.StatusOK, models.APIResponse{Status: true, Obj: map[string]interface{}{
		"code":        coupon.Code,
		"percent_off": coupon.PercentOff,
	}})
}
