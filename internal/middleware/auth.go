package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"iptvshop/internal/models"
)

// AdminAuth guards the admin API with a static key carried in the
// X-Api-Key header. With no key configured the admin API is disabled
// outright.
func AdminAuth(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey == "" {
				return c.JSON(http.StatusServiceUnavailable, models.APIResponse{Msg: "admin API is disabled"})
			}
			provided := c.Request().Header.Get("X-Api-Key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				return c.JSON(http.StatusUnauthorized, models.APIResponse{Msg: "invalid api key"})
			}
			return next(c)
		}
	}
}
