package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// CronSecretHeader carries the shared secret that authorizes job trigger
// requests.
const CronSecretHeader = "x-cron-secret"

// CronAuth rejects job trigger requests whose secret header does not match
// the configured value. An empty configured secret disables the check; the
// config layer refuses that outside development.
func CronAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return next(c)
			}
			provided := c.Request().Header.Get(CronSecretHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing cron secret")
			}
			return next(c)
		}
	}
}
