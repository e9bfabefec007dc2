// middleware.go - Request gating middleware
package api

import (
	"github.com/labstack/echo/v4"
)

// RequireReady rejects requests with 503 while ready reports false.
func RequireReady(ready func() bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !ready() {
				return NewServiceUnavailableError("Database connection unavailable. Please try again later.")
			}
			return next(c)
		}
	}
}
