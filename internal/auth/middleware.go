package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sheetviz/backend/internal/models"
	"github.com/sheetviz/backend/internal/store"
)

const userKey = "auth.user"

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Middleware rejects requests without a valid bearer token and stores the
// resolved user on the context.
func Middleware(tokens *Tokens, users store.UserStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, errorBody{"Access token required", "NO_TOKEN"})
			}

			userID, err := tokens.Verify(raw)
			if err != nil {
				slog.Debug("token verification failed", "err", err)
				return c.JSON(http.StatusForbidden, errorBody{"Invalid or expired token", "INVALID_TOKEN"})
			}

			user, err := users.GetUser(c.Request().Context(), userID)
			switch {
			case err == nil:
			case errors.Is(err, store.ErrNotFound):
				return c.JSON(http.StatusNotFound, errorBody{"User not found", "USER_NOT_FOUND"})
			case errors.Is(err, store.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
				slog.Warn("user lookup unavailable", "user_id", userID, "err", err)
				c.Response().Header().Set("Retry-After", "5")
				return c.JSON(http.StatusServiceUnavailable, errorBody{"Database temporarily unavailable. Please try again.", "DB_TIMEOUT"})
			default:
				slog.Error("user lookup failed", "user_id", userID, "err", err)
				return c.JSON(http.StatusInternalServerError, errorBody{"Authentication failed", "AUTH_ERROR"})
			}

			SetUser(c, user)
			return next(c)
		}
	}
}

// SetUser attaches u to the request context.
func SetUser(c echo.Context, u *models.User) {
	c.Set(userKey, u)
}

// UserFrom returns the authenticated user, or nil outside the middleware.
func UserFrom(c echo.Context) *models.User {
	u, _ := c.Get(userKey).(*models.User)
	return u
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
