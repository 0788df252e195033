package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/suteetoe/pharmadesk/internal/apperror"
	"github.com/suteetoe/pharmadesk/internal/httperr"
	"github.com/suteetoe/pharmadesk/internal/model"
	"github.com/suteetoe/pharmadesk/pkg/jwtutil"
	"github.com/suteetoe/pharmadesk/pkg/logger"
	"github.com/suteetoe/pharmadesk/prometheus"
)

const (
	userKey       = "auth_user"
	tenantCodeKey = "tenant_code"
)

// UserLoader reloads the authenticated user so role changes take effect before the token expires.
type UserLoader interface {
	Get(ctx context.Context, tenantCode, userID int64) (*model.User, error)
}

// Guard authenticates bearer tokens and enforces roles.
type Guard struct {
	tokens *jwtutil.JWTUtil
	users  UserLoader
}

// NewGuard returns a Guard verifying tokens with tokens and loading users from users.
func NewGuard(tokens *jwtutil.JWTUtil, users UserLoader) *Guard {
	return &Guard{tokens: tokens, users: users}
}

// Authenticate validates the JWT token from the Authorization header and attaches
// the user and tenant code to the request.
func (g *Guard) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		log := logger.FromEcho(c)

		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			log.Warn("Missing Authorization header")
			prometheus.RecordAuthError("missing_token")
			return httperr.Respond(c, apperror.ErrUnauthenticated)
		}

		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenString) == "" {
			log.Warn("Invalid Authorization header format")
			prometheus.RecordAuthError("invalid_auth_format")
			return httperr.Respond(c, apperror.ErrUnauthenticated)
		}

		claims, err := g.tokens.Verify(strings.TrimSpace(tokenString))
		if err != nil {
			log.Warn("Invalid JWT token")
			prometheus.RecordAuthError("invalid_token")
			return httperr.Respond(c, apperror.ErrUnauthenticated)
		}

		user, err := g.users.Get(c.Request().Context(), claims.TenantCode, claims.UserID)
		if err != nil {
			if errors.Is(err, apperror.ErrUserNotFound) {
				log.Warn("Token subject no longer exists",
					zap.Int64("user_id", claims.UserID),
					zap.Int64("tenant_code", claims.TenantCode))
				prometheus.RecordAuthError("unknown_user")
				return httperr.Respond(c, apperror.ErrUnauthenticated)
			}
			return httperr.Respond(c, err)
		}

		sanitized := user.Sanitized()
		c.Set(userKey, &sanitized)
		c.Set(tenantCodeKey, user.TenantCode)

		scoped := log.With(zap.Int64("tenant_code", user.TenantCode), zap.Int64("user_id", user.UserID))
		logger.SetEcho(c, scoped)

		log.Debug("Request authenticated with tenant context",
			zap.Int64("tenant_code", user.TenantCode),
			zap.String("role", string(user.Role)))
		return next(c)
	}
}

// RequireRole lets the request through when the authenticated user's role permits role.
// It must run after Authenticate.
func RequireRole(role model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := UserFromContext(c)
			if !ok {
				prometheus.RecordAuthError("missing_user")
				return httperr.Respond(c, apperror.ErrUnauthenticated)
			}
			if !user.Role.Permits(role) {
				logger.FromEcho(c).Warn("Insufficient role",
					zap.String("have", string(user.Role)),
					zap.String("need", string(role)))
				prometheus.RecordAuthError("forbidden")
				return httperr.Respond(c, apperror.ErrForbidden)
			}
			return next(c)
		}
	}
}

// UserFromContext returns the authenticated user, without its password hash.
func UserFromContext(c echo.Context) (*model.User, bool) {
	user, ok := c.Get(userKey).(*model.User)
	return user, ok && user != nil
}

// TenantCodeFromContext returns the tenant code of the authenticated user.
func TenantCodeFromContext(c echo.Context) (int64, bool) {
	code, ok := c.Get(tenantCodeKey).(int64)
	return code, ok
}
