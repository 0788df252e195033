package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/suteetoe/pharmadesk/internal/apperror"
	"github.com/suteetoe/pharmadesk/internal/credential"
	"github.com/suteetoe/pharmadesk/internal/model"
	"github.com/suteetoe/pharmadesk/internal/registrar"
	"github.com/suteetoe/pharmadesk/internal/repository"
	"github.com/suteetoe/pharmadesk/pkg/logger"
	"github.com/suteetoe/pharmadesk/prometheus"
)

// UserHandler manages the users of the caller's tenant.
type UserHandler struct {
	registrar *registrar.Registrar
	users     *repository.UserRepository
	tenants   *repository.TenantRepository
}

// NewUserHandler returns a UserHandler.
func NewUserHandler(reg *registrar.Registrar, users *repository.UserRepository, tenants *repository.TenantRepository) *UserHandler {
	return &UserHandler{registrar: reg, users: users, tenants: tenants}
}

type addUserRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type userResponse struct {
	UserID     int64      `json:"userId"`
	Name       string     `json:"name"`
	Role       model.Role `json:"role"`
	TenantCode int64      `json:"tenantCode"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{UserID: u.UserID, Name: u.Name, Role: u.Role, TenantCode: u.TenantCode}
}

// AddUser creates a user in the caller's tenant. The tenant always comes from the token.
func (h *UserHandler) AddUser(c echo.Context) error {
	log := logger.FromEcho(c)
	caller, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}

	var req addUserRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse add user request", zap.Error(err))
		return respondError(c, errInvalidBody)
	}

	user, err := h.registrar.AddUser(c.Request().Context(), caller.TenantCode, registrar.NewUser{
		Name:     req.Name,
		Password: req.Password,
		Role:     model.Role(req.Role),
	})
	if err != nil {
		return respondError(c, err)
	}
	h.tenants.Invalidate(caller.TenantCode)

	return c.JSON(http.StatusCreated, toUserResponse(user))
}

// ListUsers returns every user of the caller's tenant.
func (h *UserHandler) ListUsers(c echo.Context) error {
	caller, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}

	users, err := h.users.List(c.Request().Context(), caller.TenantCode)
	if err != nil {
		return respondError(c, err)
	}

	resp := make([]userResponse, 0, len(users))
	for i := range users {
		resp = append(resp, toUserResponse(&users[i]))
	}
	prometheus.RecordTenantOperation("user", "list")
	return c.JSON(http.StatusOK, resp)
}

// Me returns the caller.
func (h *UserHandler) Me(c echo.Context) error {
	caller, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, toUserResponse(caller))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword replaces the caller's password.
func (h *UserHandler) ChangePassword(c echo.Context) error {
	log := logger.FromEcho(c)
	caller, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}

	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Failed to parse change password request", zap.Error(err))
		return respondError(c, errInvalidBody)
	}
	if req.CurrentPassword == "" {
		return respondError(c, apperror.Validation("currentPassword", "current password is required"))
	}
	if len(req.NewPassword) < credential.MinPasswordLength {
		return respondError(c, apperror.Validation("newPassword", "new password is too short"))
	}
	if len(req.NewPassword) > credential.MaxPasswordLength {
		return respondError(c, apperror.Validation("newPassword", "new password is too long"))
	}

	err = h.users.ChangePassword(c.Request().Context(), caller.TenantCode, caller.UserID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return respondError(c, err)
	}

	log.Info("Password changed")
	prometheus.RecordTenantOperation("user", "change_password")
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}
