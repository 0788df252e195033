package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/suteetoe/pharmadesk/internal/repository"
)

// TenantHandler serves the caller's tenant profile.
type TenantHandler struct {
	tenants *repository.TenantRepository
}

func NewTenantHandler(tenants *repository.TenantRepository) *TenantHandler {
	return &TenantHandler{tenants: tenants}
}

// GetTenant returns the profile of the caller's tenant.
func (h *TenantHandler) GetTenant(c echo.Context) error {
	caller, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	profile, err := h.tenants.Profile(c.Request().Context(), caller.TenantCode)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}
