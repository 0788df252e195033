package handler

import (
	"github.com/labstack/echo/v4"

	"github.com/suteetoe/pharmadesk/internal/apperror"
	"github.com/suteetoe/pharmadesk/internal/httperr"
	"github.com/suteetoe/pharmadesk/internal/middleware"
	"github.com/suteetoe/pharmadesk/internal/model"
)

var errInvalidBody = apperror.Validation("body", "invalid request body")

func respondError(c echo.Context, err error) error {
	return httperr.Respond(c, err)
}

// currentUser returns the authenticated user attached by the guard.
func currentUser(c echo.Context) (*model.User, error) {
	user, ok := middleware.UserFromContext(c)
	if !ok {
		return nil, apperror.ErrUnauthenticated
	}
	return user, nil
}
