// Package httperr renders application errors as JSON responses.
package httperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/suteetoe/pharmadesk/internal/apperror"
	"github.com/suteetoe/pharmadesk/pkg/logger"
	"github.com/suteetoe/pharmadesk/prometheus"
)

// Body is the error payload every endpoint returns.
type Body struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// Respond logs err and writes its client-safe form. Causes are logged, never sent.
func Respond(c echo.Context, err error) error {
	appErr := apperror.As(err)
	status := appErr.Status()

	log := logger.FromEcho(c)
	fields := []zap.Field{zap.String("code", appErr.Code), zap.Int("status", status)}
	if appErr.Field != "" {
		fields = append(fields, zap.String("field", appErr.Field))
	}
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", append(fields, zap.Error(err))...)
	} else {
		log.Warn("Request rejected", fields...)
	}
	prometheus.RecordError(appErr.Code)

	return c.JSON(status, Body{Error: appErr.Message, Code: appErr.Code, Field: appErr.Field})
}

// Handler is an echo.HTTPErrorHandler producing the same body for router and binder errors.
func Handler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		body := Body{Code: apperror.CodeInternal, Error: http.StatusText(he.Code)}
		switch he.Code {
		case http.StatusNotFound:
			body.Code = apperror.CodeNotFound
		case http.StatusMethodNotAllowed:
			body.Code = "MethodNotAllowed"
		case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
			body.Code = apperror.CodeValidation
		case http.StatusUnauthorized:
			body.Code = apperror.CodeUnauthenticated
		}
		prometheus.RecordError(body.Code)
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(he.Code)
			return
		}
		_ = c.JSON(he.Code, body)
		return
	}

	_ = Respond(c, err)
}
