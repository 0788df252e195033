package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suteetoe/pharmadesk/pkg/database"
	"github.com/suteetoe/pharmadesk/pkg/logger"
	"github.com/suteetoe/pharmadesk/prometheus"
)

// HealthHandler reports liveness and database reachability.
type HealthHandler struct {
	db      *gorm.DB
	service string
	timeout time.Duration
}

func NewHealthHandler(db *gorm.DB, service string, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{db: db, service: service, timeout: timeout}
}

// HealthCheck handles the health check endpoint
func (h *HealthHandler) HealthCheck(c echo.Context) error {
	if err := database.Ping(c.Request().Context(), h.db, h.timeout); err != nil {
		logger.FromEcho(c).Error("Database unreachable", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{
			"status":  "unhealthy",
			"service": h.service,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":  "healthy",
		"service": h.service,
	})
}

func MetricsHandler(c echo.Context) error {
	handler := prometheus.GetPrometheusHandler()
	handler.ServeHTTP(c.Response(), c.Request())
	return nil
}
