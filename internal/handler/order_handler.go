package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/suteetoe/pharmadesk/internal/apperror"
	"github.com/suteetoe/pharmadesk/internal/model"
	"github.com/suteetoe/pharmadesk/internal/repository"
	"github.com/suteetoe/pharmadesk/pkg/logger"
	"github.com/suteetoe/pharmadesk/prometheus"
)

const maxOrderPage = 200

// OrderHandler serves the caller's tenant orders.
type OrderHandler struct {
	orders *repository.OrderRepository
}

func NewOrderHandler(orders *repository.OrderRepository) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// OrderRequest defines the structure for order creation/update requests
type OrderRequest struct {
	CustomerName   *string  `json:"customerName"`
	CustomerMobile *string  `json:"customerMobile"`
	Address        *string  `json:"address"`
	Items          *string  `json:"items"`
	TotalAmount    *float64 `json:"totalAmount"`
	Status         *string  `json:"status"`
}

func (r OrderRequest) patch() (repository.OrderPatch, error) {
	p := repository.OrderPatch{
		CustomerMobile: r.CustomerMobile,
		Address:        r.Address,
		Items:          r.Items,
		TotalAmount:    r.TotalAmount,
	}
	if r.CustomerName != nil {
		name := strings.TrimSpace(*r.CustomerName)
		if name == "" {
			return p, apperror.Validation("customerName", "customer name must not be empty")
		}
		p.CustomerName = &name
	}
	if r.TotalAmount != nil && *r.TotalAmount < 0 {
		return p, apperror.Validation("totalAmount", "total amount must not be negative")
	}
	if r.Status != nil {
		status, err := model.ParseOrderStatus(*r.Status)
		if err != nil {
			return p, apperror.Validation("status", "unknown order status")
		}
		p.Status = &status
	}
	return p, nil
}

func orderID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperror.Validation("id", "order id must be a positive integer")
	}
	return uint(id), nil
}

func intQuery(c echo.Context, name string, max int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.Validation(name, name+" must be a non-negative integer")
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

// ListOrders handles retrieving the tenant's orders with optional filtering
func (h *OrderHandler) ListOrders(c echo.Context) error {
	caller, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}

	filter := repository.OrderFilter{Limit: maxOrderPage}
	if s := c.QueryParam("status"); s != "" {
		status, err := model.ParseOrderStatus(s)
		if err != nil {
			return respondError(c, apperror.Validation("status", "unknown order status"))
		}
		filter.Status = status
	}
	if filter.Limit, err = intQuery(c, "limit", maxOrderPage); err != nil {
		return respondError(c, err)
	}
	if filter.Limit == 0 {
		filter.Limit = maxOrderPage
	}
	if filter.Offset, err = intQuery(c, "offset", 0); err != nil {
		return respondError(c, err)
	}

	orders, err := h.orders.List(c.Request().Context(), caller.TenantCode, filter)
	if err != nil {
		return respondError(c, err)
	}
	prometheus.RecordTenantOperation("order", "list")
	return c.JSON(http.StatusOK, orders)
}

// GetOrder handles retrieving a single order by ID
func (h *OrderHandler) GetOrder(c echo.Context) error {
	caller, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := orderID(c)
	if err != nil {
		return respondError(c, err)
	}

	order, err := h.orders.Get(c.Request().Context(), caller.TenantCode, id)
	if err != nil {
		return respondError(c, err)
	}
	prometheus.RecordTenantOperation("order", "get")
	return c.JSON(http.StatusOK, order)
}

// CreateOrder handles creating a new order
func (h *OrderHandler) CreateOrder(c echo.Context) error {
	log := logger.FromEcho(c)
	caller, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}

	var req OrderRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Invalid request data", zap.Error(err))
		return respondError(c, errInvalidBody)
	}
	if req.CustomerName == nil {
		return respondError(c, apperror.Validation("customerName", "customer name is required"))
	}
	p, err := req.patch()
	if err != nil {
		return respondError(c, err)
	}

	order := model.Order{CustomerName: *p.CustomerName, CreatedBy: caller.UserID}
	if p.CustomerMobile != nil {
		order.CustomerMobile = *p.CustomerMobile
	}
	if p.Address != nil {
		order.Address = *p.Address
	}
	if p.Items != nil {
		order.Items = *p.Items
	}
	if p.TotalAmount != nil {
		order.TotalAmount = *p.TotalAmount
	}
	if p.Status != nil {
		order.Status = *p.Status
	}

	if err := h.orders.Create(c.Request().Context(), caller.TenantCode, &order); err != nil {
		return respondError(c, err)
	}

	log.Info("Order created successfully", zap.Uint("order_id", order.ID))
	prometheus.RecordTenantOperation("order", "create")
	return c.JSON(http.StatusCreated, order)
}

// UpdateOrder handles updating an existing order
func (h *OrderHandler) UpdateOrder(c echo.Context) error {
	log := logger.FromEcho(c)
	caller, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := orderID(c)
	if err != nil {
		return respondError(c, err)
	}

	var req OrderRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Invalid request data", zap.Uint("order_id", id), zap.Error(err))
		return respondError(c, errInvalidBody)
	}
	p, err := req.patch()
	if err != nil {
		return respondError(c, err)
	}

	order, err := h.orders.Update(c.Request().Context(), caller.TenantCode, id, p)
	if err != nil {
		return respondError(c, err)
	}

	log.Info("Order updated successfully", zap.Uint("order_id", id), zap.String("status", string(order.Status)))
	prometheus.RecordTenantOperation("order", "update")
	return c.JSON(http.StatusOK, order)
}

// DeleteOrder handles deleting an order
func (h *OrderHandler) DeleteOrder(c echo.Context) error {
	caller, err := currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	id, err := orderID(c)
	if err != nil {
		return respondError(c, err)
	}

	if err := h.orders.Delete(c.Request().Context(), caller.TenantCode, id); err != nil {
		return respondError(c, err)
	}

	logger.FromEcho(c).Info("Order deleted successfully", zap.Uint("order_id", id))
	prometheus.RecordTenantOperation("order", "delete")
	return c.NoContent(http.StatusNoContent)
}
