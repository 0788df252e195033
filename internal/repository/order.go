package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/suteetoe/pharmadesk/internal/apperror"
	"github.com/suteetoe/pharmadesk/internal/model"
	"github.com/suteetoe/pharmadesk/prometheus"
)

// OrderFilter narrows an order listing.
type OrderFilter struct {
	Status model.OrderStatus
	Limit  int
	Offset int
}

// OrderPatch holds the fields of an order that may change. Nil fields are left alone.
type OrderPatch struct {
	CustomerName   *string
	CustomerMobile *string
	Address        *string
	Items          *string
	TotalAmount    *float64
	Status         *model.OrderStatus
}

func (p OrderPatch) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.CustomerName != nil {
		cols["customer_name"] = *p.CustomerName
	}
	if p.CustomerMobile != nil {
		cols["customer_mobile"] = *p.CustomerMobile
	}
	if p.Address != nil {
		cols["address"] = *p.Address
	}
	if p.Items != nil {
		cols["items"] = *p.Items
	}
	if p.TotalAmount != nil {
		cols["total_amount"] = *p.TotalAmount
	}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	return cols
}

// OrderRepository stores orders.
type OrderRepository struct {
	base
}

// NewOrderRepository returns an OrderRepository over db.
func NewOrderRepository(db *gorm.DB, timeout time.Duration) *OrderRepository {
	return &OrderRepository{base: newBase(db, timeout)}
}

// List returns the orders of tenantCode, newest first.
func (r *OrderRepository) List(ctx context.Context, tenantCode int64, f OrderFilter) ([]model.Order, error) {
	db, cancel := r.scoped(ctx, tenantCode)
	defer cancel()
	defer prometheus.TrackDBOperation("order_list")()

	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	if f.Limit > 0 {
		db = db.Limit(f.Limit)
	}
	if f.Offset > 0 {
		db = db.Offset(f.Offset)
	}

	orders := []model.Order{}
	if err := db.Order("id DESC").Find(&orders).Error; err != nil {
		return nil, apperror.Storage("list orders", err)
	}
	return orders, nil
}

// Get returns order id if it belongs to tenantCode. Another tenant's order is reported as not found.
func (r *OrderRepository) Get(ctx context.Context, tenantCode int64, id uint) (*model.Order, error) {
	db, cancel := r.scoped(ctx, tenantCode)
	defer cancel()
	defer prometheus.TrackDBOperation("order_get")()

	var order model.Order
	if err := db.Where("id = ?", id).Take(&order).Error; err != nil {
		return nil, lookupErr("get order", err, apperror.ErrNotFound)
	}
	return &order, nil
}

// Create stores order under tenantCode, overriding any tenant code the caller set.
func (r *OrderRepository) Create(ctx context.Context, tenantCode int64, order *model.Order) error {
	db, cancel := r.session(ctx)
	defer cancel()
	defer prometheus.TrackDBOperation("order_create")()

	order.ID = 0
	order.TenantCode = tenantCode
	if order.Status == "" {
		order.Status = model.OrderPending
	}
	if err := db.Create(order).Error; err != nil {
		return apperror.Storage("create order", err)
	}
	return nil
}

// Update applies patch to order id of tenantCode and returns the updated order.
func (r *OrderRepository) Update(ctx context.Context, tenantCode int64, id uint, patch OrderPatch) (*model.Order, error) {
	cols := patch.columns()
	if len(cols) > 0 {
		db, cancel := r.scoped(ctx, tenantCode)
		res := db.Model(&model.Order{}).Where("id = ?", id).Updates(cols)
		cancel()
		if res.Error != nil {
			return nil, apperror.Storage("update order", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, apperror.ErrNotFound
		}
	}
	return r.Get(ctx, tenantCode, id)
}

// Delete removes order id of tenantCode.
func (r *OrderRepository) Delete(ctx context.Context, tenantCode int64, id uint) error {
	db, cancel := r.scoped(ctx, tenantCode)
	defer cancel()
	defer prometheus.TrackDBOperation("order_delete")()

	res := db.Where("id = ?", id).Delete(&model.Order{})
	if res.Error != nil {
		return apperror.Storage("delete order", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.ErrNotFound
	}
	return nil
}
