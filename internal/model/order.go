package model

import (
	"fmt"
	"time"
)

// OrderStatus tracks an order through fulfilment.
type OrderStatus string

const (
	OrderPending        OrderStatus = "pending"
	OrderConfirmed      OrderStatus = "confirmed"
	OrderOutForDelivery OrderStatus = "out_for_delivery"
	OrderDelivered      OrderStatus = "delivered"
	OrderCancelled      OrderStatus = "cancelled"
)

// ParseOrderStatus validates s against the known statuses.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderPending, OrderConfirmed, OrderOutForDelivery, OrderDelivered, OrderCancelled:
		return OrderStatus(s), nil
	default:
		return "", fmt.Errorf("unknown order status %q", s)
	}
}

// Order is a customer order owned by one tenant.
type Order struct {
	ID             uint        `json:"id" gorm:"primaryKey"`
	TenantCode     int64       `json:"tenantCode" gorm:"index;not null"`
	CustomerName   string      `json:"customerName" gorm:"type:varchar(100);not null"`
	CustomerMobile string      `json:"customerMobile" gorm:"type:varchar(20)"`
	Address        string      `json:"address" gorm:"type:text"`
	Items          string      `json:"items" gorm:"type:text"`
	TotalAmount    float64     `json:"totalAmount" gorm:"not null;default:0"`
	Status         OrderStatus `json:"status" gorm:"type:varchar(32);not null;default:'pending'"`
	CreatedBy      int64       `json:"createdBy" gorm:"not null"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}
