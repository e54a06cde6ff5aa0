package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusReturned   OrderStatus = "RETURNED"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
}

// OrderStatuses returns every known status in lifecycle order.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(orderStatuses))
	copy(out, orderStatuses)
	return out
}

// ParseOrderStatus accepts any known status regardless of case.
// No transition rules are applied: any status may follow any other.
func ParseOrderStatus(s string) (OrderStatus, error) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range orderStatuses {
		if st == candidate {
			return st, nil
		}
	}
	return "", NewValidationError("status", "unknown order status", s)
}

type Order struct {
	ID            string
	StoreID       string
	CustomerID    *string
	CustomerName  string
	CustomerPhone string
	Address       string
	Notes         string
	Status        OrderStatus
	Items         []OrderItem
	Store         *Store
	Customer      *Customer
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderItem is immutable once written. Price is the unit price captured
// when the order was placed, not the product's current price.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// QuantitiesByProduct sums item quantities per product.
func (o Order) QuantitiesByProduct() map[string]int {
	return AggregateQuantities(o.Items)
}

// AggregateQuantities sums quantities of items sharing a product ID, so a
// product referenced by several lines is checked and updated once.
func AggregateQuantities(items []OrderItem) map[string]int {
	out := make(map[string]int, len(items))
	for _, item := range items {
		out[item.ProductID] += item.Quantity
	}
	return out
}
