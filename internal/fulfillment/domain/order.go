package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderID string

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// Terminal: из CANCELLED и DELIVERED переходов больше нет.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusDelivered
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

type OrderLine struct {
	ProductID ProductID
	Quantity  int32
	Price     decimal.Decimal // снимок цены на момент покупки
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt32(l.Quantity))
}

type Order struct {
	ID            OrderID
	CustomerName  string
	CustomerEmail string
	Status        OrderStatus
	Lines         []OrderLine
	Total         decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewOrder(id OrderID, customerName, customerEmail string, at time.Time) (*Order, error) {
	if strings.TrimSpace(customerName) == "" || strings.TrimSpace(customerEmail) == "" {
		return nil, ErrInvalidInput
	}
	return &Order{
		ID:            id,
		CustomerName:  customerName,
		CustomerEmail: customerEmail,
		Status:        OrderStatusPending,
		Total:         decimal.Zero,
		CreatedAt:     at,
		UpdatedAt:     at,
	}, nil
}

// AddLine appends a line and keeps Total equal to the line subtotal sum.
// Shipping and discount are applied once, via ApplyPricing.
func (o *Order) AddLine(line OrderLine) {
	o.Lines = append(o.Lines, line)
	o.Total = o.Subtotal()
}

func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range o.Lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum
}

// ApplyPricing fixes the final amount: subtotal + shipping - discount,
// clamped at zero.
func (o *Order) ApplyPricing(shipping, discount decimal.Decimal) {
	total := o.Subtotal().Add(shipping).Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.Total = total
}

func (o *Order) TransitionTo(next OrderStatus) error {
	if !next.Valid() {
		return ErrInvalidInput
	}
	if o.Status.Terminal() {
		return &InvalidTransitionError{From: o.Status, To: next}
	}
	o.Status = next
	return nil
}

func (o *Order) MarkProcessing() error {
	return o.TransitionTo(OrderStatusProcessing)
}
