package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderRequiresCustomerInfo(t *testing.T) {
	now := time.Now().UTC()

	_, err := NewOrder("o-1", "", "a@b.com", now)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewOrder("o-1", "Alice", "  ", now)
	assert.ErrorIs(t, err, ErrInvalidInput)

	o, err := NewOrder("o-1", "Alice", "a@b.com", now)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusPending, o.Status)
	assert.True(t, o.Total.IsZero())
}

func TestOrderTotalTracksLines(t *testing.T) {
	o, err := NewOrder("o-1", "Alice", "a@b.com", time.Now().UTC())
	require.NoError(t, err)

	o.AddLine(OrderLine{ProductID: "p-1", Quantity: 3, Price: decimal.RequireFromString("20.00")})
	assert.True(t, o.Total.Equal(decimal.RequireFromString("60.00")))

	o.AddLine(OrderLine{ProductID: "p-2", Quantity: 1, Price: decimal.RequireFromString("30.00")})
	assert.True(t, o.Total.Equal(decimal.RequireFromString("90.00")))
	assert.True(t, o.Subtotal().Equal(decimal.RequireFromString("90.00")))
}

func TestApplyPricing(t *testing.T) {
	o, err := NewOrder("o-1", "Alice", "a@b.com", time.Now().UTC())
	require.NoError(t, err)
	o.AddLine(OrderLine{ProductID: "p-1", Quantity: 3, Price: decimal.RequireFromString("30.00")})

	o.ApplyPricing(decimal.RequireFromString("5.00"), decimal.RequireFromString("10.00"))
	assert.True(t, o.Total.Equal(decimal.RequireFromString("85.00")))

	// A discount larger than subtotal+shipping clamps at zero.
	o.ApplyPricing(decimal.Zero, decimal.RequireFromString("500.00"))
	assert.True(t, o.Total.IsZero())
}

func TestOrderTransitions(t *testing.T) {
	o, err := NewOrder("o-1", "Alice", "a@b.com", time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, o.MarkProcessing())
	assert.Equal(t, OrderStatusProcessing, o.Status)

	require.NoError(t, o.TransitionTo(OrderStatusShipped))
	require.NoError(t, o.TransitionTo(OrderStatusDelivered))

	var invalid *InvalidTransitionError
	err = o.TransitionTo(OrderStatusCancelled)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, OrderStatusDelivered, invalid.From)
	assert.Equal(t, OrderStatusDelivered, o.Status, "terminal status must not change")

	err = o.TransitionTo("UNKNOWN")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, OrderStatusCancelled.Terminal())
	assert.True(t, OrderStatusDelivered.Terminal())
	assert.False(t, OrderStatusPending.Terminal())
	assert.False(t, OrderStatusProcessing.Terminal())
	assert.False(t, OrderStatusShipped.Terminal())
}

func TestProductDecreaseStock(t *testing.T) {
	p := Product{ID: "p-1", Stock: 5, Price: decimal.RequireFromString("20.00")}

	require.NoError(t, p.DecreaseStock(3))
	assert.Equal(t, int32(2), p.Stock)

	var noStock *InsufficientStockError
	err := p.DecreaseStock(3)
	require.ErrorAs(t, err, &noStock)
	assert.Equal(t, ProductID("p-1"), noStock.ProductID)
	assert.Equal(t, int32(2), p.Stock, "failed decrement must not change stock")

	assert.ErrorIs(t, p.DecreaseStock(0), ErrInvalidInput)
	assert.ErrorIs(t, p.DecreaseStock(-1), ErrInvalidInput)
}
