package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/domain"
	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/memory"
)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	st := memory.NewStore()
	st.AddProduct(domain.Product{ID: "sku-1", Name: "Widget", Price: decimal.RequireFromString("30.00"), Stock: 10})
	st.AddProduct(domain.Product{ID: "sku-2", Name: "Gadget", Price: decimal.RequireFromString("75.00"), Stock: 4})
	return st
}

func TestCheckoutComputesTotalWithShippingAndDiscount(t *testing.T) {
	st := seededStore(t)
	orch := NewOrchestrator(st)

	// Subtotal 90.00, below the free-shipping threshold, SALE coupon.
	order, err := orch.Checkout(context.Background(), Input{
		CustomerName:  "Alice",
		CustomerEmail: "alice@example.com",
		Lines:         []LineRequest{{ProductID: "sku-1", Quantity: 3}},
		CouponCode:    "SALE10",
	})
	require.NoError(t, err)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("85.00")), "got %s", order.Total)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)

	persisted, err := st.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, persisted.Total.Equal(order.Total))
	require.Len(t, persisted.Lines, 1)
	assert.True(t, persisted.Lines[0].Price.Equal(decimal.RequireFromString("30.00")))

	p, err := st.GetProduct(context.Background(), "sku-1")
	require.NoError(t, err)
	assert.Equal(t, int32(7), p.Stock)
}

func TestCheckoutFreeShippingAboveThreshold(t *testing.T) {
	st := seededStore(t)
	orch := NewOrchestrator(st)

	// Subtotal 150.00, no coupon: shipping 0.00, total 150.00.
	order, err := orch.Checkout(context.Background(), Input{
		CustomerName:  "Bob",
		CustomerEmail: "bob@example.com",
		Lines:         []LineRequest{{ProductID: "sku-2", Quantity: 2}},
	})
	require.NoError(t, err)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("150.00")), "got %s", order.Total)
}

func TestCheckoutValidation(t *testing.T) {
	st := seededStore(t)
	orch := NewOrchestrator(st)
	ctx := context.Background()

	cases := []Input{
		{CustomerName: "", CustomerEmail: "a@b.com", Lines: []LineRequest{{ProductID: "sku-1", Quantity: 1}}},
		{CustomerName: "Alice", CustomerEmail: "", Lines: []LineRequest{{ProductID: "sku-1", Quantity: 1}}},
		{CustomerName: "Alice", CustomerEmail: "a@b.com"},
		{CustomerName: "Alice", CustomerEmail: "a@b.com", Lines: []LineRequest{{ProductID: "sku-1", Quantity: 0}}},
		{CustomerName: "Alice", CustomerEmail: "a@b.com", Lines: []LineRequest{{ProductID: "", Quantity: 1}}},
	}
	for _, in := range cases {
		_, err := orch.Checkout(ctx, in)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}

	// No state change on validation failure.
	p, err := st.GetProduct(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, int32(10), p.Stock)
	orders, err := st.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckoutRollsBackEveryLineOnFailure(t *testing.T) {
	st := seededStore(t)
	orch := NewOrchestrator(st)
	ctx := context.Background()

	// Second line references a missing product; the first line's decrement
	// must be rolled back.
	_, err := orch.Checkout(ctx, Input{
		CustomerName:  "Alice",
		CustomerEmail: "alice@example.com",
		Lines: []LineRequest{
			{ProductID: "sku-1", Quantity: 2},
			{ProductID: "sku-404", Quantity: 1},
		},
	})
	var notFound *domain.ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, domain.ProductID("sku-404"), notFound.ProductID)

	p, err := st.GetProduct(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, int32(10), p.Stock)

	// Same with an insufficient-stock failure on the second line.
	_, err = orch.Checkout(ctx, Input{
		CustomerName:  "Alice",
		CustomerEmail: "alice@example.com",
		Lines: []LineRequest{
			{ProductID: "sku-1", Quantity: 2},
			{ProductID: "sku-2", Quantity: 5},
		},
	})
	var noStock *domain.InsufficientStockError
	require.ErrorAs(t, err, &noStock)
	assert.Equal(t, domain.ProductID("sku-2"), noStock.ProductID)

	p, err = st.GetProduct(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, int32(10), p.Stock)
	p, err = st.GetProduct(ctx, "sku-2")
	require.NoError(t, err)
	assert.Equal(t, int32(4), p.Stock)

	orders, err := st.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	st := memory.NewStore()
	st.AddProduct(domain.Product{ID: "sku-hot", Name: "Hot item", Price: decimal.RequireFromString("20.00"), Stock: 5})
	orch := NewOrchestrator(st)
	ctx := context.Background()

	const attempts = 2
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = orch.Checkout(ctx, Input{
				CustomerName:  "Racer",
				CustomerEmail: "racer@example.com",
				Lines:         []LineRequest{{ProductID: "sku-hot", Quantity: 3}},
			})
		}(i)
	}
	wg.Wait()

	var ok, noStock int
	for _, err := range errs {
		var stockErr *domain.InsufficientStockError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &stockErr):
			noStock++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok, "exactly one checkout wins the stock")
	assert.Equal(t, 1, noStock)

	p, err := st.GetProduct(ctx, "sku-hot")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.Stock)
}

func TestCheckoutLineOrderPreservedWithSharedProducts(t *testing.T) {
	st := seededStore(t)
	orch := NewOrchestrator(st)

	order, err := orch.Checkout(context.Background(), Input{
		CustomerName:  "Alice",
		CustomerEmail: "alice@example.com",
		Lines: []LineRequest{
			{ProductID: "sku-2", Quantity: 1},
			{ProductID: "sku-1", Quantity: 1},
			{ProductID: "sku-2", Quantity: 1},
		},
	})
	require.NoError(t, err)

	// Locking reorders by product id, the lines themselves do not.
	require.Len(t, order.Lines, 3)
	assert.Equal(t, domain.ProductID("sku-2"), order.Lines[0].ProductID)
	assert.Equal(t, domain.ProductID("sku-1"), order.Lines[1].ProductID)
	assert.Equal(t, domain.ProductID("sku-2"), order.Lines[2].ProductID)

	p, err := st.GetProduct(context.Background(), "sku-2")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.Stock)
}

func TestCheckoutIdempotencyKeyClaimedOnce(t *testing.T) {
	st := seededStore(t)
	orch := NewOrchestrator(st)
	ctx := context.Background()

	in := Input{
		CustomerName:   "Alice",
		CustomerEmail:  "alice@example.com",
		Lines:          []LineRequest{{ProductID: "sku-1", Quantity: 1}},
		IdempotencyKey: "idem-1",
	}
	first, err := orch.Checkout(ctx, in)
	require.NoError(t, err)

	_, err = orch.Checkout(ctx, in)
	assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)

	// Replay did not decrement stock again.
	p, err := st.GetProduct(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, int32(9), p.Stock)

	existing, err := st.OrderIDByIdempotencyKey(ctx, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, existing)
}
