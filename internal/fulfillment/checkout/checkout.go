package checkout

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/domain"
	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/pricing"
	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/store"
)

type LineRequest struct {
	ProductID domain.ProductID `json:"product_id"`
	Quantity  int32            `json:"quantity"`
}

type Input struct {
	OrderID       domain.OrderID
	CustomerName  string
	CustomerEmail string
	Lines         []LineRequest
	CouponCode    string

	// IdempotencyKey, when set, is claimed inside the checkout unit of work
	// so a replayed request cannot create a second order.
	IdempotencyKey string
}

// Orchestrator drives one checkout: validate, decrement stock per line, build
// the priced order and persist it, all inside one unit of work. A failure on
// any line rolls back every decrement already applied for this attempt.
type Orchestrator struct {
	Store    store.CheckoutStore
	Shipping pricing.ShippingPolicy
	Discount pricing.DiscountPolicy
	Now      func() time.Time
}

func NewOrchestrator(s store.CheckoutStore) *Orchestrator {
	return &Orchestrator{
		Store:    s,
		Shipping: pricing.ThresholdShipping{},
		Discount: pricing.CouponDiscount{},
		Now:      time.Now,
	}
}

func (o *Orchestrator) Checkout(ctx context.Context, in Input) (*domain.Order, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	orderID := in.OrderID
	if orderID == "" {
		orderID = domain.OrderID(uuid.NewString())
	}

	order, err := domain.NewOrder(orderID, in.CustomerName, in.CustomerEmail, o.Now().UTC())
	if err != nil {
		return nil, err
	}

	err = o.Store.WithinCheckout(ctx, func(tx store.CheckoutTx) error {
		if in.IdempotencyKey != "" {
			if err := tx.SaveIdempotencyKey(ctx, in.IdempotencyKey, order.ID); err != nil {
				return err
			}
		}

		// Блокируем товары в порядке возрастания id, чтобы два checkout-а с
		// общими товарами не встали в deadlock.
		snapshots := make([]decimal.Decimal, len(in.Lines))
		for _, i := range lockOrder(in.Lines) {
			price, err := tx.DecrementStock(ctx, in.Lines[i].ProductID, in.Lines[i].Quantity)
			if err != nil {
				return err
			}
			snapshots[i] = price
		}

		// Lines keep request order; only locking is reordered.
		for i, lr := range in.Lines {
			order.AddLine(domain.OrderLine{
				ProductID: lr.ProductID,
				Quantity:  lr.Quantity,
				Price:     snapshots[i],
			})
		}

		order.ApplyPricing(o.Shipping.Fee(order.Subtotal()), o.Discount.Discount(in.CouponCode))
		if err := order.MarkProcessing(); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func validate(in Input) error {
	if strings.TrimSpace(in.CustomerName) == "" || strings.TrimSpace(in.CustomerEmail) == "" {
		return domain.ErrInvalidInput
	}
	if len(in.Lines) == 0 {
		return domain.ErrInvalidInput
	}
	for _, l := range in.Lines {
		if strings.TrimSpace(string(l.ProductID)) == "" || l.Quantity <= 0 {
			return domain.ErrInvalidInput
		}
	}
	return nil
}

func lockOrder(lines []LineRequest) []int {
	idx := make([]int, len(lines))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return lines[idx[a]].ProductID < lines[idx[b]].ProductID
	})
	return idx
}
