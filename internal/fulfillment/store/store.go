package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/domain"
)

// CheckoutTx is the unit of work a single checkout runs inside. Every
// decrement and the order insert commit together or not at all.
type CheckoutTx interface {
	// DecrementStock reduces stock if sufficient and returns the product's
	// current price as the line snapshot. Fails with ProductNotFoundError or
	// InsufficientStockError without touching the counter.
	DecrementStock(ctx context.Context, id domain.ProductID, quantity int32) (decimal.Decimal, error)
	InsertOrder(ctx context.Context, order *domain.Order) error
	// SaveIdempotencyKey records the key -> order mapping inside the same
	// unit of work. A concurrent checkout that already claimed the key makes
	// the whole unit fail with ErrIdempotencyConflict.
	SaveIdempotencyKey(ctx context.Context, key string, orderID domain.OrderID) error
}

type CheckoutStore interface {
	WithinCheckout(ctx context.Context, fn func(tx CheckoutTx) error) error
}

type OrderStore interface {
	GetOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error)
	ListOrders(ctx context.Context) ([]domain.Order, error)
	// UpdateOrderStatus rejects transitions out of a terminal status with
	// InvalidTransitionError.
	UpdateOrderStatus(ctx context.Context, id domain.OrderID, status domain.OrderStatus) error
}

// JobStore writes commit independently of any surrounding batch work: a
// checkpoint stays durable and visible to concurrent readers even if the run
// that wrote it later fails. Checkpoints never move Processed backwards;
// lower values are ignored.
type JobStore interface {
	StartJob(ctx context.Context, id domain.JobID, total int) error
	CheckpointJob(ctx context.Context, id domain.JobID, processed, total int) error
	CompleteJob(ctx context.Context, id domain.JobID, failures int) error
	FailJob(ctx context.Context, id domain.JobID, failures int) error
	GetJob(ctx context.Context, id domain.JobID) (*domain.JobStatus, error)
}

type ProductStore interface {
	GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}
