package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/domain"
	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/store"
)

// Store keeps everything behind one mutex. Checkouts stage their decrements
// and apply them only when the whole unit of work succeeds, so the
// all-or-nothing contract holds without a real transaction log.
type Store struct {
	mu       sync.Mutex
	products map[domain.ProductID]*domain.Product
	orders   map[domain.OrderID]*domain.Order
	orderIDs []domain.OrderID
	jobs     map[domain.JobID]*domain.JobStatus
	idem     map[string]domain.OrderID
}

func NewStore() *Store {
	return &Store{
		products: make(map[domain.ProductID]*domain.Product),
		orders:   make(map[domain.OrderID]*domain.Order),
		jobs:     make(map[domain.JobID]*domain.JobStatus),
		idem:     make(map[string]domain.OrderID),
	}
}

func (s *Store) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.products[p.ID] = &cp
}

func (s *Store) PutOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putOrderLocked(&o)
}

func (s *Store) putOrderLocked(o *domain.Order) {
	cp := *o
	cp.Lines = append([]domain.OrderLine(nil), o.Lines...)
	if _, ok := s.orders[o.ID]; !ok {
		s.orderIDs = append(s.orderIDs, o.ID)
	}
	s.orders[o.ID] = &cp
}

type checkoutTx struct {
	store     *Store
	stock     map[domain.ProductID]int32
	order     *domain.Order
	idemKey   string
	idemOrder domain.OrderID
}

func (s *Store) WithinCheckout(ctx context.Context, fn func(tx store.CheckoutTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &checkoutTx{store: s, stock: make(map[domain.ProductID]int32)}
	if err := fn(tx); err != nil {
		return err
	}

	for id, left := range tx.stock {
		s.products[id].Stock = left
	}
	if tx.order != nil {
		s.putOrderLocked(tx.order)
	}
	if tx.idemKey != "" {
		s.idem[tx.idemKey] = tx.idemOrder
	}
	return nil
}

func (t *checkoutTx) DecrementStock(ctx context.Context, id domain.ProductID, quantity int32) (decimal.Decimal, error) {
	if quantity <= 0 {
		return decimal.Zero, domain.ErrInvalidInput
	}
	p, ok := t.store.products[id]
	if !ok {
		return decimal.Zero, &domain.ProductNotFoundError{ProductID: id}
	}
	left, staged := t.stock[id]
	if !staged {
		left = p.Stock
	}
	if left < quantity {
		return decimal.Zero, &domain.InsufficientStockError{ProductID: id}
	}
	t.stock[id] = left - quantity
	return p.Price, nil
}

func (t *checkoutTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	t.order = order
	return nil
}

func (t *checkoutTx) SaveIdempotencyKey(ctx context.Context, key string, orderID domain.OrderID) error {
	if _, ok := t.store.idem[key]; ok {
		return domain.ErrIdempotencyConflict
	}
	t.idemKey = key
	t.idemOrder = orderID
	return nil
}

func (s *Store) OrderIDByIdempotencyKey(ctx context.Context, key string) (domain.OrderID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.idem[key]
	if !ok {
		return "", domain.ErrOrderNotFound
	}
	return id, nil
}

func (s *Store) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, &domain.ProductNotFoundError{ProductID: id}
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, *p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *Store) GetOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	cp.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return &cp, nil
}

func (s *Store) ListOrders(ctx context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.orderIDs))
	for _, id := range s.orderIDs {
		o := s.orders[id]
		cp := *o
		cp.Lines = append([]domain.OrderLine(nil), o.Lines...)
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id domain.OrderID, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if err := o.TransitionTo(status); err != nil {
		return err
	}
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) StartJob(ctx context.Context, id domain.JobID, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		j = &domain.JobStatus{JobID: id, State: domain.JobStatePending}
		s.jobs[id] = j
	}
	j.MarkRunning(total, time.Now().UTC())
	return nil
}

// CheckpointJob creates the job on its first checkpoint and otherwise only
// advances progress while the job is still running.
func (s *Store) CheckpointJob(ctx context.Context, id domain.JobID, processed, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		j = &domain.JobStatus{JobID: id, State: domain.JobStatePending}
		j.MarkRunning(total, time.Now().UTC())
		s.jobs[id] = j
	}
	if j.State != domain.JobStateRunning {
		return nil
	}
	j.UpdateProgress(processed, total, time.Now().UTC())
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, id domain.JobID, failures int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	j.MarkCompleted(failures, time.Now().UTC())
	return nil
}

func (s *Store) FailJob(ctx context.Context, id domain.JobID, failures int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	j.MarkFailed(failures, time.Now().UTC())
	return nil
}

func (s *Store) GetJob(ctx context.Context, id domain.JobID) (*domain.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}
