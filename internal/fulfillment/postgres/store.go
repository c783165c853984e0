package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/domain"
	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/store"
	"github.com/nazeru/order-fulfillment-go/pkg/contracts"
	"github.com/nazeru/order-fulfillment-go/pkg/outbox"
)

// Store implements the fulfillment storage contracts on Postgres.
//
// A checkout runs inside a single pgx transaction; the conditional stock
// UPDATE takes the row lock, so concurrent checkouts for the same product
// serialize on the counter and the insufficient-stock check cannot race.
//
// Job writes deliberately bypass any transaction and go straight to the pool:
// each start/checkpoint/finish call commits on its own, which is what makes
// progress visible to other readers while a run is still going.
type Store struct {
	Pool  *pgxpool.Pool
	Topic string
}

func NewStore(pool *pgxpool.Pool, topic string) *Store {
	return &Store{Pool: pool, Topic: topic}
}

type checkoutTx struct {
	tx    pgx.Tx
	topic string
}

func (s *Store) WithinCheckout(ctx context.Context, fn func(tx store.CheckoutTx) error) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&checkoutTx{tx: tx, topic: s.Topic}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (t *checkoutTx) DecrementStock(ctx context.Context, id domain.ProductID, quantity int32) (decimal.Decimal, error) {
	if quantity <= 0 {
		return decimal.Zero, domain.ErrInvalidInput
	}

	var priceStr string
	err := t.tx.QueryRow(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = now()
		 WHERE id = $1 AND stock >= $2
		 RETURNING price::text`, string(id), quantity).Scan(&priceStr)
	if errors.Is(err, pgx.ErrNoRows) {
		// Row missing or not enough stock; tell the two apart.
		var stock int32
		err := t.tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1`, string(id)).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, &domain.ProductNotFoundError{ProductID: id}
		}
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.Zero, &domain.InsufficientStockError{ProductID: id}
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(priceStr)
}

func (t *checkoutTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO orders(id, customer_name, customer_email, status, total, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		string(order.ID), order.CustomerName, order.CustomerEmail,
		string(order.Status), order.Total.String(), order.CreatedAt)
	if err != nil {
		return err
	}

	for i, line := range order.Lines {
		_, err = t.tx.Exec(ctx,
			`INSERT INTO order_lines(order_id, line_no, product_id, quantity, price_snapshot)
			 VALUES ($1, $2, $3, $4, $5)`,
			string(order.ID), i+1, string(line.ProductID), line.Quantity, line.Price.String())
		if err != nil {
			return err
		}
	}

	// Событие уходит в outbox той же транзакцией, что и сам заказ.
	return outbox.InsertEvent(ctx, t.tx, t.topic, contracts.Event{
		EventID:   string(order.ID) + ":created",
		OrderID:   string(order.ID),
		CreatedAt: order.CreatedAt,
		Type:      contracts.EventOrderCreated,
		Payload: map[string]any{
			"total":  order.Total.String(),
			"status": string(order.Status),
			"lines":  len(order.Lines),
		},
	})
}

func (t *checkoutTx) SaveIdempotencyKey(ctx context.Context, key string, orderID domain.OrderID) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO order_idempotency(idempotency_key, order_id) VALUES ($1, $2)`,
		key, string(orderID))
	if isUniqueViolation(err) {
		return domain.ErrIdempotencyConflict
	}
	return err
}

func (s *Store) OrderIDByIdempotencyKey(ctx context.Context, key string) (domain.OrderID, error) {
	var orderID string
	err := s.Pool.QueryRow(ctx,
		`SELECT order_id FROM order_idempotency WHERE idempotency_key = $1`, key).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrOrderNotFound
	}
	if err != nil {
		return "", err
	}
	return domain.OrderID(orderID), nil
}

func (s *Store) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, name, category, price::text, stock, created_at, updated_at
		 FROM products WHERE id = $1`, string(id))
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ProductNotFoundError{ProductID: id}
	}
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, name, category, price::text, stock, created_at, updated_at
		 FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var (
		p        domain.Product
		id       string
		priceStr string
	)
	if err := row.Scan(&id, &p.Name, &p.Category, &priceStr, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return nil, err
	}
	p.ID = domain.ProductID(id)
	p.Price = price
	return &p, nil
}

func (s *Store) GetOrder(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, customer_name, customer_email, status, total::text, created_at, updated_at
		 FROM orders WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.Pool.Query(ctx,
		`SELECT product_id, quantity, price_snapshot::text
		 FROM order_lines WHERE order_id = $1 ORDER BY line_no`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pid      string
			qty      int32
			priceStr string
		)
		if err := rows.Scan(&pid, &qty, &priceStr); err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, domain.OrderLine{
			ProductID: domain.ProductID(pid),
			Quantity:  qty,
			Price:     price,
		})
	}
	return o, rows.Err()
}

func (s *Store) ListOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, customer_name, customer_email, status, total::text, created_at, updated_at
		 FROM orders ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o        domain.Order
		id       string
		status   string
		totalStr string
	)
	if err := row.Scan(&id, &o.CustomerName, &o.CustomerEmail, &status, &totalStr, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	total, err := decimal.NewFromString(totalStr)
	if err != nil {
		return nil, err
	}
	o.ID = domain.OrderID(id)
	o.Status = domain.OrderStatus(status)
	o.Total = total
	return &o, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id domain.OrderID, status domain.OrderStatus) error {
	if !status.Valid() {
		return domain.ErrInvalidInput
	}
	tag, err := s.Pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now()
		 WHERE id = $1 AND status NOT IN ($3, $4)`,
		string(id), string(status),
		string(domain.OrderStatusCancelled), string(domain.OrderStatusDelivered))
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.Pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, string(id)).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	return &domain.InvalidTransitionError{From: domain.OrderStatus(current), To: status}
}

// Job writes below commit one by one on the pool, never inside a caller's
// transaction.

func (s *Store) StartJob(ctx context.Context, id domain.JobID, total int) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO jobs(job_id, state, processed, total, failures)
		 VALUES ($1, $2, 0, $3, 0)
		 ON CONFLICT (job_id) DO UPDATE
		 SET state = EXCLUDED.state, processed = 0, total = EXCLUDED.total,
		     failures = 0, updated_at = now()`,
		string(id), string(domain.JobStateRunning), total)
	return err
}

// CheckpointJob creates the job row on its first checkpoint. GREATEST keeps
// processed monotonic: a stale lower checkpoint is ignored.
func (s *Store) CheckpointJob(ctx context.Context, id domain.JobID, processed, total int) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO jobs(job_id, state, processed, total, failures)
		 VALUES ($1, $2, $3, $4, 0)
		 ON CONFLICT (job_id) DO UPDATE
		 SET processed = GREATEST(jobs.processed, EXCLUDED.processed),
		     total = EXCLUDED.total, updated_at = now()
		 WHERE jobs.state = $2`,
		string(id), string(domain.JobStateRunning), processed, total)
	return err
}

func (s *Store) CompleteJob(ctx context.Context, id domain.JobID, failures int) error {
	return s.finishJob(ctx, id, domain.JobStateCompleted, failures)
}

func (s *Store) FailJob(ctx context.Context, id domain.JobID, failures int) error {
	return s.finishJob(ctx, id, domain.JobStateFailed, failures)
}

func (s *Store) finishJob(ctx context.Context, id domain.JobID, state domain.JobState, failures int) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET state = $2, failures = $3, updated_at = now() WHERE job_id = $1`,
		string(id), string(state), failures)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id domain.JobID) (*domain.JobStatus, error) {
	var (
		j     domain.JobStatus
		jobID string
		state string
	)
	err := s.Pool.QueryRow(ctx,
		`SELECT job_id, state, processed, total, failures, updated_at
		 FROM jobs WHERE job_id = $1`, string(id)).
		Scan(&jobID, &state, &j.Processed, &j.Total, &j.Failures, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	j.JobID = domain.JobID(jobID)
	j.State = domain.JobState(state)
	return &j, nil
}

// FailStuckJobs is the watchdog sweep: any job still RUNNING whose last
// checkpoint is older than maxAge is marked FAILED.
func (s *Store) FailStuckJobs(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE jobs SET state = $1, updated_at = now()
		 WHERE state = $2 AND updated_at < now() - make_interval(secs => $3)`,
		string(domain.JobStateFailed), string(domain.JobStateRunning), maxAge.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
