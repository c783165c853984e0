package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/domain"
	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/memory"
)

func storeWithOrders(t *testing.T, ids ...domain.OrderID) *memory.Store {
	t.Helper()
	st := memory.NewStore()
	for _, id := range ids {
		order, err := domain.NewOrder(id, "Batch", "batch@example.com", time.Now().UTC())
		require.NoError(t, err)
		order.AddLine(domain.OrderLine{ProductID: "sku-1", Quantity: 1, Price: decimal.RequireFromString("10.00")})
		require.NoError(t, order.MarkProcessing())
		st.PutOrder(*order)
	}
	return st
}

func shipTransition(st *memory.Store) TransitionFunc {
	return func(ctx context.Context, id domain.OrderID) error {
		return st.UpdateOrderStatus(ctx, id, domain.OrderStatusShipped)
	}
}

func TestRunAllItemsSucceed(t *testing.T) {
	st := storeWithOrders(t, "o-1", "o-2", "o-3")
	runner := NewRunner(NewTracker(st), shipTransition(st))
	ctx := context.Background()

	res, err := runner.Run(ctx, "job-1", []domain.OrderID{"o-1", "o-2", "o-3"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, res.State)
	assert.Equal(t, 3, res.Attempted)
	assert.Empty(t, res.Failures)

	job, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, job.State)
	assert.Equal(t, 3, job.Processed)
	assert.Equal(t, 3, job.Total)
	assert.Equal(t, 0, job.Failures)

	for _, id := range []domain.OrderID{"o-1", "o-2", "o-3"} {
		order, err := st.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusShipped, order.Status)
	}
}

func TestRunContinuesAndRecordsFailures(t *testing.T) {
	// Order o-2 does not exist: the run finishes the whole pass and the job
	// record distinguishes "completed with failures" from a clean pass.
	st := storeWithOrders(t, "o-1", "o-3")
	runner := NewRunner(NewTracker(st), shipTransition(st))
	ctx := context.Background()

	res, err := runner.Run(ctx, "job-1", []domain.OrderID{"o-1", "o-2", "o-3"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, res.State)
	assert.Equal(t, 3, res.Attempted)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, domain.OrderID("o-2"), res.Failures[0].OrderID)
	assert.ErrorIs(t, res.Failures[0].Err, domain.ErrOrderNotFound)

	job, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, job.State)
	assert.Equal(t, 3, job.Processed)
	assert.Equal(t, 1, job.Failures)
}

func TestRunStopOnFailure(t *testing.T) {
	st := storeWithOrders(t, "o-1", "o-3")
	runner := NewRunner(NewTracker(st), shipTransition(st))
	runner.StopOnFailure = true
	ctx := context.Background()

	res, err := runner.Run(ctx, "job-1", []domain.OrderID{"o-1", "o-2", "o-3"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, res.State)
	assert.Equal(t, 2, res.Attempted)
	require.Len(t, res.Failures, 1)

	job, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, job.State)
	assert.Equal(t, 1, job.Failures)

	// o-3 was never attempted.
	order, err := st.GetOrder(ctx, "o-3")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusProcessing, order.Status)
}

func TestRunCancelledMidRunEndsFailed(t *testing.T) {
	st := storeWithOrders(t, "o-1", "o-2", "o-3")
	tracker := NewTracker(st)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	runner := NewRunner(tracker, func(ctx context.Context, id domain.OrderID) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return st.UpdateOrderStatus(ctx, id, domain.OrderStatusShipped)
	})

	res, err := runner.Run(ctx, "job-1", []domain.OrderID{"o-1", "o-2", "o-3"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.JobStateFailed, res.State)

	job, err := tracker.Status(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, job.State)
	assert.Equal(t, 2, job.Processed, "checkpoints before cancellation survive")
}

func TestProgressVisibleAndMonotonicDuringRun(t *testing.T) {
	ids := make([]domain.OrderID, 20)
	for i := range ids {
		ids[i] = domain.OrderID(string(rune('a' + i)))
	}
	st := storeWithOrders(t, ids...)
	tracker := NewTracker(st)
	runner := NewRunner(tracker, func(ctx context.Context, id domain.OrderID) error {
		time.Sleep(time.Millisecond)
		return st.UpdateOrderStatus(ctx, id, domain.OrderStatusShipped)
	})

	done := make(chan struct{})
	var observed []int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			job, err := tracker.Status(context.Background(), "job-1")
			if err == nil {
				observed = append(observed, job.Processed)
			}
			time.Sleep(time.Millisecond / 2)
		}
	}()

	res, err := runner.Run(context.Background(), "job-1", ids)
	close(done)
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCompleted, res.State)

	last := 0
	sawMidRun := false
	for _, p := range observed {
		assert.GreaterOrEqual(t, p, last, "processed must never go backwards")
		if p > 0 && p < len(ids) {
			sawMidRun = true
		}
		last = p
	}
	assert.True(t, sawMidRun, "a concurrent reader saw progress before completion")
}

func TestTrackerFinishUnknownJob(t *testing.T) {
	st := memory.NewStore()
	tracker := NewTracker(st)
	ctx := context.Background()

	assert.ErrorIs(t, tracker.Complete(ctx, "nope", 0), domain.ErrJobNotFound)
	assert.ErrorIs(t, tracker.Fail(ctx, "nope", 0), domain.ErrJobNotFound)

	_, err := tracker.Status(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
