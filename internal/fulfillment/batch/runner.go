package batch

import (
	"context"

	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/domain"
	"github.com/nazeru/order-fulfillment-go/pkg/logging"
)

// TransitionFunc applies the per-item state change for one order.
type TransitionFunc func(ctx context.Context, id domain.OrderID) error

type ItemFailure struct {
	OrderID domain.OrderID
	Err     error
}

type Result struct {
	JobID     domain.JobID
	State     domain.JobState
	Attempted int
	Failures  []ItemFailure
}

// Runner iterates order ids sequentially and checkpoints after every attempt.
//
// Default policy is continue-and-record: a failed item is logged, counted and
// the run moves on; the job finishes Completed with the failure tally on its
// record. With StopOnFailure the first failed item marks the job Failed and
// stops the run. Either way no item failure is ever swallowed.
type Runner struct {
	Tracker       *Tracker
	Transition    TransitionFunc
	StopOnFailure bool
	Service       string
}

func NewRunner(tracker *Tracker, transition TransitionFunc) *Runner {
	return &Runner{Tracker: tracker, Transition: transition, Service: "batch-runner"}
}

func (r *Runner) Run(ctx context.Context, jobID domain.JobID, orderIDs []domain.OrderID) (*Result, error) {
	total := len(orderIDs)
	if err := r.Tracker.Start(ctx, jobID, total); err != nil {
		return nil, err
	}

	res := &Result{JobID: jobID}
	for i, orderID := range orderIDs {
		if err := ctx.Err(); err != nil {
			// Прогон прерван; фиксируем провал отдельной записью, которая
			// переживёт отмену контекста.
			_ = r.Tracker.Fail(context.WithoutCancel(ctx), jobID, len(res.Failures))
			res.State = domain.JobStateFailed
			return res, err
		}

		if err := r.Transition(ctx, orderID); err != nil {
			res.Failures = append(res.Failures, ItemFailure{OrderID: orderID, Err: err})
			logging.Log(logging.Fields{
				Service: r.Service,
				JobID:   string(jobID),
				OrderID: string(orderID),
				Step:    "transition",
				Status:  "item_failed",
				Message: err.Error(),
			})
			if r.StopOnFailure {
				res.Attempted = i + 1
				r.checkpoint(ctx, jobID, res.Attempted, total)
				if err := r.Tracker.Fail(ctx, jobID, len(res.Failures)); err != nil {
					return res, err
				}
				res.State = domain.JobStateFailed
				return res, nil
			}
		}
		res.Attempted = i + 1
		r.checkpoint(ctx, jobID, res.Attempted, total)
	}

	if err := r.Tracker.Complete(ctx, jobID, len(res.Failures)); err != nil {
		return res, err
	}
	res.State = domain.JobStateCompleted
	logging.Log(logging.Fields{
		Service:  r.Service,
		JobID:    string(jobID),
		Step:     "run",
		Status:   "completed",
		Failures: len(res.Failures),
	})
	return res, nil
}

// checkpoint is best-effort: a failed progress write must not kill the run,
// the next checkpoint covers for it.
func (r *Runner) checkpoint(ctx context.Context, jobID domain.JobID, processed, total int) {
	if err := r.Tracker.Checkpoint(ctx, jobID, processed, total); err != nil {
		logging.Log(logging.Fields{
			Service: r.Service,
			JobID:   string(jobID),
			Step:    "checkpoint",
			Status:  "error",
			Message: err.Error(),
		})
	}
}
