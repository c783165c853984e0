package batch

import (
	"context"

	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/domain"
	"github.com/nazeru/order-fulfillment-go/internal/fulfillment/store"
)

// Tracker is the durable progress state machine of a batch run:
// Pending -> Running -> Completed | Failed. Every write goes through a
// JobStore whose commits are independent of the caller's own work, so a
// concurrent reader polling the job sees true progress mid-run even if the
// run later aborts.
type Tracker struct {
	Jobs store.JobStore
}

func NewTracker(jobs store.JobStore) *Tracker {
	return &Tracker{Jobs: jobs}
}

func (t *Tracker) Start(ctx context.Context, jobID domain.JobID, total int) error {
	return t.Jobs.StartJob(ctx, jobID, total)
}

func (t *Tracker) Checkpoint(ctx context.Context, jobID domain.JobID, processed, total int) error {
	return t.Jobs.CheckpointJob(ctx, jobID, processed, total)
}

func (t *Tracker) Complete(ctx context.Context, jobID domain.JobID, failures int) error {
	return t.Jobs.CompleteJob(ctx, jobID, failures)
}

func (t *Tracker) Fail(ctx context.Context, jobID domain.JobID, failures int) error {
	return t.Jobs.FailJob(ctx, jobID, failures)
}

func (t *Tracker) Status(ctx context.Context, jobID domain.JobID) (*domain.JobStatus, error) {
	return t.Jobs.GetJob(ctx, jobID)
}
