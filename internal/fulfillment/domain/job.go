package domain

import "time"

type JobID string

type JobState string

const (
	JobStatePending   JobState = "PENDING"
	JobStateRunning   JobState = "RUNNING"
	JobStateCompleted JobState = "COMPLETED"
	JobStateFailed    JobState = "FAILED"
)

func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// JobStatus is the durable progress record of one batch run. Failures counts
// items that were attempted and recorded as failed; a COMPLETED job with
// Failures > 0 finished the whole pass but not every item succeeded.
type JobStatus struct {
	JobID     JobID
	State     JobState
	Processed int
	Total     int
	Failures  int
	UpdatedAt time.Time
}

func (j *JobStatus) MarkRunning(total int, at time.Time) {
	j.State = JobStateRunning
	j.Processed = 0
	j.Total = total
	j.Failures = 0
	j.UpdatedAt = at
}

// UpdateProgress ignores checkpoints that would move Processed backwards.
func (j *JobStatus) UpdateProgress(processed, total int, at time.Time) {
	if processed < j.Processed {
		return
	}
	j.Processed = processed
	j.Total = total
	j.UpdatedAt = at
}

func (j *JobStatus) MarkCompleted(failures int, at time.Time) {
	j.State = JobStateCompleted
	j.Failures = failures
	j.UpdatedAt = at
}

func (j *JobStatus) MarkFailed(failures int, at time.Time) {
	j.State = JobStateFailed
	j.Failures = failures
	j.UpdatedAt = at
}
