package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobProgressIsMonotonic(t *testing.T) {
	now := time.Now().UTC()
	j := JobStatus{JobID: "job-1", State: JobStatePending}

	j.MarkRunning(10, now)
	assert.Equal(t, JobStateRunning, j.State)
	assert.Equal(t, 0, j.Processed)

	j.UpdateProgress(4, 10, now)
	assert.Equal(t, 4, j.Processed)

	// Stale checkpoint is ignored.
	j.UpdateProgress(2, 10, now)
	assert.Equal(t, 4, j.Processed)

	j.UpdateProgress(10, 10, now)
	assert.Equal(t, 10, j.Processed)
}

func TestJobTerminalStates(t *testing.T) {
	now := time.Now().UTC()
	j := JobStatus{JobID: "job-1"}
	j.MarkRunning(3, now)

	j.MarkCompleted(1, now)
	assert.Equal(t, JobStateCompleted, j.State)
	assert.Equal(t, 1, j.Failures)
	assert.True(t, j.State.Terminal())

	k := JobStatus{JobID: "job-2"}
	k.MarkRunning(3, now)
	k.MarkFailed(2, now)
	assert.Equal(t, JobStateFailed, k.State)
	assert.Equal(t, 2, k.Failures)
	assert.True(t, k.State.Terminal())

	assert.False(t, JobStatePending.Terminal())
	assert.False(t, JobStateRunning.Terminal())
}
