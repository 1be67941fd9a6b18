package training

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/nlu/errors"
)

func TestJobLifecycle(t *testing.T) {
	j := newJob("train-1", "en")
	assert.Equal(t, JobStatusQueued, j.Status)
	assert.False(t, j.Status.Done())
	assert.Nil(t, j.StartedAt)

	j.Start("worker-1")
	assert.Equal(t, JobStatusRunning, j.Status)
	assert.Equal(t, "worker-1", j.WorkerID)
	assert.NotNil(t, j.StartedAt)

	j.UpdateProgress(0.5)
	j.UpdateProgress(0.3)
	assert.Equal(t, 0.5, j.Progress)

	j.Complete()
	assert.Equal(t, JobStatusCompleted, j.Status)
	assert.Equal(t, 1.0, j.Progress)
	assert.True(t, j.Status.Done())
	assert.NotNil(t, j.CompletedAt)
}

func TestJobFailAndCancel(t *testing.T) {
	j := newJob("train-1", "en")
	j.Fail(errors.New("vectorize failed"))
	assert.Equal(t, JobStatusFailed, j.Status)
	assert.Equal(t, "vectorize failed", j.Error)

	j = newJob("train-2", "fr")
	j.Cancel("canceled")
	assert.Equal(t, JobStatusCancelled, j.Status)
	assert.True(t, j.Status.Done())
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range []string{"queued", "running", "completed", "failed", "cancelled"} {
		assert.True(t, IsValidStatus(s), s)
	}
	assert.False(t, IsValidStatus("canceled"))
	assert.False(t, IsValidStatus(""))
}
