package training

import (
	"time"
)

// JobStatus is the state of a training job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValidStatus returns true if s is a JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Done reports whether the job reached a final status.
func (s JobStatus) Done() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job records one training.
type Job struct {
	ID           string     `json:"id"` // The train id
	LanguageCode string     `json:"language_code"`
	WorkerID     string     `json:"worker_id,omitempty"`
	Status       JobStatus  `json:"status"`
	Progress     float64    `json:"progress"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func newJob(trainID, languageCode string) *Job {
	now := time.Now()
	return &Job{
		ID:           trainID,
		LanguageCode: languageCode,
		Status:       JobStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Start marks the job as running on worker
func (j *Job) Start(workerID string) {
	now := time.Now()
	j.Status = JobStatusRunning
	j.WorkerID = workerID
	j.StartedAt = &now
	j.UpdatedAt = now
}

// UpdateProgress records p. Progress never goes backwards.
func (j *Job) UpdateProgress(p float64) {
	if p > j.Progress {
		j.Progress = p
	}
	j.UpdatedAt = time.Now()
}

// Complete marks the job as completed
func (j *Job) Complete() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.Progress = 1
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as failed with an error message
func (j *Job) Fail(err error) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.Error = err.Error()
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Cancel marks the job as cancelled with a reason
func (j *Job) Cancel(reason string) {
	now := time.Now()
	j.Status = JobStatusCancelled
	j.Error = reason
	j.CompletedAt = &now
	j.UpdatedAt = now
}
