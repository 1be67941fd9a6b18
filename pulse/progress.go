// Package pulse holds what long-running jobs report while they run.
package pulse

import (
	"go.uber.org/zap"
)

// ProgressEmitter receives the lifecycle of long-running jobs such as
// trainings. Implementations must be safe for concurrent use.
type ProgressEmitter interface {
	// EmitStage announces the start of a stage of job
	EmitStage(jobID, stage string)

	// EmitProgress reports a progress in [0, 1]
	EmitProgress(jobID string, progress float64)

	// EmitComplete announces successful completion with a summary
	EmitComplete(jobID string, summary map[string]interface{})

	// EmitError announces the failure of job
	EmitError(jobID string, err error)
}

// NopEmitter drops everything.
type NopEmitter struct{}

func (NopEmitter) EmitStage(string, string)                    {}
func (NopEmitter) EmitProgress(string, float64)                {}
func (NopEmitter) EmitComplete(string, map[string]interface{}) {}
func (NopEmitter) EmitError(string, error)                     {}

// LogEmitter writes job lifecycle events to a logger. Progress is logged
// at debug level.
type LogEmitter struct {
	Logger *zap.SugaredLogger
}

func (e LogEmitter) EmitStage(jobID, stage string) {
	e.Logger.Infow("Job stage", "job_id", jobID, "stage", stage)
}

func (e LogEmitter) EmitProgress(jobID string, progress float64) {
	e.Logger.Debugw("Job progress", "job_id", jobID, "progress", progress)
}

func (e LogEmitter) EmitComplete(jobID string, summary map[string]interface{}) {
	kv := []interface{}{"job_id", jobID}
	for k, v := range summary {
		kv = append(kv, k, v)
	}
	e.Logger.Infow("Job complete", kv...)
}

func (e LogEmitter) EmitError(jobID string, err error) {
	e.Logger.Warnw("Job failed", "job_id", jobID, "error", err)
}

// MultiEmitter fans events out to several emitters.
type MultiEmitter []ProgressEmitter

func (m MultiEmitter) EmitStage(jobID, stage string) {
	for _, e := range m {
		e.EmitStage(jobID, stage)
	}
}

func (m MultiEmitter) EmitProgress(jobID string, progress float64) {
	for _, e := range m {
		e.EmitProgress(jobID, progress)
	}
}

func (m MultiEmitter) EmitComplete(jobID string, summary map[string]interface{}) {
	for _, e := range m {
		e.EmitComplete(jobID, summary)
	}
}

func (m MultiEmitter) EmitError(jobID string, err error) {
	for _, e := range m {
		e.EmitError(jobID, err)
	}
}
