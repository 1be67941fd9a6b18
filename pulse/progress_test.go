package pulse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/nlu/errors"
)

type recordingEmitter struct {
	events []string
}

func (r *recordingEmitter) EmitStage(jobID, stage string) { r.events = append(r.events, "stage:"+stage) }
func (r *recordingEmitter) EmitProgress(jobID string, p float64) {
	r.events = append(r.events, "progress")
}
func (r *recordingEmitter) EmitComplete(jobID string, summary map[string]interface{}) {
	r.events = append(r.events, "complete")
}
func (r *recordingEmitter) EmitError(jobID string, err error) { r.events = append(r.events, "error") }

func TestMultiEmitter(t *testing.T) {
	a, b := &recordingEmitter{}, &recordingEmitter{}
	m := MultiEmitter{a, NopEmitter{}, b}

	m.EmitStage("train-1", "training")
	m.EmitProgress("train-1", 0.5)
	m.EmitComplete("train-1", nil)
	m.EmitError("train-1", errors.New("boom"))

	want := []string{"stage:training", "progress", "complete", "error"}
	assert.Equal(t, want, a.events)
	assert.Equal(t, want, b.events)
}

func TestLogEmitter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := LogEmitter{Logger: zap.New(core).Sugar()}

	e.EmitStage("train-1", "spawning worker")
	e.EmitProgress("train-1", 0.25)
	e.EmitComplete("train-1", map[string]interface{}{"contexts": 2})
	e.EmitError("train-1", errors.New("boom"))

	entries := logs.All()
	assert.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, int64(2), entries[2].ContextMap()["contexts"])
	assert.Equal(t, zapcore.WarnLevel, entries[3].Level)
	assert.Equal(t, "train-1", entries[3].ContextMap()["job_id"])
}
