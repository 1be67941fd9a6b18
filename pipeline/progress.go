package pipeline

import (
	"math"
	"sync"
	"time"

	"github.com/teranos/nlu/internal/util"
	"github.com/teranos/nlu/tools"
)

const (
	// nbSteps is the number of progress steps of a training run.
	nbSteps = 5

	progressDebounce = 75 * time.Millisecond
	progressMaxWait  = 750 * time.Millisecond
)

// progressReporter turns per-step progress into overall progress and
// forwards it at most every progressDebounce, or progressMaxWait while
// updates keep coming.
type progressReporter struct {
	mu         sync.Mutex
	cb         tools.ProgressFunc
	total      float64
	normalized float64

	pending   *float64
	timer     *time.Timer
	firstWait time.Time
}

func newProgressReporter(cb tools.ProgressFunc) *progressReporter {
	return &progressReporter{cb: cb}
}

// step reports the progress of the current step. A value of 1 closes it.
func (r *progressReporter) step(p float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total = math.Max(r.total, math.Floor(r.total)+util.Round(p, 2))
	scaled := math.Min(1, util.Round(r.total/nbSteps, 2))
	if scaled == r.normalized {
		return
	}
	r.normalized = scaled
	r.schedule(scaled)
}

func (r *progressReporter) schedule(v float64) {
	r.pending = &v
	now := time.Now()
	if r.timer == nil {
		r.firstWait = now
		r.timer = time.AfterFunc(progressDebounce, r.fire)
		return
	}
	if now.Sub(r.firstWait) >= progressMaxWait {
		r.timer.Stop()
		r.timer = nil
		r.emitLocked()
		return
	}
	r.timer.Reset(progressDebounce)
}

func (r *progressReporter) fire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timer = nil
	r.emitLocked()
}

func (r *progressReporter) emitLocked() {
	if r.pending == nil {
		return
	}
	v := *r.pending
	r.pending = nil
	r.emit(v)
}

func (r *progressReporter) emit(v float64) {
	if r.cb != nil {
		r.cb(v)
	}
}

// start reports 0 right away.
func (r *progressReporter) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(0)
}

// done flushes the pending value and reports completion.
func (r *progressReporter) done() {
	r.flush()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.normalized < 1 {
		r.normalized = 1
		r.emit(1)
	}
}

// flush forwards the pending value now.
func (r *progressReporter) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.emitLocked()
}

// sub returns a ProgressFunc for one of n parallel parts of the current
// step, reporting the mean of the parts.
func (r *progressReporter) sub(parts []float64, i int, mu *sync.Mutex) tools.ProgressFunc {
	return func(p float64) {
		mu.Lock()
		parts[i] = p
		mean := util.Mean(parts)
		mu.Unlock()
		r.step(mean)
	}
}
