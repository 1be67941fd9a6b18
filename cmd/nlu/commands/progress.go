package commands

import (
	"sync"

	"github.com/pterm/pterm"

	"github.com/teranos/nlu/pulse"
)

const progressSteps = 100

// barEmitter draws the progress of a training as a terminal progress bar.
type barEmitter struct {
	mu   sync.Mutex
	bar  *pterm.ProgressbarPrinter
	done int
}

var _ pulse.ProgressEmitter = (*barEmitter)(nil)

func (e *barEmitter) EmitStage(jobID, stage string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if stage != "training" {
		pterm.Info.Printfln("%s: %s", jobID, stage)
		return
	}
	if e.bar != nil {
		return
	}
	bar, err := pterm.DefaultProgressbar.WithTotal(progressSteps).WithTitle("Training " + jobID).Start()
	if err != nil {
		pterm.Warning.Printfln("progress bar unavailable: %v", err)
		return
	}
	e.bar = bar
}

func (e *barEmitter) EmitProgress(jobID string, progress float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bar == nil {
		return
	}
	target := progressStep(progress)
	if target > e.done {
		e.bar.Add(target - e.done)
		e.done = target
	}
}

func (e *barEmitter) EmitComplete(jobID string, summary map[string]interface{}) {
	e.stop()
	pterm.Success.Printfln("Training %s done", jobID)
}

func (e *barEmitter) EmitError(jobID string, err error) {
	e.stop()
	pterm.Error.Printfln("Training %s failed: %v", jobID, err)
}

func (e *barEmitter) stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bar != nil {
		_, _ = e.bar.Stop()
		e.bar = nil
	}
}

// progressStep maps a progress in [0, 1] onto the bar.
func progressStep(progress float64) int {
	switch {
	case progress <= 0:
		return 0
	case progress >= 1:
		return progressSteps
	}
	return int(progress * progressSteps)
}
