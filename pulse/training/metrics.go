package training

import (
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Metrics describes the worker pool and the host's memory.
type Metrics struct {
	WorkersReady  int     `json:"workers_ready"`
	WorkersBusy   int     `json:"workers_busy"`
	JobsQueued    int     `json:"jobs_queued"`
	JobsRunning   int     `json:"jobs_running"`
	WorkersRSSMB  float64 `json:"workers_rss_mb"` // Resident memory of worker processes
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Metrics returns current worker pool and memory usage. Memory figures
// stay zero when the platform does not expose them.
func (q *Queue) Metrics() Metrics {
	q.mu.Lock()
	m := Metrics{WorkersReady: len(q.ready)}
	var workers []Worker
	workers = append(workers, q.ready...)
	for _, s := range q.active {
		if s.worker != nil {
			m.WorkersBusy++
			workers = append(workers, s.worker)
		}
	}
	for _, j := range q.jobs {
		switch j.Status {
		case JobStatusQueued:
			m.JobsQueued++
		case JobStatusRunning:
			m.JobsRunning++
		}
	}
	q.mu.Unlock()

	for _, w := range workers {
		m.WorkersRSSMB += processRSSMB(w.PID())
	}

	if v, err := mem.VirtualMemory(); err == nil && v.Total > 0 {
		m.MemoryTotalGB = float64(v.Total) / 1024 / 1024 / 1024
		m.MemoryUsedGB = float64(v.Total-v.Available) / 1024 / 1024 / 1024
		m.MemoryPercent = m.MemoryUsedGB / m.MemoryTotalGB * 100
	}
	return m
}

func processRSSMB(pid int) float64 {
	if pid <= 0 {
		return 0
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	info, err := p.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return float64(info.RSS) / 1024 / 1024
}
