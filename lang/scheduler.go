package lang

import (
	"sync"
	"time"
)

// Scheduler coalesces repeated requests for the same key into a single
// delayed call. Caches use it to flush to disk after a burst of writes.
type Scheduler interface {
	// Debounce (re)arms key so fn runs once, delay after the last call.
	Debounce(key string, delay time.Duration, fn func())
	// Flush runs every pending call now.
	Flush()
	// Stop drops every pending call.
	Stop()
}

// TimerScheduler is the Scheduler backed by time.AfterFunc.
type TimerScheduler struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
}

type pendingCall struct {
	timer *time.Timer
	fn    func()
}

// NewTimerScheduler returns an empty scheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{pending: make(map[string]*pendingCall)}
}

func (s *TimerScheduler) Debounce(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
	}
	p := &pendingCall{fn: fn}
	p.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		current, ok := s.pending[key]
		if ok && current == p {
			delete(s.pending, key)
		}
		s.mu.Unlock()
		if ok && current == p {
			fn()
		}
	})
	s.pending[key] = p
}

func (s *TimerScheduler) Flush() {
	s.mu.Lock()
	calls := make([]func(), 0, len(s.pending))
	for key, p := range s.pending {
		if p.timer.Stop() {
			calls = append(calls, p.fn)
		}
		delete(s.pending, key)
	}
	s.mu.Unlock()

	for _, fn := range calls {
		fn()
	}
}

func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, key)
	}
}

// ImmediateScheduler runs every call synchronously. Used by tests and by
// short-lived processes that have nothing to coalesce.
type ImmediateScheduler struct{}

func (ImmediateScheduler) Debounce(_ string, _ time.Duration, fn func()) { fn() }
func (ImmediateScheduler) Flush()                                         {}
func (ImmediateScheduler) Stop()                                          {}
