// Package timer provides a keyed, cancellable timer scheduler. Typing TTLs,
// presence debounces, reconnect backoff, and the local typing-idle timeout
// all run through one scheduler so teardown is a single Close call.
package timer

import (
	"sync"
	"time"
)

// Scheduler owns a set of named timers. Scheduling under an existing key
// replaces (refreshes) the previous timer.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
	}
}

// Schedule runs fn after d, replacing any timer already registered under key.
// fn runs on a timer goroutine. No-op after Close.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.timers[key] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
}

// Cancel stops the timer registered under key, if any. Reports whether a
// pending timer was cancelled before firing.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[key]
	if !ok {
		return false
	}
	delete(s.timers, key)
	return t.Stop()
}

// Pending reports whether a timer is registered under key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Close cancels every outstanding timer and rejects further scheduling.
// Safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.closed = true
}
