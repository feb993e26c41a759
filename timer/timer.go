/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package timer implements the scheduled one-shot callback service used by
// the CBQ discipline's watchdog and delay timers. A Service hands out
// monotonic Tick values from a single reference point so
// that callers (CBQ's virtual-time accounting in particular) can compare
// "now" and "undertime" without touching the wall clock directly.
package timer

import (
	"sync"
	"time"
)

// Tick is a duration since a Service's epoch (its construction time). It is
// monotonic for the lifetime of the Service.
type Tick time.Duration

// Handle identifies a scheduled callback so it can be cancelled or rearmed.
type Handle uint64

// Service schedules one-shot callbacks keyed by Tick deadlines. Internally
// each scheduled callback is backed by a stdlib time.Timer; Service only
// adds the bookkeeping needed to cancel/rearm by Handle and to report a
// consistent Tick clock, letting the CBQ layer above this one keep an
// explicit {real, virt} split.
type Service struct {
	mu     sync.Mutex
	epoch  time.Time
	nextID Handle
	active map[Handle]*time.Timer
}

// NewService creates a Service whose epoch is the current instant.
func NewService() *Service {
	return &Service{
		epoch:  time.Now(),
		active: make(map[Handle]*time.Timer),
	}
}

// Now returns the Tick elapsed since the Service's epoch.
func (s *Service) Now() Tick {
	return Tick(time.Since(s.epoch))
}

// Schedule arms cb to run after delay elapses. The callback runs on its own
// goroutine, as with time.AfterFunc; callers that mutate shared state (the
// CBQ class tree, a Qdisc's queue) must take the same locks they would from
// any other goroutine.
func (s *Service) Schedule(delay time.Duration, cb func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.active[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.active, id)
		s.mu.Unlock()
		cb()
	})
	return id
}

// ScheduleAt arms cb to run when the Service's clock reaches deadline.
func (s *Service) ScheduleAt(deadline Tick, cb func()) Handle {
	delay := time.Duration(deadline) - time.Since(s.epoch)
	if delay < 0 {
		delay = 0
	}
	return s.Schedule(delay, cb)
}

// Cancel stops a previously scheduled callback if it has not fired yet. It
// reports whether a pending timer was actually stopped.
func (s *Service) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.active[h]
	if !ok {
		return false
	}
	delete(s.active, h)
	return t.Stop()
}

// Rearm cancels h (if still pending) and schedules cb again after delay,
// returning the new Handle. This is the watchdog/delay-timer "rearm to
// nearest future deadline" pattern.
func (s *Service) Rearm(h Handle, delay time.Duration, cb func()) Handle {
	s.Cancel(h)
	return s.Schedule(delay, cb)
}

// Pending reports how many callbacks are currently armed.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
